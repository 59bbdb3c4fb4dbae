package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/giygas/todo-api/apperrors"
	"github.com/giygas/todo-api/auth"
	"github.com/giygas/todo-api/logging"
	"github.com/giygas/todo-api/respond"
	"github.com/giygas/todo-api/store"
)

// UserStore is the persistence the auth handlers need
type UserStore interface {
	CreateUser(ctx context.Context, u *store.User) error
	UserByEmail(ctx context.Context, email string) (*store.User, error)
}

// TokenIssuer signs tokens for a user id
type TokenIssuer interface {
	Issue(userID uint) (string, time.Time, error)
}

type AuthHandler struct {
	users  UserStore
	tokens TokenIssuer
}

func NewAuthHandler(users UserStore, tokens TokenIssuer) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens}
}

type credentials struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type userResponse struct {
	ID    uint   `json:"id"`
	Email string `json:"email"`
}

type tokenResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      userResponse `json:"user"`
}

// Register creates an account. A taken email surfaces as a unique constraint violation.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) error {
	var req credentials
	if err := decodeJSON(r, &req); err != nil {
		return err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return err
	}

	u := &store.User{Email: normalizeEmail(req.Email), PasswordHash: hash}
	if err := h.users.CreateUser(r.Context(), u); err != nil {
		return err
	}

	logging.Info("User registered", "user_id", u.ID)
	respond.JSON(w, r, http.StatusCreated, userResponse{ID: u.ID, Email: u.Email})
	return nil
}

// Login exchanges valid credentials for a bearer token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) error {
	var req credentials
	if err := decodeJSON(r, &req); err != nil {
		return err
	}

	u, err := h.users.UserByEmail(r.Context(), normalizeEmail(req.Email))
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			compareDummy(req.Password)
			return invalidCredentials()
		}
		return err
	}
	if !auth.CheckPassword(u.PasswordHash, req.Password) {
		return invalidCredentials()
	}

	token, expires, err := h.tokens.Issue(u.ID)
	if err != nil {
		return err
	}

	respond.JSON(w, r, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expires.UTC(),
		User:      userResponse{ID: u.ID, Email: u.Email},
	})
	return nil
}

// compareDummy is swapped in tests
var compareDummy = auth.CompareDummy

func invalidCredentials() error {
	return apperrors.Validation("Invalid email or password").WithStatus(http.StatusUnauthorized)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
