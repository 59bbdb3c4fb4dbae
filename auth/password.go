package auth

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/giygas/todo-api/apperrors"
)

// HashPassword bcrypt-hashes a plaintext password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", apperrors.Validation("password must be at most 72 bytes")
		}
		return "", apperrors.Internal("failed to hash password", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// CompareDummy spends the same bcrypt work as CheckPassword against a hash no
// password matches. Logins for unknown accounts call it so they take as long
// as a wrong password.
func CompareDummy(password string) {
	dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("todo-api-no-such-user"), bcrypt.DefaultCost)
		if err == nil {
			dummyHash = hash
		}
	})
	if dummyHash != nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
	}
}
