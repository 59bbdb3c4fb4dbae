package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giygas/todo-api/apperrors"
	"github.com/giygas/todo-api/auth"
	"github.com/giygas/todo-api/store"
)

// memStore is an in-memory UserStore + TodoStore
type memStore struct {
	mu     sync.Mutex
	users  map[string]*store.User
	todos  map[uint]*store.Todo
	nextID uint
}

func newMemStore() *memStore {
	return &memStore{users: map[string]*store.User{}, todos: map[uint]*store.Todo{}}
}

func (m *memStore) id() uint {
	m.nextID++
	return m.nextID
}

func (m *memStore) CreateUser(_ context.Context, u *store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[u.Email]; exists {
		return apperrors.UniqueConstraint(nil)
	}
	u.ID = m.id()
	m.users[u.Email] = u
	return nil
}

func (m *memStore) UserByEmail(_ context.Context, email string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return nil, apperrors.NotFound("user", nil)
	}
	return u, nil
}

func (m *memStore) ListTodos(_ context.Context, userID uint) ([]store.Todo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Todo{}
	for id := uint(1); id <= m.nextID; id++ {
		if t, ok := m.todos[id]; ok && t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memStore) CreateTodo(_ context.Context, t *store.Todo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.id()
	copied := *t
	m.todos[t.ID] = &copied
	return nil
}

func (m *memStore) UpdateTodo(_ context.Context, userID, id uint, upd store.TodoUpdate) (*store.Todo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.todos[id]
	if !ok || t.UserID != userID {
		return nil, apperrors.NotFound("todo", nil)
	}
	if upd.Title != nil {
		t.Title = *upd.Title
	}
	if upd.Description != nil {
		t.Description = *upd.Description
	}
	if upd.Completed != nil {
		t.Completed = *upd.Completed
	}
	copied := *t
	return &copied, nil
}

func (m *memStore) DeleteTodo(_ context.Context, userID, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.todos[id]
	if !ok || t.UserID != userID {
		return apperrors.NotFound("todo", nil)
	}
	delete(m.todos, id)
	return nil
}

type fakeIssuer struct{}

func (fakeIssuer) Issue(userID uint) (string, time.Time, error) {
	return "token-for-user", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), nil
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func call(t *testing.T, h handlerFunc, req *http.Request) (*httptest.ResponseRecorder, error) {
	t.Helper()
	rr := httptest.NewRecorder()
	return rr, h(rr, req)
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func asUser(req *http.Request, userID uint) *http.Request {
	return req.WithContext(auth.WithUserID(req.Context(), userID))
}

func withID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestRegisterAndLogin(t *testing.T) {
	s := newMemStore()
	h := NewAuthHandler(s, fakeIssuer{})

	rr, err := call(t, h.Register, jsonRequest(http.MethodPost, "/api/auth/register", `{"email":" Ada@Example.com ","password":"s3cret-pass"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.JSONEq(t, `{"id":1,"email":"ada@example.com"}`, rr.Body.String())

	rr, err = call(t, h.Login, jsonRequest(http.MethodPost, "/api/auth/login", `{"email":"ada@example.com","password":"s3cret-pass"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rr.Code)

	var body tokenResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "token-for-user", body.Token)
	assert.Equal(t, uint(1), body.User.ID)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	h := NewAuthHandler(newMemStore(), fakeIssuer{})
	body := `{"email":"ada@example.com","password":"s3cret-pass"}`

	_, err := call(t, h.Register, jsonRequest(http.MethodPost, "/", body))
	require.NoError(t, err)

	_, err = call(t, h.Register, jsonRequest(http.MethodPost, "/", body))
	assert.Equal(t, apperrors.KindUniqueConstraint, apperrors.KindOf(err))
}

func TestLoginFailures(t *testing.T) {
	s := newMemStore()
	h := NewAuthHandler(s, fakeIssuer{})
	_, err := call(t, h.Register, jsonRequest(http.MethodPost, "/", `{"email":"ada@example.com","password":"s3cret-pass"}`))
	require.NoError(t, err)

	for name, body := range map[string]string{
		"unknown user":   `{"email":"bob@example.com","password":"s3cret-pass"}`,
		"wrong password": `{"email":"ada@example.com","password":"wrong-pass"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := call(t, h.Login, jsonRequest(http.MethodPost, "/", body))
			c := apperrors.Classify(err, false)
			assert.Equal(t, http.StatusUnauthorized, c.Status)
			assert.Equal(t, "Invalid email or password", c.Message)
		})
	}
}

func TestLoginUnknownEmailSpendsBcrypt(t *testing.T) {
	calls := 0
	orig := compareDummy
	compareDummy = func(string) { calls++ }
	t.Cleanup(func() { compareDummy = orig })

	s := newMemStore()
	h := NewAuthHandler(s, fakeIssuer{})
	_, err := call(t, h.Register, jsonRequest(http.MethodPost, "/", `{"email":"ada@example.com","password":"s3cret-pass"}`))
	require.NoError(t, err)

	_, err = call(t, h.Login, jsonRequest(http.MethodPost, "/", `{"email":"bob@example.com","password":"s3cret-pass"}`))
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Equal(t, 1, calls)

	// a known email already pays for a real comparison
	_, err = call(t, h.Login, jsonRequest(http.MethodPost, "/", `{"email":"ada@example.com","password":"wrong-pass"}`))
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Equal(t, 1, calls)
}

func TestDecodeErrors(t *testing.T) {
	h := NewAuthHandler(newMemStore(), fakeIssuer{})

	tests := map[string]string{
		"empty":          ``,
		"malformed":      `{"email":`,
		"unknown field":  `{"email":"a@example.com","password":"s3cret-pass","admin":true}`,
		"wrong type":     `{"email":1,"password":"s3cret-pass"}`,
		"two objects":    `{"email":"a@example.com","password":"s3cret-pass"}{}`,
		"short password": `{"email":"a@example.com","password":"short"}`,
		"bad email":      `{"email":"not-an-email","password":"s3cret-pass"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := call(t, h.Register, jsonRequest(http.MethodPost, "/", body))
			assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
		})
	}
}

func TestTodoCRUD(t *testing.T) {
	s := newMemStore()
	h := NewTodoHandler(s)

	rr, err := call(t, h.Create, asUser(jsonRequest(http.MethodPost, "/api/todos", `{"title":"buy milk"}`), 7))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, rr.Code)

	var created store.Todo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "buy milk", created.Title)
	assert.Equal(t, uint(7), created.UserID)

	rr, err = call(t, h.List, asUser(httptest.NewRequest(http.MethodGet, "/api/todos", nil), 7))
	require.NoError(t, err)
	var list []store.Todo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	req := withID(asUser(jsonRequest(http.MethodPut, "/api/todos/1", `{"completed":true}`), 7), "1")
	rr, err = call(t, h.Update, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"completed":true`)

	rr, err = call(t, h.Delete, withID(asUser(httptest.NewRequest(http.MethodDelete, "/api/todos/1", nil), 7), "1"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestTodoErrors(t *testing.T) {
	s := newMemStore()
	h := NewTodoHandler(s)
	_, err := call(t, h.Create, asUser(jsonRequest(http.MethodPost, "/", `{"title":"mine"}`), 1))
	require.NoError(t, err)

	tests := []struct {
		name string
		h    handlerFunc
		req  *http.Request
		want apperrors.Kind
	}{
		{"no user", h.List, httptest.NewRequest(http.MethodGet, "/", nil), apperrors.KindInvalidToken},
		{"missing title", h.Create, asUser(jsonRequest(http.MethodPost, "/", `{"description":"x"}`), 1), apperrors.KindValidation},
		{"title too long", h.Create, asUser(jsonRequest(http.MethodPost, "/", `{"title":"`+strings.Repeat("x", 201)+`"}`), 1), apperrors.KindValidation},
		{"bad id", h.Update, withID(asUser(jsonRequest(http.MethodPut, "/", `{"completed":true}`), 1), "abc"), apperrors.KindValidation},
		{"id beyond bigint", h.Delete, withID(asUser(httptest.NewRequest(http.MethodDelete, "/", nil), 1), "9223372036854775808"), apperrors.KindValidation},
		{"largest bigint id", h.Delete, withID(asUser(httptest.NewRequest(http.MethodDelete, "/", nil), 1), "9223372036854775807"), apperrors.KindNotFound},
		{"empty update", h.Update, withID(asUser(jsonRequest(http.MethodPut, "/", `{}`), 1), "1"), apperrors.KindValidation},
		{"blank title update", h.Update, withID(asUser(jsonRequest(http.MethodPut, "/", `{"title":""}`), 1), "1"), apperrors.KindValidation},
		{"other user update", h.Update, withID(asUser(jsonRequest(http.MethodPut, "/", `{"completed":true}`), 2), "1"), apperrors.KindNotFound},
		{"other user delete", h.Delete, withID(asUser(httptest.NewRequest(http.MethodDelete, "/", nil), 2), "1"), apperrors.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, tt.h, tt.req)
			assert.Equal(t, tt.want, apperrors.KindOf(err))
		})
	}
}
