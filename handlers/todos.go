package handlers

import (
	"context"
	"net/http"

	"github.com/giygas/todo-api/apperrors"
	"github.com/giygas/todo-api/respond"
	"github.com/giygas/todo-api/store"
)

// TodoStore is the persistence the todo handlers need
type TodoStore interface {
	ListTodos(ctx context.Context, userID uint) ([]store.Todo, error)
	CreateTodo(ctx context.Context, t *store.Todo) error
	UpdateTodo(ctx context.Context, userID, id uint, upd store.TodoUpdate) (*store.Todo, error)
	DeleteTodo(ctx context.Context, userID, id uint) error
}

type TodoHandler struct {
	todos TodoStore
}

func NewTodoHandler(todos TodoStore) *TodoHandler {
	return &TodoHandler{todos: todos}
}

type createTodoRequest struct {
	Title       string `json:"title" validate:"required,max=200,safetext"`
	Description string `json:"description" validate:"max=2000,safetext"`
}

type updateTodoRequest struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=200,safetext"`
	Description *string `json:"description" validate:"omitempty,max=2000,safetext"`
	Completed   *bool   `json:"completed"`
}

// List returns the caller's todos
func (h *TodoHandler) List(w http.ResponseWriter, r *http.Request) error {
	userID, err := currentUser(r)
	if err != nil {
		return err
	}

	todos, err := h.todos.ListTodos(r.Context(), userID)
	if err != nil {
		return err
	}
	respond.JSON(w, r, http.StatusOK, todos)
	return nil
}

func (h *TodoHandler) Create(w http.ResponseWriter, r *http.Request) error {
	userID, err := currentUser(r)
	if err != nil {
		return err
	}

	var req createTodoRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}

	todo := &store.Todo{UserID: userID, Title: req.Title, Description: req.Description}
	if err := h.todos.CreateTodo(r.Context(), todo); err != nil {
		return err
	}
	respond.JSON(w, r, http.StatusCreated, todo)
	return nil
}

// Update applies the fields present in the body
func (h *TodoHandler) Update(w http.ResponseWriter, r *http.Request) error {
	userID, err := currentUser(r)
	if err != nil {
		return err
	}
	id, err := idParam(r)
	if err != nil {
		return err
	}

	var req updateTodoRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.Title == nil && req.Description == nil && req.Completed == nil {
		return apperrors.Validation("at least one of title, description or completed is required")
	}

	todo, err := h.todos.UpdateTodo(r.Context(), userID, id, store.TodoUpdate{
		Title:       req.Title,
		Description: req.Description,
		Completed:   req.Completed,
	})
	if err != nil {
		return err
	}
	respond.JSON(w, r, http.StatusOK, todo)
	return nil
}

func (h *TodoHandler) Delete(w http.ResponseWriter, r *http.Request) error {
	userID, err := currentUser(r)
	if err != nil {
		return err
	}
	id, err := idParam(r)
	if err != nil {
		return err
	}

	if err := h.todos.DeleteTodo(r.Context(), userID, id); err != nil {
		return err
	}
	respond.NoContent(w)
	return nil
}
