package server

import (
	"net/http"

	"github.com/giygas/todo-api/apperrors"
	"github.com/giygas/todo-api/logging"
	"github.com/giygas/todo-api/metrics"
	"github.com/giygas/todo-api/respond"
)

// HandlerFunc is a route handler that reports failure by returning an error
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// ErrorHandler is the single place errors become responses
type ErrorHandler struct {
	inst        *metrics.Instrumentation
	development bool
}

func NewErrorHandler(inst *metrics.Instrumentation, development bool) *ErrorHandler {
	return &ErrorHandler{inst: inst, development: development}
}

type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Wrap adapts h to http.Handler, sending any returned error to Handle
func (eh *ErrorHandler) Wrap(h HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			eh.Handle(w, r, err)
		}
	})
}

// Handle classifies err, counts and logs it, and writes the JSON error body
func (eh *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	c := apperrors.Classify(err, eh.development)
	route := eh.inst.Route(r)
	eh.inst.CountError(c.Kind.String(), route)

	attrs := []any{
		"path", logging.Sanitize(r.URL.Path, 256),
		"route", route,
		"method", r.Method,
		"client", metrics.ClientKey(r),
		"kind", c.Kind.String(),
		"status", c.Status,
		"detail", logging.Sanitize(err.Error(), 0),
	}
	if c.Kind == apperrors.KindInternal && eh.development {
		if appErr, ok := apperrors.As(err); ok && appErr.Stack != "" {
			attrs = append(attrs, "stack", appErr.Stack)
		}
	}

	if c.Status >= http.StatusInternalServerError {
		logging.Error("Request failed", attrs...)
	} else {
		logging.Info("Request rejected", attrs...)
	}

	respond.JSON(w, r, c.Status, errorBody{
		Status:  "error",
		Message: c.Message,
		Stack:   c.Stack,
	})
}

func notFoundRoute() error {
	return apperrors.NotFound("route", nil)
}

func methodNotAllowed(r *http.Request) error {
	return apperrors.Validation("Method " + r.Method + " not allowed").WithStatus(http.StatusMethodNotAllowed)
}
