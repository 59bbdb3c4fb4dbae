// Package handlers holds the route handlers of the todo API. Handlers return
// errors instead of writing error responses; the server renders them.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/giygas/todo-api/apperrors"
	"github.com/giygas/todo-api/auth"
	"github.com/giygas/todo-api/validation"
)

// decodeJSON reads one JSON object into dst and validates it
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &maxErr):
			return apperrors.Validation("request body too large").WithStatus(http.StatusRequestEntityTooLarge)
		case errors.Is(err, io.EOF):
			return apperrors.Validation("request body is empty")
		case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
			return apperrors.Validation("request body is not valid JSON")
		case errors.As(err, &typeErr):
			return apperrors.Validation("field " + typeErr.Field + " has the wrong type")
		}
		return apperrors.Validation("invalid request body")
	}

	if dec.More() {
		return apperrors.Validation("request body must contain a single JSON object")
	}
	return validation.Default().Struct(dst)
}

func currentUser(r *http.Request) (uint, error) {
	id, ok := auth.UserID(r.Context())
	if !ok {
		return 0, apperrors.InvalidToken(nil)
	}
	return id, nil
}

func idParam(r *http.Request) (uint, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 63)
	if err != nil || id == 0 {
		return 0, apperrors.Validation("invalid todo id")
	}
	return uint(id), nil
}
