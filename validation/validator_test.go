package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/giygas/todo-api/apperrors"
)

type sample struct {
	Email string  `json:"email" validate:"required,email"`
	Title string  `json:"title" validate:"required,min=1,max=10,safetext"`
	Notes *string `json:"notes,omitempty" validate:"omitempty,max=5"`
}

func TestStruct(t *testing.T) {
	long := "too long notes"
	tests := []struct {
		name    string
		in      sample
		wantMsg string
	}{
		{"valid", sample{Email: "a@example.com", Title: "milk"}, ""},
		{"missing email", sample{Title: "milk"}, "email is required"},
		{"bad email", sample{Email: "nope", Title: "milk"}, "email must be a valid email address"},
		{"missing title", sample{Email: "a@example.com"}, "title is required"},
		{"long title", sample{Email: "a@example.com", Title: strings.Repeat("x", 11)}, "title must be at most 10 characters"},
		{"markup", sample{Email: "a@example.com", Title: "<SCRIPT>"}, "title contains disallowed markup"},
		{"long notes", sample{Email: "a@example.com", Title: "milk", Notes: &long}, "notes must be at most 5 characters"},
	}

	v := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(tt.in)
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			appErr, ok := apperrors.As(err)
			if assert.True(t, ok) {
				assert.Equal(t, apperrors.KindValidation, appErr.Kind)
				assert.Equal(t, tt.wantMsg, appErr.Message)
			}
		})
	}
}

func TestDefaultIsShared(t *testing.T) {
	assert.Same(t, Default(), Default())
}
