// Package validation checks decoded request bodies against their struct tags
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/giygas/todo-api/apperrors"
)

// markupPatterns are rejected by the "safetext" rule; matching is case-insensitive
var markupPatterns = []string{
	"<script", "</script>", "javascript:", "vbscript:", "onload=", "onerror=",
	"onclick=", "onmouseover=", "<iframe", "<object", "<embed",
}

var (
	defaultOnce sync.Once
	defaultV    *Validator
)

// Validator wraps go-playground/validator with json field names and the
// app's custom rules
type Validator struct {
	validate *validator.Validate
}

// Default returns the shared validator
func Default() *Validator {
	defaultOnce.Do(func() {
		defaultV = New()
	})
	return defaultV
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// registration only fails on an empty tag or nil func
	_ = v.RegisterValidation("safetext", safeText)
	return &Validator{validate: v}
}

func safeText(fl validator.FieldLevel) bool {
	lower := strings.ToLower(fl.Field().String())
	for _, p := range markupPatterns {
		if strings.Contains(lower, p) {
			return false
		}
	}
	return true
}

// Struct validates s and returns a Validation error naming the first failing field
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return apperrors.Validation(message(verrs[0]))
	}
	return apperrors.Internal("validation failed", err)
}

func message(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "safetext":
		return fmt.Sprintf("%s contains disallowed markup", field)
	}
	return fmt.Sprintf("%s is invalid", field)
}
