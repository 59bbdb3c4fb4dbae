// Package apperrors defines the closed set of failure kinds the API can surface.
// Collaborators (store, auth, handlers) produce an *Error at the point of failure;
// the server's error handler is the only place that turns one into a response.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Kind enumerates every error shape the classifier understands
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUniqueConstraint
	KindNotFound
	KindInvalidToken
	KindExpiredToken
	KindRateLimited
	KindDependencyUnavailable
)

var kindNames = [...]string{
	KindInternal:              "internal",
	KindValidation:            "validation",
	KindUniqueConstraint:      "unique_constraint",
	KindNotFound:              "not_found",
	KindInvalidToken:          "invalid_token",
	KindExpiredToken:          "expired_token",
	KindRateLimited:           "rate_limited",
	KindDependencyUnavailable: "dependency_unavailable",
}

// String returns the metric label value for the kind
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindInternal]
	}
	return kindNames[k]
}

// Kinds returns every kind, in declaration order
func Kinds() []Kind {
	return []Kind{
		KindInternal,
		KindValidation,
		KindUniqueConstraint,
		KindNotFound,
		KindInvalidToken,
		KindExpiredToken,
		KindRateLimited,
		KindDependencyUnavailable,
	}
}

// Error is the tagged error value passed from collaborators to the classifier
type Error struct {
	Kind    Kind
	Message string
	// Status is the declared HTTP status; zero means "use the kind's default"
	Status int
	Cause  error
	Stack  string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithStatus overrides the declared HTTP status
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   cause,
		Stack:   captureStack(),
	}
}

// captureStack records the caller frames of the constructor's caller
func captureStack() string {
	var pcs [32]uintptr
	n := runtime.Callers(4, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return b.String()
}

func Validation(message string) *Error {
	return newError(KindValidation, message, nil)
}

func UniqueConstraint(cause error) *Error {
	return newError(KindUniqueConstraint, "unique constraint violated", cause)
}

func NotFound(resource string, cause error) *Error {
	return newError(KindNotFound, resource+" not found", cause)
}

func InvalidToken(cause error) *Error {
	return newError(KindInvalidToken, "invalid token", cause)
}

func ExpiredToken(cause error) *Error {
	return newError(KindExpiredToken, "token expired", cause)
}

func RateLimited(message string) *Error {
	return newError(KindRateLimited, message, nil).WithStatus(http.StatusTooManyRequests)
}

func DependencyUnavailable(dependency string, cause error) *Error {
	return newError(KindDependencyUnavailable, dependency+" unavailable", cause).
		WithStatus(http.StatusServiceUnavailable)
}

// Internal wraps an unexpected failure
func Internal(message string, cause error) *Error {
	return newError(KindInternal, message, cause)
}

// As extracts the first *Error in err's chain
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf reports the kind of err; untagged errors are internal
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
