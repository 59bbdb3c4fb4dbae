package apperrors

import "net/http"

// Client-visible messages for the fixed mappings
const (
	MsgUniqueConstraint = "A unique constraint violation occurred"
	MsgNotFound         = "Record not found"
	MsgInvalidToken     = "Invalid token"
	MsgExpiredToken     = "Token expired"
	MsgGeneric          = "Something went wrong"
)

// Classification is the client-facing outcome of a failed request
type Classification struct {
	Kind    Kind
	Status  int
	Message string
	// Stack is only populated in development mode
	Stack string
}

// Classify maps err to a status/message pair. The switch is exhaustive over Kind
// and mirrors the response table: first match wins.
func Classify(err error, development bool) Classification {
	appErr, ok := As(err)
	if !ok {
		return fallback(KindInternal, err.Error(), 0, "", development)
	}

	switch appErr.Kind {
	case KindUniqueConstraint:
		return Classification{Kind: appErr.Kind, Status: http.StatusBadRequest, Message: MsgUniqueConstraint}
	case KindNotFound:
		return Classification{Kind: appErr.Kind, Status: http.StatusNotFound, Message: MsgNotFound}
	case KindInvalidToken:
		return Classification{Kind: appErr.Kind, Status: http.StatusUnauthorized, Message: MsgInvalidToken}
	case KindExpiredToken:
		return Classification{Kind: appErr.Kind, Status: http.StatusUnauthorized, Message: MsgExpiredToken}
	case KindValidation:
		status := appErr.Status
		if status == 0 {
			status = http.StatusBadRequest
		}
		return Classification{Kind: appErr.Kind, Status: status, Message: appErr.Message}
	case KindRateLimited, KindDependencyUnavailable, KindInternal:
		return fallback(appErr.Kind, appErr.Message, appErr.Status, appErr.Stack, development)
	}

	return fallback(KindInternal, appErr.Message, appErr.Status, appErr.Stack, development)
}

func fallback(kind Kind, message string, status int, stack string, development bool) Classification {
	if status == 0 {
		status = http.StatusInternalServerError
	}

	c := Classification{Kind: kind, Status: status, Message: MsgGeneric}
	if development {
		c.Message = message
		c.Stack = stack
	}
	return c
}
