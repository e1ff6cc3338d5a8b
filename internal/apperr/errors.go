// Package apperr defines the caller-visible error kinds returned by the MDM
// core and their HTTP status mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	Unauthenticated Kind = "unauthenticated"
	Unauthorized    Kind = "unauthorized"
	NotFound        Kind = "not_found"
	InvalidState    Kind = "invalid_state"
	InvalidArgument Kind = "invalid_argument"
	PrecheckFailed  Kind = "precheck_failed"
	Internal        Kind = "internal"
)

// Error carries a stable Kind plus a human-readable message. Err, when set,
// is the underlying cause and is never shown to callers.
// Reason is an optional machine-readable detail for callers that need to
// tell apart failures of the same kind.
type Error struct {
	Kind    Kind
	Message string
	Reason  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithReason returns an error of the given kind carrying reason.
func WithReason(kind Kind, reason, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// ReasonOf returns the reason attached to err, if any.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// Wrap marks err as an internal failure. The message is kept for logs only.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: Internal, Message: message, Err: err}
}

// KindOf reports the kind of err; errors not produced by this package are
// Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the caller-safe message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != Internal {
		return e.Message
	}
	return "internal server error"
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case Unauthenticated:
		return http.StatusUnauthorized
	case Unauthorized:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case InvalidState:
		return http.StatusConflict
	case InvalidArgument:
		return http.StatusBadRequest
	case PrecheckFailed:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}
