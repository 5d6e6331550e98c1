// Package errdefs defines the error categories shared across the Unuxt
// backend. Handlers map each category to an HTTP status code; stores and
// services wrap the underlying cause so callers can match with errors.Is.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for callers and for HTTP mapping.
type Kind int

const (
	// KindUnauthorized means no valid session was presented.
	KindUnauthorized Kind = iota + 1
	// KindForbidden means the caller is authenticated but lacks a required permission.
	KindForbidden
	// KindNotFound means a referenced entity is absent.
	KindNotFound
	// KindConflict means a uniqueness or duplicate-state violation.
	KindConflict
	// KindExpired means a time-based invalidation (expired token or invitation).
	KindExpired
	// KindInvalidState means an illegal status transition was attempted.
	KindInvalidState
	// KindInvalidArgument means the input failed validation.
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindExpired:
		return "expired"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "unknown"
	}
}

// Error is a categorized error with an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches two errdefs errors by kind so sentinel comparisons work:
// errors.Is(err, errdefs.ErrNotFound).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is matching. Never returned directly; use the
// constructors below so messages carry context.
var (
	ErrUnauthorized    = &Error{Kind: KindUnauthorized}
	ErrForbidden       = &Error{Kind: KindForbidden}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrExpired         = &Error{Kind: KindExpired}
	ErrInvalidState    = &Error{Kind: KindInvalidState}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
)

// Unauthorized creates an unauthorized error.
func Unauthorized(format string, args ...interface{}) error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// Forbidden creates a forbidden error.
func Forbidden(format string, args ...interface{}) error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a not found error.
func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a conflict error.
func Conflict(format string, args ...interface{}) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Expired creates an expired error.
func Expired(format string, args ...interface{}) error {
	return &Error{Kind: KindExpired, Message: fmt.Sprintf(format, args...)}
}

// InvalidState creates an invalid state error.
func InvalidState(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument creates a validation error.
func InvalidArgument(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error, preserving the cause chain.
func Wrap(kind Kind, cause error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of err, or 0 if err carries no category.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
