// Package apperr defines the typed error kinds returned by the service layer.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide between retry, no-op and
// surfacing it to the client.
type Kind string

const (
	KindValidation    Kind = "validation_error"
	KindQuotaExceeded Kind = "quota_exceeded"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindExternal      Kind = "external_service_error"
	KindInvariant     Kind = "internal_invariant_violation"
)

// Sentinels usable with errors.Is.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrQuotaExceeded = &Error{Kind: KindQuotaExceeded}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrExternal      = &Error{Kind: KindExternal}
	ErrInvariant     = &Error{Kind: KindInvariant}
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error { return newf(KindValidation, format, args...) }
func QuotaExceeded(format string, args ...any) error {
	return newf(KindQuotaExceeded, format, args...)
}
func NotFound(format string, args ...any) error  { return newf(KindNotFound, format, args...) }
func Conflict(format string, args ...any) error  { return newf(KindConflict, format, args...) }
func Invariant(format string, args ...any) error { return newf(KindInvariant, format, args...) }

// External wraps a failure of an outside collaborator (object store, worker,
// payment provider).
func External(err error, format string, args ...any) error {
	return &Error{Kind: KindExternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
