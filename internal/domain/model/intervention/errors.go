package intervention

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes failures so callers can decide between surfacing,
// falling back to the privileged store path, or swallowing.
type ErrorKind string

const (
	KindUnknown       ErrorKind = "unknown"
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindNotFound      ErrorKind = "not_found"
	KindConflict      ErrorKind = "conflict"
	KindExpired       ErrorKind = "expired"
	KindTransient     ErrorKind = "transient"
)

// kindError is a sentinel carrying its own kind
type kindError struct {
	kind ErrorKind
	msg  string
}

func (e *kindError) Error() string { return e.msg }

// Common intervention errors
var (
	ErrRecordNotFound    error = &kindError{KindNotFound, "intervention record not found"}
	ErrTokenNotFound     error = &kindError{KindNotFound, "signing token not found"}
	ErrMalformedToken    error = &kindError{KindValidation, "malformed signing token"}
	ErrMalformedID       error = &kindError{KindValidation, "malformed intervention id"}
	ErrInvalidReport     error = &kindError{KindValidation, "invalid intervention report"}
	ErrInvalidImage      error = &kindError{KindValidation, "invalid signature image"}
	ErrInvalidTransition error = &kindError{KindValidation, "invalid signature status transition"}
	ErrUnauthorized      error = &kindError{KindAuthorization, "access scope rejected"}
	ErrAlreadySigned     error = &kindError{KindConflict, "intervention already signed"}
	ErrTokenExpired      error = &kindError{KindExpired, "signing token expired"}
)

// StoreError is returned by persistence routes. It records which route and
// operation failed and how the failure was classified.
type StoreError struct {
	Op    string
	Route string
	Kind  ErrorKind
	Err   error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Route != "" {
		return fmt.Sprintf("%s (%s route): %v", e.Op, e.Route, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying error to errors.Is / errors.As.
func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err with a kind derived from err itself.
func NewStoreError(op, route string, err error) *StoreError {
	return &StoreError{Op: op, Route: route, Kind: KindOf(err), Err: err}
}

// KindOf reports the kind of err. The outermost StoreError wins, then any
// wrapped sentinel.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *StoreError
	if errors.As(err, &se) && se.Kind != "" && se.Kind != KindUnknown {
		return se.Kind
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// IsAuthorization reports whether err is an authorization-shaped failure.
func IsAuthorization(err error) bool {
	return KindOf(err) == KindAuthorization
}
