// Package apperr defines the error taxonomy shared across the retrieval core.
package apperr

import (
	"errors"
	"fmt"
)

// Kind tags an error with the taxonomy the core reports to callers. It is a
// classification, not a concrete error type: callers use errors.As/Is over
// *Error and switch on Kind.
type Kind int

const (
	// KindBadRequest covers input validation failures: empty matches, mixed
	// range types, semantic search requested while disabled, incompatible
	// multi-query methods.
	KindBadRequest Kind = iota
	// KindNotFound covers a tracking id that fails to resolve in a context
	// that requires it.
	KindNotFound
	// KindInternal covers pool/client failures and embedding/LLM/vector
	// index service failures.
	KindInternal
	// KindDuplicateTrackingID is only produced by ingestion write paths,
	// never by retrieval.
	KindDuplicateTrackingID
	// KindForbidden covers group ownership mismatches.
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindNotFound:
		return "not_found"
	case KindInternal:
		return "internal_server_error"
	case KindDuplicateTrackingID:
		return "duplicate_tracking_id"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-tagged, wrapped error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// BadRequest builds a KindBadRequest error.
func BadRequest(format string, args ...any) *Error { return newf(KindBadRequest, format, args...) }

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...any) *Error { return newf(KindNotFound, format, args...) }

// Internal builds a KindInternal error wrapping cause.
func Internal(cause error, format string, args ...any) *Error {
	e := newf(KindInternal, format, args...)
	e.Err = cause
	return e
}

// DuplicateTrackingID builds a KindDuplicateTrackingID error.
func DuplicateTrackingID(format string, args ...any) *Error {
	return newf(KindDuplicateTrackingID, format, args...)
}

// Forbidden builds a KindForbidden error.
func Forbidden(format string, args ...any) *Error { return newf(KindForbidden, format, args...) }

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
