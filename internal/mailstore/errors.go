package mailstore

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failure categories a store operation can
// report. The server core uses the kind to decide retries and to map to
// wire error codes; it never inspects message text.
type Kind int

const (
	// KindUnavailable means the store connection is down or unusable.
	// The pool retires the handle that reported it.
	KindUnavailable Kind = iota

	// KindNotFound means the requested email or folder does not resolve.
	KindNotFound

	// KindPermissionDenied means the store refused access to the resource.
	KindPermissionDenied

	// KindInvalidArgument means the store rejected a request parameter.
	KindInvalidArgument

	// KindTimeout means the operation exceeded its deadline.
	KindTimeout

	// KindTransient marks a retryable failure.
	KindTransient

	// KindPermanent marks a non-retryable failure.
	KindPermanent
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindTimeout:
		return "timeout"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is a store failure carrying its kind and the operation that
// produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a store failure of the given kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a store failure from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the failure kind from err. Errors that are not store
// failures are treated as permanent.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindPermanent
}

// IsKind reports whether err is a store failure of the given kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}

// Retryable reports whether the handler retry policy applies to err.
// Only transient failures are retried.
func Retryable(err error) bool {
	return IsKind(err, KindTransient)
}

// RetiresHandle reports whether the pool should retire the handle that
// produced err.
func RetiresHandle(err error) bool {
	switch KindOf(err) {
	case KindUnavailable, KindTransient:
		return true
	default:
		return false
	}
}
