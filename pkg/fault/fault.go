// Package fault provides the error taxonomy shared by every gateway
// subsystem. It is a leaf package with no internal dependencies so stores,
// drivers, and the API layer can all classify errors without import cycles.
//
// Import graph: fault <- stores/drivers <- coordinator/facade <- api
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for callers and for HTTP mapping.
type Kind int

const (
	// KindValidation indicates malformed or out-of-range input.
	KindValidation Kind = iota + 1

	// KindNotFound indicates the referenced entity does not exist.
	KindNotFound

	// KindConflict indicates the operation collides with existing state.
	KindConflict

	// KindAuthorization indicates the caller may not perform the operation.
	KindAuthorization

	// KindUpstream indicates a backend (S3, Bot API, ...) failed the call.
	KindUpstream

	// KindExpired indicates a session or token passed its TTL.
	KindExpired

	// KindCancelled indicates cooperative cancellation stopped the work.
	KindCancelled

	// KindInfrastructure indicates a local store or dependency failure.
	KindInfrastructure
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "Validation"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindAuthorization:
		return "Authorization"
	case KindUpstream:
		return "Upstream"
	case KindExpired:
		return "Expired"
	case KindCancelled:
		return "Cancelled"
	case KindInfrastructure:
		return "Infrastructure"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Error is a classified gateway error. Retryable marks transient upstream
// conditions the caller may retry with backoff; everything else is final.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a plain message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. A nil cause yields nil.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Factory helpers for the common kinds.

func Validation(format string, args ...any) *Error {
	return Newf(KindValidation, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return Newf(KindNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return Newf(KindConflict, format, args...)
}

func Authorization(format string, args ...any) *Error {
	return Newf(KindAuthorization, format, args...)
}

func Expired(format string, args ...any) *Error {
	return Newf(KindExpired, format, args...)
}

func Cancelled(format string, args ...any) *Error {
	return Newf(KindCancelled, format, args...)
}

// Upstream wraps a backend failure. Pass retryable=true only for transient
// conditions (throttling, timeouts) the caller is allowed to retry.
func Upstream(message string, err error, retryable bool) *Error {
	return &Error{Kind: KindUpstream, Message: message, Err: err, Retryable: retryable}
}

// Infrastructure wraps a local store or dependency failure.
func Infrastructure(message string, err error) *Error {
	return &Error{Kind: KindInfrastructure, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain. Unclassified errors map to
// KindInfrastructure; context cancellation maps to KindCancelled so callers
// never have to special-case ctx.Err().
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInfrastructure
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the error chain is marked retryable.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// MessageOf returns the outermost classified message, or the raw error text
// for unclassified errors. API handlers use this for problem detail bodies.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}
