// Package graceerr defines the closed error taxonomy of spec.md §7.
// Every component propagates one of these kinds rather than ad-hoc
// error strings, so callers can type-switch on outcome.
package graceerr

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error kinds.
type Kind string

const (
	KindValidation    Kind = "ValidationError"
	KindPolicyDenied  Kind = "PolicyDenied"
	KindRequiresReview Kind = "RequiresReview"
	KindUnauthorized  Kind = "Unauthorized"
	KindNotFound      Kind = "NotFound"
	KindConflict      Kind = "Conflict"
	KindBackpressure  Kind = "BackpressureFull"
	KindLogUnavailable Kind = "LogUnavailable"
	KindChainBroken   Kind = "ChainBroken"
	KindAdapterError  Kind = "AdapterError"
	KindTimeout       Kind = "Timeout"
	KindShutdown      Kind = "Shutdown"
)

// Error is the concrete error type carried through the system. It wraps
// an optional underlying cause and, for RequiresReview, the session the
// caller must await.
type Error struct {
	Kind                Kind
	Message             string
	ParliamentSessionID string
	Retryable           bool
	Seq                 uint64 // populated for ChainBroken
	Cause               error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func new_(k Kind, msg string) *Error { return &Error{Kind: k, Message: msg} }

func Validation(msg string) *Error     { return new_(KindValidation, msg) }
func PolicyDenied(msg string) *Error   { return new_(KindPolicyDenied, msg) }
func Unauthorized(msg string) *Error   { return new_(KindUnauthorized, msg) }
func NotFound(msg string) *Error       { return new_(KindNotFound, msg) }
func Conflict(msg string) *Error       { return new_(KindConflict, msg) }
func Backpressure(msg string) *Error   { return new_(KindBackpressure, msg) }
func LogUnavailable(msg string) *Error { return new_(KindLogUnavailable, msg) }
func Timeout(msg string) *Error        { return new_(KindTimeout, msg) }
func Shutdown(msg string) *Error       { return new_(KindShutdown, msg) }

func RequiresReview(sessionID, msg string) *Error {
	return &Error{Kind: KindRequiresReview, Message: msg, ParliamentSessionID: sessionID}
}

func ChainBroken(seq uint64, msg string) *Error {
	return &Error{Kind: KindChainBroken, Message: msg, Seq: seq}
}

func AdapterError(msg string, retryable bool, cause error) *Error {
	return &Error{Kind: KindAdapterError, Message: msg, Retryable: retryable, Cause: cause}
}

func Wrap(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Message: msg, Cause: cause}
}

// Is reports whether err (or anything it wraps) is a *Error of kind k.
func Is(err error, k Kind) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind == k
	}
	return false
}
