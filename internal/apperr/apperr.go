// Package apperr defines the error kinds the core must distinguish when
// propagating failures out of a chat turn, a tool call, or a background job.
//
// These are local concepts, not wire error codes: callers (the HTTP layer,
// the worker scheduler) map a Kind to whatever status code or retry policy
// makes sense for their transport.
package apperr

import (
	"errors"
	"fmt"
)

// Kind enumerates the distinguishable error categories a chat turn, tool
// call, or background job can fail with.
type Kind string

const (
	Unauthenticated    Kind = "unauthenticated"
	Forbidden          Kind = "forbidden"
	QuotaExceeded      Kind = "quota_exceeded"
	PolicyDenied       Kind = "policy_denied"
	ToolTimeout        Kind = "tool_timeout"
	UpstreamFailure    Kind = "upstream_failure"
	InvariantViolation Kind = "invariant_violation"
	Cancelled          Kind = "cancelled"
)

// Error wraps an underlying cause with a Kind and optional structured reason.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error of the given kind with a reason string.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap creates an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// WrapReason wraps an error with both a kind and a human reason.
func WrapReason(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Billable reports whether a turn that failed with this error should still
// be charged against the wallet. Unauthenticated, Forbidden, QuotaExceeded,
// PolicyDenied and Cancelled are not billable; every other kind, and any
// error that is not an *Error, is.
func Billable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return true
	}
	switch e.Kind {
	case Unauthenticated, Forbidden, QuotaExceeded, PolicyDenied, Cancelled:
		return false
	default:
		return true
	}
}
