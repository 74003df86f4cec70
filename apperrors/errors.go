// Package apperrors defines the closed set of domain error kinds that
// cross package boundaries in the core. Callers use errors.As to
// recover a *Error and branch on its Kind; the httpapi layer maps Kind
// to a status code at the edge.
package apperrors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	InsufficientFunds    Kind = "insufficient_funds"
	InsufficientPosition Kind = "insufficient_position"
	PriceOutOfBand       Kind = "price_out_of_band"
	PriceMismatch        Kind = "price_mismatch"
	DuplicateOrder       Kind = "duplicate_order"
	ContentionTimeout    Kind = "contention_timeout"
	CompetitionClosed    Kind = "competition_closed"
	NotFound             Kind = "not_found"
	UpstreamTransient    Kind = "upstream_transient"
)

// Error wraps a Kind with a human-readable message and an optional
// underlying cause. It is never compared by value — callers must use
// errors.As/Is, since two Errors with the same Kind are not
// necessarily the same failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the caller can reasonably retry the
// operation that produced this error without changing the request.
// ContentionTimeout covers lock-contention and advisory-lock timeouts;
// UpstreamTransient covers upstream feed hiccups the ingestor already
// reconnects past on its own.
func (e *Error) Retryable() bool {
	return e.Kind == ContentionTimeout || e.Kind == UpstreamTransient
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is allows errors.Is(err, apperrors.InsufficientFunds) style checks by
// matching on Kind rather than identity.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, and
// reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
