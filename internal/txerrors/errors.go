// Package txerrors defines the structured error kinds shared across the
// storage, service, and boundary layers.
package txerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by semantic, not by underlying type, so the
// HTTP and CLI boundaries can map it to a status code or exit code without
// string matching.
type Kind string

const (
	NotFound            Kind = "not_found"
	Validation          Kind = "validation"
	IllegalTransition    Kind = "illegal_transition"
	CircularDependency  Kind = "circular_dependency"
	HasChildren         Kind = "has_children"
	AlreadyClaimed      Kind = "already_claimed"
	PoolAtCapacity      Kind = "pool_at_capacity"
	StaleData           Kind = "stale_data"
	ServiceUnavailable  Kind = "service_unavailable"
	Database            Kind = "database"
)

// Error carries a Kind, a message safe to show a caller, and the
// underlying cause (not shown across the HTTP boundary).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WrapDB wraps a low-level storage error as a Database kind with a
// sanitized message, per the spec's "never leak schema details" rule.
// Returns nil when cause is nil so callers can write
// `return txerrors.WrapDB(err)` without an extra nil check.
func WrapDB(cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: Database, Message: "Internal server error", Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to Database when err is
// not one of ours.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return Database
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
