// Package cogmemerr defines the error taxonomy shared by the memory engine
// and the coordination server (spec §7). Kinds become sentinel errors via
// Sentinel so callers compare with errors.Is; Error wraps an underlying cause so
// errors.As and %w unwrapping both work, matching the fmt.Errorf("...: %w")
// idiom used throughout the teacher's storage adapters.
package cogmemerr

import (
	"errors"
	"fmt"
)

// Kind is one of the closed taxonomy values from spec.md §7.
type Kind string

const (
	NotInitialized  Kind = "not_initialized"
	NotFound        Kind = "not_found"
	QuotaExceeded   Kind = "quota_exceeded"
	Unauthorized    Kind = "unauthorized"
	InvalidInput    Kind = "invalid_input"
	ConnectionFail  Kind = "connection_failed"
	Timeout         Kind = "timeout"
	LockFailed      Kind = "lock_failed"
	WriteConflict   Kind = "write_conflict"
	ForgettingRisk  Kind = "forgetting_risk"
)

// Error is the concrete error type this package returns. Op names the
// failing operation (e.g. "vectorstore.Insert"); Err is the underlying
// cause, possibly nil for sentinel-only failures.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, cogmemerr.Sentinel(cogmemerr.NotFound)) style
// comparisons against a Kind, in addition to errors.Is between two *Error values.
func (e *Error) Is(target error) bool {
	var k Kind
	switch t := target.(type) {
	case *Error:
		k = t.Kind
	case kindSentinel:
		k = Kind(t)
	default:
		return false
	}
	return e.Kind == k
}

// kindSentinel lets a bare Kind be compared via errors.Is without allocating
// an *Error: Kind implements error through this wrapper only when asked.
type kindSentinel Kind

func (k kindSentinel) Error() string { return string(k) }

// Sentinel returns an error value usable directly with errors.Is(err, Sentinel(NotFound)).
func Sentinel(k Kind) error { return kindSentinel(k) }

// New builds an *Error for the given kind/op, optionally wrapping cause.
func New(k Kind, op string, cause error) *Error {
	return &Error{Kind: k, Op: op, Err: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; ok is false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
