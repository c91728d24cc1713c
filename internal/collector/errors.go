package collector

import (
	"errors"
	"fmt"
)

// FailureKind tags why a collection did not fully succeed.
type FailureKind string

const (
	KindMandatorySource   FailureKind = "mandatory_source_failure"
	KindFallbackExhausted FailureKind = "fallback_exhausted"
	KindOptionalSource    FailureKind = "optional_source_failure"
	KindPersistence       FailureKind = "persistence_failure"
	KindUnexpected        FailureKind = "unexpected_exception"
)

// Aliases used by callers that speak in terms of source availability.
const (
	KindSourceUnavailable   = KindMandatorySource
	KindNoFallbackAvailable = KindFallbackExhausted
)

// ErrLocked is returned when another process holds the record's advisory lock.
var ErrLocked = errors.New("collector: record locked by another writer")

// Error is a classified collection failure.
type Error struct {
	Kind   FailureKind
	Source string
	Err    error
}

func (e *Error) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Source, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind FailureKind, source string, err error) *Error {
	return &Error{Kind: kind, Source: source, Err: err}
}

// KindOf returns the failure kind carried by err, or KindUnexpected for
// errors that were never classified.
func KindOf(err error) FailureKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnexpected
}
