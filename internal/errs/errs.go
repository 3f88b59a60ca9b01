// Package errs defines the design-level error kinds shared across the
// generation pipeline, so the HTTP layer can map any failure to a status
// code without knowing which component produced it.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the fixed error categories the system can produce.
type Kind string

const (
	KindManifestInvalid          Kind = "ManifestInvalid"
	KindAlreadyRegistered        Kind = "AlreadyRegistered"
	KindUnknownGenerator         Kind = "UnknownGenerator"
	KindSpecInvalid              Kind = "SpecInvalid"
	KindTemplateSyntax           Kind = "TemplateSyntax"
	KindRenderFailure            Kind = "RenderFailure"
	KindNonDeterministicTemplate Kind = "NonDeterministicTemplate"
	KindOutputInvalid            Kind = "OutputInvalid"
	KindStoreBackendError        Kind = "StoreBackendError"
	KindInProgress               Kind = "InProgress"
	KindPreviousAttemptFailed    Kind = "PreviousAttemptFailed"
	KindIdempotencyKeyExpired    Kind = "IdempotencyKeyExpired"
	KindNotFound                 Kind = "NotFound"
	KindConflict                 Kind = "Conflict"
	KindTimeout                  Kind = "Timeout"
)

// Error is a typed error carrying one of the fixed Kinds plus an optional
// wrapped cause. Components never throw raw errors for expected failure
// modes; they wrap them in an *Error so the HTTP layer can map Kind to a
// status code without string-matching messages.
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

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is lets errors.Is(err, errs.New(KindNotFound, "")) match by Kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err does not wrap an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// AlreadyRegisteredError is returned by the in-process catalogue when a
// (generatorId, version) pair is registered twice.
func AlreadyRegisteredError(id, version string) *Error {
	return New(KindAlreadyRegistered, fmt.Sprintf("generator %s@%s is already registered", id, version))
}

// InProgressError is returned when a StoreArtifact call observes a pending
// idempotency key owned by a concurrent, unfinished attempt.
func InProgressError(key string) *Error {
	return New(KindInProgress, fmt.Sprintf("idempotency key %s is already in progress", key))
}

// PreviousAttemptFailedError wraps the cause recorded against a failed
// idempotency key.
func PreviousAttemptFailedError(key string, cause error) *Error {
	return Wrap(KindPreviousAttemptFailed, fmt.Sprintf("previous attempt for idempotency key %s failed", key), cause)
}
