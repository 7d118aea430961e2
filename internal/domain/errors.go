package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a message id does not exist.
	ErrNotFound = errors.New("message not found")
	// ErrStoreUnavailable wraps any failure to reach the backing store.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ValidationError reports a payload or argument that cannot be accepted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid payload: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid is shorthand for a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// DuplicateError is returned by Save when the same native message was stored
// before. ID is the existing message id.
type DuplicateError struct {
	ID string
}

func (e *DuplicateError) Error() string {
	return "duplicate message: " + e.ID
}

// ClassificationError records a failed LLM analysis. It is always recovered by
// falling back to heuristics.
type ClassificationError struct {
	Strategy string
	Op       string
	Err      error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify %s (%s): %v", e.Op, e.Strategy, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// EnrichmentUpdateError means analysis finished but the result could not be
// written back.
type EnrichmentUpdateError struct {
	MessageID string
	Err       error
}

func (e *EnrichmentUpdateError) Error() string {
	return fmt.Sprintf("enrichment update %s: %v", e.MessageID, e.Err)
}

func (e *EnrichmentUpdateError) Unwrap() error { return e.Err }

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
