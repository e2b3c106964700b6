package assessment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEntityNotFound is returned when no property view matches the
	// business key. The import pipeline has to run first.
	ErrEntityNotFound = errors.New("no property view matches the business key")
	// ErrConcurrentRevision is returned when another upsert changed the same
	// business key between read and write. The caller may retry.
	ErrConcurrentRevision = errors.New("concurrent revision of the same assessment")
	// ErrPropertyNotFound is returned for unknown assessment property ids.
	ErrPropertyNotFound = errors.New("assessment property not found")
	// ErrAssessmentNotFound is returned for unknown assessment types.
	ErrAssessmentNotFound = errors.New("assessment type not found")
)

// ValidationError reports a malformed upsert payload.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid assessment: " + e.Message
	}
	return fmt.Sprintf("invalid assessment field %q: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// AmbiguousEntityError is returned when several property views match one
// business key.
type AmbiguousEntityError struct {
	Key     BusinessKey
	ViewIDs []string
}

func (e *AmbiguousEntityError) Error() string {
	return fmt.Sprintf("%d property views match address %q postal code %q: %s",
		len(e.ViewIDs), e.Key.Address, e.Key.PostalCode, strings.Join(e.ViewIDs, ", "))
}
