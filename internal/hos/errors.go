package hos

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for rejected input.
var (
	ErrInvalidTripContext = errors.New("invalid trip context")
	ErrInvalidRuleSet     = errors.New("invalid rule set")
	ErrMalformedItinerary = errors.New("malformed itinerary")
)

// ValidationError wraps a sentinel with the offending field.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// ValidationErrors collects every field failure found in one pass.
type ValidationErrors []*ValidationError

func (es ValidationErrors) Error() string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

func (es ValidationErrors) Unwrap() []error {
	out := make([]error, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}

// Fields maps each failing field to its message.
func (es ValidationErrors) Fields() map[string]string {
	m := make(map[string]string, len(es))
	for _, e := range es {
		m[e.Field] = e.Wrapped.Error() + ": " + e.Value
	}
	return m
}

func (es ValidationErrors) orNil() error {
	if len(es) == 0 {
		return nil
	}
	return es
}

// MalformedItineraryError reports the first stop that makes an itinerary
// impossible to partition. No logs are produced when it is returned.
type MalformedItineraryError struct {
	Index  int
	Reason string
}

func (e *MalformedItineraryError) Error() string {
	return fmt.Sprintf("%s: stop %d: %s", ErrMalformedItinerary, e.Index, e.Reason)
}

func (e *MalformedItineraryError) Unwrap() error { return ErrMalformedItinerary }
