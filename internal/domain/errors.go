package domain

import (
	"errors"
	"fmt"
)

// ErrOverloaded is returned when the ingest queue is full. Transient;
// callers should retry with backoff.
var ErrOverloaded = errors.New("ingest queue overloaded")

// Well-known validation reasons.
const (
	ReasonFutureTimestamp = "FutureTimestamp"
	ReasonMissingField    = "MissingField"
	ReasonUnknownValue    = "UnknownValue"
	ReasonMissingLocation = "MissingLocation"
)

// ValidationError rejects bad input at the boundary. It is never retried
// automatically and carries enough structure for a UI to render a specific
// message.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("validation failed: %s: %s (%s)", e.Field, e.Reason, e.Detail)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError with an optional detail.
func NewValidationError(field, reason, detail string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Detail: detail}
}

// InvalidTransitionError is a logic error in the caller: the requested
// lifecycle edge does not exist. Surfaced verbatim, not retried.
type InvalidTransitionError struct {
	AlertID string `json:"alertId"`
	From    Status `json:"from"`
	To      Status `json:"to"`
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for alert %s: %s -> %s", e.AlertID, e.From, e.To)
}

// ErrVersionConflict is returned when an operator action carries a stale
// alert version (optimistic concurrency on lastUpdatedAt).
var ErrVersionConflict = errors.New("alert modified since version read")
