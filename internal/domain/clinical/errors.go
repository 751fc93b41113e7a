package clinical

import (
	"errors"
	"fmt"
)

// Sentinel errors for the monitoring and validation paths. Callers match
// them with errors.Is; wrapped variants carry per-call context.
var (
	// ErrDataUnavailable means required reference data (allergy set, drug
	// metadata) could not be resolved. Fatal for a validation call, a
	// skip-this-patient condition inside a monitoring cycle.
	ErrDataUnavailable = errors.New("reference data unavailable")

	// ErrScoringTimeout means the risk scorer exceeded its per-call timeout.
	ErrScoringTimeout = errors.New("risk scoring timed out")

	// ErrScoringUnavailable means the risk scorer backend is down or its
	// circuit is open.
	ErrScoringUnavailable = errors.New("risk scorer unavailable")

	// ErrMonitorRunning is returned when an on-demand cycle is requested
	// while the previous cycle has not finished.
	ErrMonitorRunning = errors.New("monitoring cycle already in flight")
)

// ValidationError reports malformed input to prescription validation.
// It blocks the check entirely; no partial result is produced.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid prescription: " + e.Reason
	}
	return fmt.Sprintf("invalid prescription: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for one input field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// DispatchError reports a delivery failure on a single channel after its
// retries were exhausted. It never fails the cycle.
type DispatchError struct {
	Channel  string
	Attempts int
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s failed after %d attempts: %v", e.Channel, e.Attempts, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
