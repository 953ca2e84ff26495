package domain

import "fmt"

// ValidationError reports malformed or out-of-range numeric input.
// Recoverable by the caller correcting the input; never retried automatically.
type ValidationError struct {
	Field  string  `json:"field"`
	Reason string  `json:"reason"`
	Value  float64 `json:"value"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s (%v): %s", e.Field, e.Value, e.Reason)
}

// NewValidationError creates a ValidationError naming the violated field
func NewValidationError(field string, value float64, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// PreconditionError reports a violated lifecycle rule.
// Surfaced to the caller as a rejected operation, not retried.
type PreconditionError struct {
	Op            string `json:"op"`
	Reason        string `json:"reason"`
	OpenPositions int    `json:"open_positions,omitempty"`
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed for %s: %s", e.Op, e.Reason)
}

// InvariantViolation reports an internal consistency break (atomicity failure,
// cyclic lineage). Fatal for the operation: the enclosing transaction must
// abort rather than leave partial state.
type InvariantViolation struct {
	Op     string `json:"op"`
	Reason string `json:"reason"`
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violated in %s: %s", e.Op, e.Reason)
}
