package transfer

import "fmt"

// ValidationError represents caller mistakes such as a schedule time in the
// past, a malformed import payload, or a command that the record's current
// status does not permit. No state is mutated when one is returned.
type ValidationError struct {
	Field  string // The input that failed validation (e.g. "scheduled_at")
	Reason string // Human-readable explanation
	Err    error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}

	return fmt.Sprintf("validation failed: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NetworkError represents a non-success response or a connection failure
// during streaming. It is terminal for the attempt; the record it belongs to
// ends up in the error status.
type NetworkError struct {
	Operation  string // The operation that failed (e.g. "fetch", "resume")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Message    string // Error message from the origin or network layer
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("network error during %s: %s", e.Operation, e.Message)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NotFoundError represents an operation that referenced an unknown transfer
// or schedule id. Remove and cancel treat it as a no-op; update surfaces it.
type NotFoundError struct {
	Kind string // "transfer" or "schedule"
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}
