package domain

import "fmt"

// InvalidInputError indicates user input failed shape validation.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// GenerationServiceError wraps a failed call to the completion service.
type GenerationServiceError struct {
	Err error
}

func (e *GenerationServiceError) Error() string {
	return fmt.Sprintf("generation service: %v", e.Err)
}

func (e *GenerationServiceError) Unwrap() error { return e.Err }

// ParseRecoveryNotice describes model output that was replaced by the
// fallback task list. It is logged, never returned to callers.
type ParseRecoveryNotice struct {
	Raw    string
	Reason string
}

func (n ParseRecoveryNotice) Error() string {
	return "model output unusable, using default tasks: " + n.Reason
}

// PersistenceError wraps any store failure. LoopID is set when the failing
// operation targeted a known loop, including one created earlier in the same
// flow.
type PersistenceError struct {
	Op     string
	LoopID string
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.LoopID != "" {
		return fmt.Sprintf("%s (loop %s): %v", e.Op, e.LoopID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
