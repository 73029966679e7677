package session

import (
	"errors"
	"fmt"
)

// Common engine errors.
var (
	// ErrComplete is the workflow's normal "no more work" signal, returned
	// by NextCommand once the session status is terminal. Callers stop
	// polling; this is not a failure to surface to the end user.
	ErrComplete = errors.New("session complete")

	// ErrNoPending is returned when a result is delivered but no
	// interaction is awaiting one.
	ErrNoPending = errors.New("no pending interaction")

	// ErrUnknownType is returned when no workflow definition is registered
	// for a session's type.
	ErrUnknownType = errors.New("unknown session type")
)

// StaleInteractionError is returned when a result is delivered for any
// interaction other than the currently pending one. Rejecting the delivery
// prevents stale or duplicate completions from corrupting state.
type StaleInteractionError struct {
	Delivered string
	Pending   string
}

// Error implements error.
func (e *StaleInteractionError) Error() string {
	return fmt.Sprintf("stale result delivery: interaction %s is not the pending interaction %s",
		e.Delivered, e.Pending)
}

// StepError is a recoverable, user-visible condition from a step: a missing
// precondition in session state or a failed interpretation. It routes
// through the transition rule, never aborts the workflow.
type StepError struct {
	Step    string
	Message string
}

// Error implements error.
func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s", e.Step, e.Message)
}

// NewStepError builds a StepError for the named step.
func NewStepError(step, format string, args ...any) *StepError {
	return &StepError{Step: step, Message: fmt.Sprintf(format, args...)}
}
