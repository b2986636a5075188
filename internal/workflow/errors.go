package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown workflow ids.
	ErrNotFound = errors.New("workflow not found")

	// ErrInvalidState matches every *InvalidStateError.
	ErrInvalidState = errors.New("invalid workflow state")

	// ErrInvalidWorkflow is returned when a step graph cannot be executed.
	ErrInvalidWorkflow = errors.New("invalid workflow")
)

// InvalidStateError is returned when an operation is illegal in the current state.
type InvalidStateError struct {
	WorkflowID string
	Op         string
	State      State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s workflow %s in state %s", e.Op, e.WorkflowID, e.State)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// StepError records why a step failed for good.
type StepError struct {
	Step     string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed after %d attempt(s): %v", e.Step, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
