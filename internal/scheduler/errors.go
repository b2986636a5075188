package scheduler

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicateTask is returned by Schedule when the id is already known to the scheduler.
	ErrDuplicateTask = errors.New("duplicate task id")

	// ErrInvalidTask is returned by Schedule for tasks missing an id or handler.
	ErrInvalidTask = errors.New("invalid task")

	// ErrClosed is returned by operations on a closed scheduler.
	ErrClosed = errors.New("scheduler closed")

	// ErrCancelled is recorded for tasks removed through Cancel.
	ErrCancelled = errors.New("task cancelled")

	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("task timed out")

	// ErrDependencyFailed matches *DependencyError values whose dependency failed.
	ErrDependencyFailed = errors.New("dependency failed")
)

// TimeoutError is recorded when a task exceeds its timeout.
type TimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s timed out after %s", e.TaskID, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// HandlerError wraps an error returned (or a panic raised) by a task handler.
type HandlerError struct {
	TaskID string
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// DependencyError explains why a task cannot run. Unresolved dependencies keep a
// task pending and never leave the scheduler; failed dependencies are recorded
// against the dependent when the scheduler fails dependents.
type DependencyError struct {
	TaskID     string
	Dependency string
	Failed     bool
}

func (e *DependencyError) Error() string {
	if e.Failed {
		return fmt.Sprintf("task %s: dependency %s failed", e.TaskID, e.Dependency)
	}
	return fmt.Sprintf("task %s: dependency %s unresolved", e.TaskID, e.Dependency)
}

func (e *DependencyError) Is(target error) bool {
	return e.Failed && target == ErrDependencyFailed
}
