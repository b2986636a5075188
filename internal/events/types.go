package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask     = "task"
	TopicQueue    = "queue"
	TopicWorkflow = "workflow"
)

// Event type constants
const (
	EventTypeTaskScheduled = "task.scheduled"
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskCancelled = "task.cancelled"
	EventTypeQueueProgress = "queue.progress"
	EventTypeWorkflowState = "workflow.state"
	EventTypeStepSubmitted = "workflow.step.submitted"
	EventTypeStepSettled   = "workflow.step.settled"
)

// TaskScheduledEvent is published when a task enters the pending pool.
type TaskScheduledEvent struct {
	ID           string
	Priority     string
	Dependencies []string
	Timestamp    time.Time
}

func (e TaskScheduledEvent) EventType() string { return EventTypeTaskScheduled }
func (e TaskScheduledEvent) TaskID() string    { return e.ID }

// TaskStartedEvent is published when a task is dispatched to a worker.
type TaskStartedEvent struct {
	ID        string
	Priority  string
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	ID        string
	Result    any
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task fails, times out or loses a dependency.
type TaskFailedEvent struct {
	ID        string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskCancelledEvent is published when a task is cancelled.
type TaskCancelledEvent struct {
	ID        string
	Timestamp time.Time
}

func (e TaskCancelledEvent) EventType() string { return EventTypeTaskCancelled }
func (e TaskCancelledEvent) TaskID() string    { return e.ID }

// QueueProgressEvent carries scheduler pool sizes after a task settles.
type QueueProgressEvent struct {
	Scheduled int
	Running   int
	Completed int
	Failed    int
	Timestamp time.Time
}

func (e QueueProgressEvent) EventType() string { return EventTypeQueueProgress }
func (e QueueProgressEvent) TaskID() string    { return "" }

// WorkflowStateEvent is published on every workflow state transition.
type WorkflowStateEvent struct {
	WorkflowID  string
	Name        string
	Description string
	From        string // Empty when the workflow was just created
	To          string
	Err         error // Set when To is failed
	Timestamp   time.Time
}

func (e WorkflowStateEvent) EventType() string { return EventTypeWorkflowState }
func (e WorkflowStateEvent) TaskID() string    { return "" }

// StepSubmittedEvent is published when a workflow step is handed to the scheduler.
type StepSubmittedEvent struct {
	WorkflowID string
	Step       string
	Module     string
	Task       string
	Attempt    int
	Timestamp  time.Time
}

func (e StepSubmittedEvent) EventType() string { return EventTypeStepSubmitted }
func (e StepSubmittedEvent) TaskID() string    { return e.Task }

// StepSettledEvent is published when a workflow step reaches its final outcome.
type StepSettledEvent struct {
	WorkflowID string
	Step       string
	Task       string
	Attempts   int
	Result     any
	Err        error // nil on success
	Timestamp  time.Time
}

func (e StepSettledEvent) EventType() string { return EventTypeStepSettled }
func (e StepSettledEvent) TaskID() string    { return e.Task }
