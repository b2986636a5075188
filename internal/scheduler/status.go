package scheduler

import "encoding/json"

// TaskState is the lifecycle position of a task as seen by the scheduler.
type TaskState int

const (
	TaskNotFound  TaskState = iota // Unknown id (or history cleared)
	TaskScheduled                  // Pending, waiting for dependencies or a slot
	TaskRunning                    // Dispatched to a worker
	TaskCompleted                  // Finished successfully
	TaskFailed                     // Handler error, timeout, cancellation or failed dependency
)

func (s TaskState) String() string {
	switch s {
	case TaskScheduled:
		return "scheduled"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	default:
		return "not_found"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s TaskState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the state is completed or failed.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskStatus is the result of a status query.
type TaskStatus struct {
	ID     string
	State  TaskState
	Result any
	Err    error
}

// MarshalJSON renders the status with the error flattened to a string.
func (s TaskStatus) MarshalJSON() ([]byte, error) {
	out := struct {
		ID     string    `json:"id"`
		State  TaskState `json:"status"`
		Result any       `json:"result,omitempty"`
		Error  string    `json:"error,omitempty"`
	}{ID: s.ID, State: s.State, Result: s.Result}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	return json.Marshal(out)
}

// QueueStatus holds counts per scheduler pool.
type QueueStatus struct {
	Scheduled int `json:"scheduled"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Outcome is delivered to listeners when a task settles.
type Outcome struct {
	TaskID string
	Result any
	Err    error // nil on success
}
