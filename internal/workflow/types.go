package workflow

import (
	"maps"
	"time"

	"github.com/aristath/conductor/internal/scheduler"
)

// DefaultStepTimeout applies to steps declared without a timeout.
const DefaultStepTimeout = 600 * time.Second

// State is the lifecycle state of a workflow.
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions are accepted.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Step is a declarative stage of a workflow.
type Step struct {
	Name              string             // Step key; defaults to ModuleName
	ModuleName        string             // Registry name of the module to run
	Config            map[string]any     // Passed to the module factory
	Dependencies      []string           // Step keys that must settle first
	RetryCount        int                // Resubmissions allowed after a failure
	Timeout           time.Duration      // Per attempt; zero means DefaultStepTimeout
	Priority          scheduler.Priority // Zero value is medium
	ContinueOnFailure bool               // Settle as failed instead of failing the workflow
}

// Key identifies the step inside its workflow.
func (s Step) Key() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ModuleName
}

func (s Step) clone() Step {
	cp := s
	cp.Config = maps.Clone(s.Config)
	if s.Dependencies != nil {
		cp.Dependencies = append([]string(nil), s.Dependencies...)
	}
	return cp
}

// Workflow is an ordered collection of steps with a lifecycle.
type Workflow struct {
	ID          string
	Name        string
	Description string
	Steps       []Step // Declaration order
	CreatedAt   time.Time
	State       State
	Results     map[string]any // Step key -> result
	Metadata    map[string]any
}

func (w *Workflow) snapshot() Workflow {
	cp := *w
	cp.Steps = make([]Step, len(w.Steps))
	for i, s := range w.Steps {
		cp.Steps[i] = s.clone()
	}
	cp.Results = maps.Clone(w.Results)
	cp.Metadata = maps.Clone(w.Metadata)
	return cp
}

// WorkflowStatus is the serializable status record of a workflow.
type WorkflowStatus struct {
	ID           string                          `json:"id"`
	Name         string                          `json:"name"`
	State        State                           `json:"state"`
	Steps        map[string]scheduler.TaskStatus `json:"steps"`
	Results      map[string]any                  `json:"results"`
	PendingTasks int                             `json:"pending_tasks"`
	CreatedAt    time.Time                       `json:"created_at"`
	Error        string                          `json:"error,omitempty"`
}
