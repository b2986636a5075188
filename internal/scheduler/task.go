package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultTaskTimeout applies to tasks submitted without a timeout.
const DefaultTaskTimeout = 300 * time.Second

// Priority orders ready tasks. Higher values dispatch first.
// The zero value is PriorityMedium.
type Priority int

const (
	PriorityLow Priority = iota - 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority converts a priority name into a Priority.
// An empty string yields PriorityMedium.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityMedium, fmt.Errorf("unknown priority %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// HandlerFunc is the unit of work a task executes. The context is cancelled when
// the task times out, is cancelled, or the scheduler closes.
type HandlerFunc func(ctx context.Context) (any, error)

// Task describes one unit of work. Tasks are treated as immutable once scheduled.
type Task struct {
	ID           string        // Unique identifier
	Handler      HandlerFunc   // Work to execute
	Priority     Priority      // Higher runs first among ready tasks
	CreatedAt    time.Time     // Tie-break for equal priority; zero means "now"
	Dependencies []string      // Task IDs that must complete first
	Timeout      time.Duration // Zero means DefaultTaskTimeout

	// Kill forcibly stops the work if the handler has not returned within the
	// kill grace period after its context was cancelled. Optional.
	Kill func() error
}

func (t *Task) validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: task id is required", ErrInvalidTask)
	}
	if t.Handler == nil {
		return fmt.Errorf("%w: task %q has no handler", ErrInvalidTask, t.ID)
	}
	for _, dep := range t.Dependencies {
		if dep == t.ID {
			return fmt.Errorf("%w: task %q depends on itself", ErrInvalidTask, t.ID)
		}
	}
	return nil
}

func cloneTask(task Task) *Task {
	cp := task
	if task.Dependencies != nil {
		cp.Dependencies = append([]string(nil), task.Dependencies...)
	}
	return &cp
}
