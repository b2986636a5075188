// Package tui renders workflow progress: a live Bubble Tea view fed by the
// event bus, and static lipgloss reports for finished runs and history.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/workflow"
)

const (
	defaultWidth = 80
	logHeight    = 8
)

type stepState struct {
	module   string
	state    string
	task     string
	attempt  int
	started  time.Time
	duration time.Duration
}

// Model is the Bubble Tea model of the progress view for one workflow.
// It quits on its own once the workflow reaches a terminal state.
type Model struct {
	workflowID string
	name       string
	sub        <-chan events.Event

	order  []string
	steps  map[string]*stepState
	byTask map[string]string // Task id -> step key

	state       string
	errText     string
	spinner     spinner.Model
	log         viewport.Model
	logLines    []string
	width       int
	done        bool
	interrupted bool
}

// New creates a progress view of wf fed by sub. Subscribe before the
// workflow starts so no transition is missed.
func New(sub <-chan events.Event, wf workflow.Workflow) Model {
	m := Model{
		workflowID: wf.ID,
		name:       wf.Name,
		sub:        sub,
		steps:      make(map[string]*stepState, len(wf.Steps)),
		byTask:     make(map[string]string),
		state:      string(wf.State),
		spinner: spinner.New(
			spinner.WithSpinner(spinner.MiniDot),
			spinner.WithStyle(StyleStatusRunning),
		),
		log: viewport.New(defaultWidth-4, logHeight),
	}
	for _, s := range wf.Steps {
		m.order = append(m.order, s.Key())
		m.steps[s.Key()] = &stepState{module: s.ModuleName, state: "pending"}
	}
	return m
}

// Init starts listening for events and animating the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.sub), m.spinner.Tick)
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // unsubscribed or bus closed
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			if !m.done {
				m.interrupted = true
			}
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.log.Width = max(10, msg.Width-4)
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case events.Event:
		m.apply(msg)
		if m.done {
			return m, tea.Quit
		}
		return m, waitForEvent(m.sub)
	}
	return m, nil
}

func (m *Model) apply(e events.Event) {
	switch ev := e.(type) {
	case events.WorkflowStateEvent:
		if ev.WorkflowID != m.workflowID {
			return
		}
		m.state = ev.To
		if ev.Err != nil {
			m.errText = ev.Err.Error()
		}
		m.logf(ev.Timestamp, "workflow %s", ev.To)
		if workflow.State(ev.To).Terminal() {
			m.done = true
		}

	case events.StepSubmittedEvent:
		if ev.WorkflowID != m.workflowID {
			return
		}
		s := m.step(ev.Step)
		s.state = "submitted"
		s.task = ev.Task
		s.attempt = ev.Attempt
		s.duration = 0
		m.byTask[ev.Task] = ev.Step
		m.logf(ev.Timestamp, "%s submitted as %s (attempt %d)", ev.Step, ev.Task, ev.Attempt)

	case events.TaskStartedEvent:
		key, s := m.current(ev.ID)
		if s == nil {
			return
		}
		s.state = "running"
		s.started = ev.Timestamp
		m.logf(ev.Timestamp, "%s running", key)

	case events.TaskCompletedEvent:
		if _, s := m.current(ev.ID); s != nil {
			s.duration = ev.Duration
		}

	case events.TaskFailedEvent:
		key, s := m.current(ev.ID)
		if s == nil {
			return
		}
		s.duration = ev.Duration
		m.logf(ev.Timestamp, "%s attempt %d failed: %v", key, s.attempt, ev.Err)

	case events.StepSettledEvent:
		if ev.WorkflowID != m.workflowID {
			return
		}
		s := m.step(ev.Step)
		s.attempt = ev.Attempts
		if ev.Err != nil {
			s.state = "failed"
			m.logf(ev.Timestamp, "%s failed: %v", ev.Step, ev.Err)
		} else {
			s.state = "completed"
			m.logf(ev.Timestamp, "%s completed", ev.Step)
		}

	default:
		return
	}

	m.log.SetContent(strings.Join(m.logLines, "\n"))
	m.log.GotoBottom()
}

// current returns the step whose latest task is taskID.
func (m *Model) current(taskID string) (string, *stepState) {
	key, ok := m.byTask[taskID]
	if !ok {
		return "", nil
	}
	s := m.steps[key]
	if s == nil || s.task != taskID {
		return "", nil
	}
	return key, s
}

func (m *Model) step(key string) *stepState {
	s, ok := m.steps[key]
	if !ok {
		s = &stepState{state: "pending"}
		m.steps[key] = s
		m.order = append(m.order, key)
	}
	return s
}

func (m *Model) logf(ts time.Time, format string, args ...any) {
	if ts.IsZero() {
		ts = time.Now()
	}
	m.logLines = append(m.logLines, ts.Format("15:04:05")+" "+fmt.Sprintf(format, args...))
}

func (m Model) counts() progressCounts {
	var p progressCounts
	for _, s := range m.steps {
		switch s.state {
		case "completed":
			p.completed++
		case "failed":
			p.failed++
		case "running":
			p.running++
		default:
			p.pending++
		}
	}
	return p
}

// View renders the header, progress bar, step table and event log.
func (m Model) View() string {
	width := m.width
	if width == 0 {
		width = defaultWidth
	}

	var b strings.Builder
	b.WriteString(StyleTitle.Render(fmt.Sprintf("%s (%s)", m.name, m.workflowID)))
	b.WriteString("\n")
	status := StateStyle(m.state).Render(m.state)
	if !m.done {
		status = m.spinner.View() + " " + status
	}
	b.WriteString("State: " + status + "\n")
	if m.errText != "" {
		b.WriteString("Error: " + StyleStatusFailed.Render(m.errText) + "\n")
	}
	b.WriteString("\n")
	b.WriteString(m.counts().view(min(width, 60)))
	b.WriteString("\n")

	rows := make([][]string, 0, len(m.order))
	for _, key := range m.order {
		s := m.steps[key]
		elapsed := ""
		switch {
		case s.duration > 0:
			elapsed = s.duration.Round(time.Millisecond).String()
		case s.state == "running" && !s.started.IsZero():
			elapsed = time.Since(s.started).Round(100 * time.Millisecond).String()
		}
		attempt := ""
		if s.attempt > 0 {
			attempt = fmt.Sprint(s.attempt)
		}
		rows = append(rows, []string{key, s.module, StateStyle(s.state).Render(s.state), attempt, elapsed})
	}
	Table(&b, []string{"STEP", "MODULE", "STATE", "ATTEMPT", "TIME"}, rows)

	b.WriteString("\n")
	b.WriteString(StyleBorder.Width(max(10, width-2)).Render(m.log.View()))
	b.WriteString("\n")
	b.WriteString(HelpView())
	b.WriteString("\n")
	return b.String()
}

// Done reports whether the workflow reached a terminal state.
func (m Model) Done() bool { return m.done }

// Interrupted reports whether the user asked to cancel the workflow.
func (m Model) Interrupted() bool { return m.interrupted }

// State returns the last workflow state seen.
func (m Model) State() string { return m.state }
