package tui

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/aristath/conductor/internal/module"
	"github.com/aristath/conductor/internal/persistence"
	"github.com/aristath/conductor/internal/scheduler"
	"github.com/aristath/conductor/internal/workflow"
)

func TestMain(m *testing.M) {
	// Plain text output regardless of the terminal running the tests.
	lipgloss.SetColorProfile(termenv.Ascii)
	os.Exit(m.Run())
}

func TestTableAlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	Table(&buf, []string{"A", "B"}, [][]string{
		{"short", "x"},
		{"much-longer", StyleStatusFailed.Render("y")},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d:\n%s", len(lines), buf.String())
	}
	col := strings.Index(lines[0], "B")
	for _, line := range lines[1:] {
		if idx := strings.LastIndex(line, " ") + 1; idx != col {
			t.Errorf("Column misaligned in %q: %d != %d", line, idx, col)
		}
	}
}

func TestRenderStatus(t *testing.T) {
	st := workflow.WorkflowStatus{
		ID:    "wf-1",
		Name:  "recon",
		State: workflow.StateFailed,
		Error: "step scan failed",
		Steps: map[string]scheduler.TaskStatus{
			"scan":   {ID: "wf-1/scan", State: scheduler.TaskFailed, Err: errors.New("exit status 1")},
			"ping":   {ID: "wf-1/ping", State: scheduler.TaskCompleted, Result: "pong\n"},
			"report": {State: scheduler.TaskNotFound},
		},
	}
	var buf bytes.Buffer
	RenderStatus(&buf, st)
	out := buf.String()
	for _, want := range []string{"Workflow recon (wf-1)", "State: failed", "Error: step scan failed", "exit status 1", "pong", "not submitted", "Completed: 1  Failed: 1  Pending: 0"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in:\n%s", want, out)
		}
	}
	// Steps are listed alphabetically.
	table := out[strings.Index(out, "STEP"):]
	if strings.Index(table, "ping") > strings.Index(table, "report") || strings.Index(table, "report") > strings.Index(table, "scan") {
		t.Errorf("Steps out of order:\n%s", out)
	}
}

func TestRenderModules(t *testing.T) {
	reg := module.NewRegistry()
	noop := func(module.Config) (module.Handler, error) {
		return module.HandlerFunc(func(context.Context) (any, error) { return nil, nil }), nil
	}
	reg.MustRegister("zeta", "last one", noop)
	reg.MustRegister("alpha", "first one", noop)

	var buf bytes.Buffer
	RenderModules(&buf, reg)
	out := buf.String()
	if !strings.Contains(out, "alpha") || !strings.Contains(out, "first one") {
		t.Errorf("Missing module row:\n%s", out)
	}
	if strings.Index(out, "alpha") > strings.Index(out, "zeta") {
		t.Errorf("Modules out of order:\n%s", out)
	}
}

func TestRenderRuns(t *testing.T) {
	var buf bytes.Buffer
	RenderRuns(&buf, nil)
	if !strings.Contains(buf.String(), "No recorded runs") {
		t.Errorf("Unexpected empty output: %s", buf.String())
	}

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	buf.Reset()
	RenderRuns(&buf, []*persistence.WorkflowRecord{
		{ID: "wf-1", Name: "recon", State: "completed", CreatedAt: created, UpdatedAt: created.Add(2500 * time.Millisecond)},
	})
	for _, want := range []string{"wf-1", "recon", "completed", "2.5s"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Expected %q in:\n%s", want, buf.String())
		}
	}
}

func TestRenderRun(t *testing.T) {
	wf := &persistence.WorkflowRecord{
		ID:          "wf-1",
		Name:        "recon",
		Description: "scan then report",
		State:       "completed",
		Steps: []persistence.StepRecord{
			{Step: "scan", Module: "portscan", State: "completed", Attempts: 2, Result: `{"hosts":[]}`},
		},
	}
	tasks := []persistence.TaskRecord{
		{TaskID: "wf-1/scan", State: "failed", Error: "timeout", Duration: time.Second},
		{TaskID: "wf-1/scan#2", State: "completed", Duration: 2 * time.Second},
	}

	var buf bytes.Buffer
	RenderRun(&buf, wf, tasks)
	out := buf.String()
	for _, want := range []string{"scan then report", "portscan", `{"hosts":[]}`, "wf-1/scan#2", "timeout", "2s"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in:\n%s", want, out)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("abcdefghijkl", 8); got != "abcde..." {
		t.Errorf("truncate long = %q", got)
	}
	if got := summarize("a\n  b\tc"); got != "a b c" {
		t.Errorf("summarize = %q", got)
	}
}
