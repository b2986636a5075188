package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/aristath/conductor/internal/config"
	"github.com/aristath/conductor/internal/workflow"
)

const sleepTemplate = `
name: demo
description: two sleeps in a row
steps:
  - name: first
    module_name: sleep
    config:
      duration: 10ms
  - name: second
    module_name: sleep
    dependencies: [first]
    config:
      duration: 10ms
      message: done
`

func TestMain(m *testing.M) {
	lipgloss.SetColorProfile(termenv.Ascii)
	os.Exit(m.Run())
}

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	base := []string{"--config", filepath.Join(dir, "config.yaml"), "--log-level", "error"}

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(base, args...))
	err := root.Execute()
	return out.String(), err
}

func writeTemplate(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	return path
}

func TestModulesCommand(t *testing.T) {
	out, err := execute(t, "modules", "--no-history")
	if err != nil {
		t.Fatalf("modules: %v", err)
	}
	for _, name := range []string{"command", "portscan", "sleep"} {
		if !strings.Contains(out, name) {
			t.Errorf("Expected module %q in output:\n%s", name, out)
		}
	}
}

func TestValidateCommand(t *testing.T) {
	path := writeTemplate(t, "demo.yaml", sleepTemplate)
	out, err := execute(t, "validate", path, "--no-history")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "demo is valid (2 steps)") {
		t.Errorf("Unexpected output: %s", out)
	}

	bad := writeTemplate(t, "bad.yaml", "name: bad\nsteps:\n  - module_name: teleport\n")
	if _, err := execute(t, "validate", bad, "--no-history"); !errors.Is(err, workflow.ErrInvalidWorkflow) {
		t.Errorf("Expected ErrInvalidWorkflow for unknown module, got %v", err)
	}

	cyclic := writeTemplate(t, "cycle.yaml", `
name: cycle
steps:
  - name: a
    module_name: sleep
    dependencies: [b]
  - name: b
    module_name: sleep
    dependencies: [a]
`)
	if _, err := execute(t, "validate", cyclic, "--no-history"); err == nil {
		t.Error("Expected an error for a cyclic template")
	}
}

func TestRunCommandRecordsHistory(t *testing.T) {
	path := writeTemplate(t, "demo.yaml", sleepTemplate)
	history := filepath.Join(t.TempDir(), "history.db")

	out, err := execute(t, "run", path, "--history", history)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "State: completed") {
		t.Errorf("Expected completed workflow, got:\n%s", out)
	}

	out, err = execute(t, "history", "--history", history, "--json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var runs []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		State string `json:"state"`
	}
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("decode history: %v\n%s", err, out)
	}
	if len(runs) != 1 || runs[0].Name != "demo" || runs[0].State != "completed" {
		t.Fatalf("Unexpected history: %+v", runs)
	}

	out, err = execute(t, "history", runs[0].ID, "--history", history)
	if err != nil {
		t.Fatalf("history %s: %v", runs[0].ID, err)
	}
	for _, want := range []string{"two sleeps in a row", "first", "second", runs[0].ID + "/second"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in run details:\n%s", want, out)
		}
	}

	if _, err := execute(t, "history", "missing", "--history", history); err == nil {
		t.Error("Expected an error for an unknown workflow id")
	}
}

func TestRunCommandFailedWorkflow(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := writeTemplate(t, "fail.yaml", `
name: fail
steps:
  - name: boom
    module_name: command
    config:
      command: sh
      args: ["-c", "exit 2"]
  - name: after
    module_name: sleep
    dependencies: [boom]
`)
	out, err := execute(t, "run", path, "--no-history")
	if !errors.Is(err, errWorkflowNotCompleted) {
		t.Fatalf("Expected errWorkflowNotCompleted, got %v", err)
	}
	if !strings.Contains(out, "State: failed") {
		t.Errorf("Expected failed workflow, got:\n%s", out)
	}
}

// TestRunTemplateCancelKillsProcesses simulates a shutdown signal while a
// long-running subprocess is executing.
func TestRunTemplateCancelKillsProcesses(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	path := writeTemplate(t, "long.yaml", `
name: long
steps:
  - name: wait
    module_name: command
    config:
      command: sleep
      args: ["60"]
`)
	cfg := config.DefaultConfig()
	cfg.History.Enabled = false
	c := &cli{cfg: cfg}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	st, err := runTemplate(ctx, c, path, runOptions{})
	if err != nil {
		t.Fatalf("runTemplate: %v", err)
	}
	if st.State != workflow.StateCancelled {
		t.Errorf("Expected cancelled workflow, got %s", st.State)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Shutdown took too long: %v", elapsed)
	}
}

func TestConfigSaveAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved", "config.yaml")
	if _, err := execute(t, "config", "save", path, "--max-concurrent", "3", "--dependency-policy", "wait"); err != nil {
		t.Fatalf("config save: %v", err)
	}

	cfg, err := config.Load(&config.DefaultSource{}, &config.FileSource{Path: path})
	if err != nil {
		t.Fatalf("load saved config: %v", err)
	}
	if cfg.Scheduler.MaxConcurrent != 3 || cfg.Scheduler.DependencyPolicy != "wait" {
		t.Errorf("Unexpected saved scheduler config: %+v", cfg.Scheduler)
	}

	out, err := execute(t, "config", "show", "--max-concurrent", "7")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "max_concurrent: 7") {
		t.Errorf("Expected flag value in shown config:\n%s", out)
	}
}

func TestInvalidFlagValueRejected(t *testing.T) {
	if _, err := execute(t, "modules", "--dependency-policy", "sometimes"); err == nil {
		t.Error("Expected an error for an unknown dependency policy")
	}
}

// TestSignalContextCancellation verifies that signal.NotifyContext produces
// a context that cancels correctly when a signal is received.
func TestSignalContextCancellation(t *testing.T) {
	// SIGUSR1 is safe to send to ourselves
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGUSR1)
	defer stop()

	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("Failed to send SIGUSR1: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(1 * time.Second):
		t.Fatal("Context did not cancel after SIGUSR1")
	}
	if err := ctx.Err(); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
