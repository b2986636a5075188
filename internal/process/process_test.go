package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"
)

func requireBash(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
}

func TestExecute_BasicExecution(t *testing.T) {
	cmd := NewCommand(context.Background(), "echo", "hello")

	res, err := Execute(cmd, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(string(res.Stdout), "hello") {
		t.Errorf("Expected stdout to contain 'hello', got: %s", res.Stdout)
	}
	if len(res.Stderr) > 0 {
		t.Errorf("Expected empty stderr, got: %s", res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", res.ExitCode)
	}
}

// Output well above the 64KB pipe buffer must not deadlock.
func TestExecute_LargeOutput(t *testing.T) {
	requireBash(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := NewCommand(ctx, "bash", "-c", "for i in $(seq 1 20000); do echo line-$i; echo err-$i >&2; done")

	start := time.Now()
	res, err := Execute(cmd, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v (took %v)", err, time.Since(start))
	}

	lines := strings.Split(strings.TrimSpace(string(res.Stdout)), "\n")
	if len(lines) != 20000 {
		t.Errorf("Expected 20000 lines of output, got %d", len(lines))
	}
}

func TestExecute_StderrCapture(t *testing.T) {
	requireBash(t)
	cmd := NewCommand(context.Background(), "bash", "-c", "echo error >&2; echo ok")

	res, err := Execute(cmd, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(string(res.Stdout), "ok") {
		t.Errorf("Expected stdout to contain 'ok', got: %s", res.Stdout)
	}
	if !strings.Contains(string(res.Stderr), "error") {
		t.Errorf("Expected stderr to contain 'error', got: %s", res.Stderr)
	}
}

func TestExecute_NonZeroExitCode(t *testing.T) {
	requireBash(t)
	cmd := NewCommand(context.Background(), "bash", "-c", "echo test-output; exit 3")

	res, err := Execute(cmd, nil)
	if err == nil {
		t.Fatal("Expected error due to non-zero exit code, got nil")
	}
	if !strings.Contains(string(res.Stdout), "test-output") {
		t.Errorf("Expected stdout to be captured despite error, got: %s", res.Stdout)
	}
	if res.ExitCode != 3 {
		t.Errorf("Expected exit code 3, got %d", res.ExitCode)
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Expected error to wrap *exec.ExitError, got %T: %v", err, err)
	}
}

func TestExecute_ContextCancellation(t *testing.T) {
	requireBash(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	// The child keeps stdout open; killing only bash would leave Execute blocked.
	cmd := NewCommand(ctx, "bash", "-c", "sleep 30 & sleep 30")

	start := time.Now()
	_, err := Execute(cmd, nil)
	if err == nil {
		t.Fatal("Expected error due to context cancellation, got nil")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Execute took %v after cancellation", elapsed)
	}
}

func TestExecute_TracksWhileRunning(t *testing.T) {
	requireBash(t)
	pm := NewManager()
	cmd := NewCommand(context.Background(), "bash", "-c", "sleep 30")

	done := make(chan error, 1)
	go func() {
		_, err := Execute(cmd, pm)
		done <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for pm.Count() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("process was never tracked")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := pm.KillAll(); err != nil {
		t.Fatalf("KillAll: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected killed process to report an error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after KillAll")
	}

	if pm.Count() != 0 {
		t.Errorf("Expected 0 tracked processes after exit, got %d", pm.Count())
	}
}

func TestManager_KillsProcessTree(t *testing.T) {
	requireBash(t)
	pm := NewManager()

	cmd := NewCommand(context.Background(), "bash", "-c", "sleep 30 & wait")
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start process: %v", err)
	}
	parentPID := cmd.Process.Pid
	pm.Track(cmd)

	time.Sleep(200 * time.Millisecond)
	if err := pm.KillAll(); err != nil {
		t.Fatalf("KillAll: %v", err)
	}

	err := cmd.Wait()
	pm.Untrack(cmd)

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && !status.Signaled() {
			t.Errorf("Expected process to be signaled, got exit status: %v", status)
		}
	}

	// pgrep exits 1 when nothing matches.
	out, err := exec.Command("pgrep", "-P", fmt.Sprintf("%d", parentPID)).CombinedOutput()
	if err == nil && len(strings.TrimSpace(string(out))) > 0 {
		t.Errorf("Child processes still running after KillAll: %s", out)
	}
}

func TestKillGroup_NotStarted(t *testing.T) {
	cmd := NewCommand(context.Background(), "true")
	if err := KillGroup(cmd); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted, got %v", err)
	}
	if err := KillPid(0); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted for pid 0, got %v", err)
	}
}

func TestStart_KillPidFromAnotherGoroutine(t *testing.T) {
	requireBash(t)
	cmd := NewCommand(context.Background(), "bash", "-c", "sleep 30 & sleep 30")

	r, err := Start(cmd, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if r.Pid() <= 0 {
		t.Fatalf("Expected a pid, got %d", r.Pid())
	}

	done := make(chan error, 1)
	go func() {
		_, err := r.Wait()
		done <- err
	}()

	pid := r.Pid()
	killed := make(chan error, 1)
	go func() { killed <- KillPid(pid) }()
	if err := <-killed; err != nil {
		t.Fatalf("KillPid: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected killed process to report an error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after KillPid")
	}
}
