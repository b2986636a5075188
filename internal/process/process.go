// Package process runs subprocesses in their own process group so that a
// whole subprocess tree can be killed at once.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ErrNotStarted is returned when signalling a command that never started.
var ErrNotStarted = errors.New("process not started")

// NewCommand creates an exec.Cmd in a new process group. When ctx ends the
// whole group is killed, not just the immediate child.
func NewCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return KillGroup(cmd)
	}
	cmd.WaitDelay = 2 * time.Second
	return cmd
}

// Result is the captured output of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int // -1 when the process was killed by a signal or never ran
}

// Running is a started command whose output is being drained.
type Running struct {
	cmd    *exec.Cmd
	pm     *Manager
	pid    int
	wg     sync.WaitGroup
	stdout bytes.Buffer
	stderr bytes.Buffer
}

// Start starts cmd and begins draining stdout and stderr concurrently, so
// output larger than the pipe buffer cannot deadlock the child. When pm is
// non-nil the process is tracked until Wait returns.
func Start(cmd *exec.Cmd, pm *Manager) (*Running, error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}
	r := &Running{cmd: cmd, pm: pm, pid: cmd.Process.Pid}
	if pm != nil {
		pm.Track(cmd)
	}

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		_, _ = io.Copy(&r.stdout, stdoutPipe)
	}()
	go func() {
		defer r.wg.Done()
		_, _ = io.Copy(&r.stderr, stderrPipe)
	}()
	return r, nil
}

// Pid returns the process id, which is also the process group id.
func (r *Running) Pid() int {
	return r.pid
}

// Wait blocks until the command exits and its output is drained.
//
// A non-zero exit is returned as an error wrapping *exec.ExitError; the
// captured output is returned either way.
func (r *Running) Wait() (Result, error) {
	if r.pm != nil {
		defer r.pm.Untrack(r.cmd)
	}
	r.wg.Wait()

	waitErr := r.cmd.Wait()
	res := Result{
		Stdout:   r.stdout.Bytes(),
		Stderr:   r.stderr.Bytes(),
		ExitCode: -1,
	}
	if r.cmd.ProcessState != nil {
		res.ExitCode = r.cmd.ProcessState.ExitCode()
	}

	if waitErr != nil {
		if len(res.Stderr) > 0 {
			return res, fmt.Errorf("command failed: %w (stderr: %s)", waitErr, bytes.TrimSpace(res.Stderr))
		}
		return res, fmt.Errorf("command failed: %w", waitErr)
	}
	return res, nil
}

// Execute runs cmd to completion. See Start and Wait.
func Execute(cmd *exec.Cmd, pm *Manager) (Result, error) {
	r, err := Start(cmd, pm)
	if err != nil {
		return Result{ExitCode: -1}, err
	}
	return r.Wait()
}

// KillGroup sends SIGKILL to the process group of cmd. It must not race
// with cmd.Start; callers on other goroutines use KillPid instead.
func KillGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return ErrNotStarted
	}
	return KillPid(cmd.Process.Pid)
}

// KillPid sends SIGKILL to the process group led by pid.
func KillPid(pid int) error {
	if pid <= 0 {
		return ErrNotStarted
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to kill process group %d: %w", pid, err)
	}
	return nil
}

// Manager tracks running subprocesses so they can all be killed on shutdown.
type Manager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{procs: make(map[int]*exec.Cmd)}
}

// Track registers a started command.
func (pm *Manager) Track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.procs[cmd.Process.Pid] = cmd
}

// Untrack forgets a command once it has been waited for.
func (pm *Manager) Untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.procs, cmd.Process.Pid)
}

// KillAll kills the process group of every tracked command.
func (pm *Manager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for pid := range pm.procs {
		if err := KillPid(pid); err != nil {
			errs = append(errs, fmt.Errorf("kill process %d: %w", pid, err))
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of tracked commands.
func (pm *Manager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}
