package modules

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cast"

	"github.com/aristath/conductor/internal/module"
	"github.com/aristath/conductor/internal/process"
)

// CommandModule is the registered name of the command module.
const CommandModule = "command"

// CommandResult is what a command step produces.
type CommandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Command runs one subprocess per attempt.
type Command struct {
	name string
	args []string
	dir  string
	env  []string
	pm   *process.Manager

	mu  sync.Mutex
	pid int // process group of the running attempt, 0 when idle
}

// NewCommandFactory returns the factory of the command module. Config keys:
// command (required), args, dir, env (map of extra variables).
func NewCommandFactory(pm *process.Manager) module.Factory {
	return func(cfg module.Config) (module.Handler, error) {
		name := cast.ToString(cfg["command"])
		if name == "" {
			return nil, errors.New("command: missing \"command\"")
		}
		var args []string
		if v, ok := cfg["args"]; ok && v != nil {
			var err error
			if args, err = cast.ToStringSliceE(v); err != nil {
				return nil, fmt.Errorf("command: invalid \"args\": %w", err)
			}
		}
		var env map[string]string
		if v, ok := cfg["env"]; ok && v != nil {
			var err error
			if env, err = cast.ToStringMapStringE(v); err != nil {
				return nil, fmt.Errorf("command: invalid \"env\": %w", err)
			}
		}

		c := &Command{
			name: name,
			args: args,
			dir:  cast.ToString(cfg["dir"]),
			pm:   pm,
		}
		if len(env) > 0 {
			c.env = os.Environ()
			for k, v := range env {
				c.env = append(c.env, k+"="+v)
			}
		}
		return c, nil
	}
}

// Run executes the command. A non-zero exit fails the step; the captured
// output is returned with the error.
func (c *Command) Run(ctx context.Context) (any, error) {
	cmd := process.NewCommand(ctx, c.name, c.args...)
	cmd.Dir = c.dir
	cmd.Env = c.env

	r, err := process.Start(cmd, c.pm)
	if err != nil {
		return CommandResult{ExitCode: -1}, fmt.Errorf("%s: %w", c.name, err)
	}
	c.setPid(r.Pid())
	res, err := r.Wait()
	c.setPid(0)

	out := CommandResult{
		Stdout:   string(res.Stdout),
		Stderr:   string(res.Stderr),
		ExitCode: res.ExitCode,
	}
	if err != nil {
		return out, fmt.Errorf("%s: %w", c.name, err)
	}
	return out, nil
}

func (c *Command) setPid(pid int) {
	c.mu.Lock()
	c.pid = pid
	c.mu.Unlock()
}

func (c *Command) runningPid() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid
}

// Kill sends SIGKILL to the command's process group. It is a no-op when no
// attempt is running.
func (c *Command) Kill() error {
	pid := c.runningPid()
	if pid == 0 {
		return nil
	}
	return process.KillPid(pid)
}
