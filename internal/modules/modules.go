// Package modules holds the built-in workflow modules.
package modules

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/aristath/conductor/internal/module"
	"github.com/aristath/conductor/internal/process"
)

// Register adds every built-in module to reg. Subprocesses started by the
// command and portscan modules are tracked by pm, which may be nil.
func Register(reg *module.Registry, pm *process.Manager) error {
	builtins := []struct {
		name        string
		description string
		factory     module.Factory
	}{
		{CommandModule, "Runs a command in its own process group and captures its output", NewCommandFactory(pm)},
		{PortScanModule, "Scans target hosts for open ports and services using nmap", NewPortScanFactory(pm)},
		{SleepModule, "Waits for a duration, then returns a message", NewSleep},
	}
	for _, b := range builtins {
		if err := reg.Register(b.name, b.description, b.factory); err != nil {
			return err
		}
	}
	return nil
}

// durationValue reads a duration from config: Go duration strings, or a bare
// number of seconds.
func durationValue(v any) (time.Duration, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return val, nil
	case string:
		s := strings.TrimSpace(val)
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", val)
		}
		return d, nil
	default:
		secs, err := cast.ToFloat64E(val)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %v: %w", val, err)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
}
