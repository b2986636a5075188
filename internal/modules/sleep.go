package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cast"

	"github.com/aristath/conductor/internal/module"
)

// SleepModule is the registered name of the sleep module.
const SleepModule = "sleep"

// Sleep waits for a fixed duration. Useful for demos and for exercising
// timeouts and pause/resume.
type Sleep struct {
	duration time.Duration
	message  string
}

// NewSleep configures a Sleep from duration and message.
func NewSleep(cfg module.Config) (module.Handler, error) {
	d, err := durationValue(cfg["duration"])
	if err != nil {
		return nil, fmt.Errorf("sleep: %w", err)
	}
	if d < 0 {
		return nil, fmt.Errorf("sleep: negative duration %s", d)
	}
	msg := cast.ToString(cfg["message"])
	if msg == "" {
		msg = fmt.Sprintf("slept %s", d)
	}
	return &Sleep{duration: d, message: msg}, nil
}

// Run returns the message once the duration elapsed, or ctx's error.
func (s *Sleep) Run(ctx context.Context) (any, error) {
	t := time.NewTimer(s.duration)
	defer t.Stop()
	select {
	case <-t.C:
		return s.message, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
