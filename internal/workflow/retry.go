package workflow

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig configures the delay between attempts of a failed step.
// The number of attempts is bounded by Step.RetryCount, not by elapsed time.
type RetryConfig struct {
	InitialInterval     time.Duration // First delay (default 500ms)
	MaxInterval         time.Duration // Cap on any delay (default 30s)
	Multiplier          float64       // Growth factor (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         30 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

func (c RetryConfig) newBackOff() *backoff.ExponentialBackOff {
	def := DefaultRetryConfig()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialInterval
	if b.InitialInterval <= 0 {
		b.InitialInterval = def.InitialInterval
	}
	b.MaxInterval = c.MaxInterval
	if b.MaxInterval <= 0 {
		b.MaxInterval = def.MaxInterval
	}
	b.Multiplier = c.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = def.Multiplier
	}
	b.RandomizationFactor = c.RandomizationFactor
	b.MaxElapsedTime = 0 // Never stop; RetryCount decides
	b.Reset()
	return b
}

// nextDelay returns the next backoff delay, falling back to MaxInterval.
func nextDelay(b *backoff.ExponentialBackOff) time.Duration {
	d := b.NextBackOff()
	if d == backoff.Stop {
		return b.MaxInterval
	}
	return d
}
