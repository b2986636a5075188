package module

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerConfig configures per-module circuit breakers.
type BreakerConfig struct {
	FailureThreshold uint32        // Consecutive failures that open the breaker (default 5)
	OpenTimeout      time.Duration // Time spent open before probing (default 30s)
	HalfOpenRequests uint32        // Probe requests allowed while half-open (default 3)
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 3,
	}
}

// BreakerRegistry manages one circuit breaker per module name.
type BreakerRegistry struct {
	cfg    BreakerConfig
	logger zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates a breaker registry. Zero fields of cfg take defaults.
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = def.HalfOpenRequests
	}
	return &BreakerRegistry{
		cfg:      cfg,
		logger:   log.Logger.With().Str("component", "breaker").Logger(),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for a module, creating it on first use.
func (r *BreakerRegistry) Get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	threshold := r.cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: r.cfg.HalfOpenRequests,
		Interval:    0, // Counts only reset on state change
		Timeout:     r.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn().
				Str("module", name).
				Stringer("from", from).
				Stringer("to", to).
				Msg("Circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			// Cancellations and deadlines say nothing about module health.
			if err == nil {
				return true
			}
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	r.breakers[name] = cb
	return cb
}

// Run executes h through the breaker of module name.
func (r *BreakerRegistry) Run(ctx context.Context, name string, h Handler) (any, error) {
	return r.Get(name).Execute(func() (interface{}, error) {
		return h.Run(ctx)
	})
}

// State returns the current state of a module's breaker.
func (r *BreakerRegistry) State(name string) gobreaker.State {
	return r.Get(name).State()
}

// IsOpen reports whether err was produced by a breaker rejecting the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
