package config

import (
	"os"
	"path/filepath"

	"github.com/aristath/conductor/internal/module"
	"github.com/aristath/conductor/internal/scheduler"
	"github.com/aristath/conductor/internal/workflow"
)

// Dir returns the per-user conductor directory, ~/.conductor, falling back to
// .conductor in the working directory when the home directory is unknown.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conductor"
	}
	return filepath.Join(home, ".conductor")
}

// DefaultPath is the conventional config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// DefaultConfig returns the built-in configuration, matching the package
// defaults of the scheduler, workflow and module packages.
func DefaultConfig() *Config {
	sched := scheduler.DefaultConfig()
	retry := workflow.DefaultRetryConfig()
	breaker := module.DefaultBreakerConfig()

	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Scheduler: SchedulerConfig{
			MaxConcurrent:    sched.MaxConcurrent,
			DefaultTimeout:   sched.DefaultTimeout,
			KillGrace:        sched.KillGrace,
			DependencyPolicy: sched.DependencyPolicy.String(),
		},
		Retry: RetryConfig{
			InitialInterval:     retry.InitialInterval,
			MaxInterval:         retry.MaxInterval,
			Multiplier:          retry.Multiplier,
			RandomizationFactor: retry.RandomizationFactor,
		},
		Breaker: BreakerConfig{
			FailureThreshold: breaker.FailureThreshold,
			OpenTimeout:      breaker.OpenTimeout,
			HalfOpenRequests: breaker.HalfOpenRequests,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(Dir(), "history.db"),
		},
	}
}

// Map returns cfg as nested maps keyed like the koanf tags. Durations are
// rendered as strings so the map round-trips through YAML.
func (c *Config) Map() map[string]any {
	return map[string]any{
		"log": map[string]any{
			"level":  c.Log.Level,
			"format": c.Log.Format,
		},
		"scheduler": map[string]any{
			"max_concurrent":    c.Scheduler.MaxConcurrent,
			"default_timeout":   c.Scheduler.DefaultTimeout.String(),
			"kill_grace":        c.Scheduler.KillGrace.String(),
			"dependency_policy": c.Scheduler.DependencyPolicy,
		},
		"retry": map[string]any{
			"initial_interval":     c.Retry.InitialInterval.String(),
			"max_interval":         c.Retry.MaxInterval.String(),
			"multiplier":           c.Retry.Multiplier,
			"randomization_factor": c.Retry.RandomizationFactor,
		},
		"breaker": map[string]any{
			"failure_threshold":  c.Breaker.FailureThreshold,
			"open_timeout":       c.Breaker.OpenTimeout.String(),
			"half_open_requests": c.Breaker.HalfOpenRequests,
		},
		"history": map[string]any{
			"enabled": c.History.Enabled,
			"path":    c.History.Path,
		},
	}
}

// SchedulerConfig converts the scheduler section.
func (c *Config) SchedulerConfig() (scheduler.Config, error) {
	policy, err := scheduler.ParseDependencyPolicy(c.Scheduler.DependencyPolicy)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		MaxConcurrent:    c.Scheduler.MaxConcurrent,
		DefaultTimeout:   c.Scheduler.DefaultTimeout,
		KillGrace:        c.Scheduler.KillGrace,
		DependencyPolicy: policy,
	}, nil
}

// RetryConfig converts the retry section.
func (c *Config) RetryConfig() workflow.RetryConfig {
	return workflow.RetryConfig{
		InitialInterval:     c.Retry.InitialInterval,
		MaxInterval:         c.Retry.MaxInterval,
		Multiplier:          c.Retry.Multiplier,
		RandomizationFactor: c.Retry.RandomizationFactor,
	}
}

// BreakerConfig converts the breaker section.
func (c *Config) BreakerConfig() module.BreakerConfig {
	return module.BreakerConfig{
		FailureThreshold: c.Breaker.FailureThreshold,
		OpenTimeout:      c.Breaker.OpenTimeout,
		HalfOpenRequests: c.Breaker.HalfOpenRequests,
	}
}
