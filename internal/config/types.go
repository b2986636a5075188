// Package config loads conductor settings from defaults, a YAML file,
// CONDUCTOR_* environment variables and command-line flags.
package config

import (
	"time"
)

// Config is the top-level configuration.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Retry     RetryConfig     `koanf:"retry"`
	Breaker   BreakerConfig   `koanf:"breaker"`
	History   HistoryConfig   `koanf:"history"`
}

// LogConfig configures the global zerolog logger.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// SchedulerConfig configures the task scheduler.
type SchedulerConfig struct {
	MaxConcurrent    int           `koanf:"max_concurrent" validate:"min=1"`
	DefaultTimeout   time.Duration `koanf:"default_timeout" validate:"gt=0"`
	KillGrace        time.Duration `koanf:"kill_grace" validate:"gte=0"`
	DependencyPolicy string        `koanf:"dependency_policy" validate:"oneof=fail wait"`
}

// RetryConfig configures the backoff between step attempts.
type RetryConfig struct {
	InitialInterval     time.Duration `koanf:"initial_interval" validate:"gt=0"`
	MaxInterval         time.Duration `koanf:"max_interval" validate:"gtefield=InitialInterval"`
	Multiplier          float64       `koanf:"multiplier" validate:"gte=1"`
	RandomizationFactor float64       `koanf:"randomization_factor" validate:"gte=0,lte=1"`
}

// BreakerConfig configures the per-module circuit breakers.
type BreakerConfig struct {
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"min=1"`
	OpenTimeout      time.Duration `koanf:"open_timeout" validate:"gt=0"`
	HalfOpenRequests uint32        `koanf:"half_open_requests" validate:"min=1"`
}

// HistoryConfig configures the SQLite run history.
type HistoryConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path" validate:"required_if=Enabled true"`
}
