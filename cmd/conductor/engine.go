package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/aristath/conductor/internal/config"
	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/module"
	"github.com/aristath/conductor/internal/modules"
	"github.com/aristath/conductor/internal/persistence"
	"github.com/aristath/conductor/internal/process"
	"github.com/aristath/conductor/internal/scheduler"
	"github.com/aristath/conductor/internal/workflow"
)

// engine is one fully wired scheduler, workflow manager and history recorder.
type engine struct {
	bus      *events.EventBus
	procs    *process.Manager
	registry *module.Registry
	sched    *scheduler.TaskScheduler
	manager  *workflow.Manager
	store    persistence.Store // nil when history is disabled
	recorder *persistence.Recorder
}

func newEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	schedCfg, err := cfg.SchedulerConfig()
	if err != nil {
		return nil, err
	}

	e := &engine{
		bus:      events.NewEventBus(),
		procs:    process.NewManager(),
		registry: module.NewRegistry(),
	}
	if err := modules.Register(e.registry, e.procs); err != nil {
		e.bus.Close()
		return nil, err
	}

	if cfg.History.Enabled {
		store, err := persistence.NewSQLiteStore(ctx, cfg.History.Path)
		if err != nil {
			e.bus.Close()
			return nil, fmt.Errorf("open history: %w", err)
		}
		e.store = store
		e.recorder = persistence.NewRecorder(store, e.bus, persistence.WithRecorderLogger(log.Logger))
	}

	e.sched = scheduler.New(schedCfg,
		scheduler.WithLogger(log.Logger),
		scheduler.WithEventBus(e.bus),
	)
	e.manager = workflow.NewManager(e.sched, e.registry,
		workflow.WithLogger(log.Logger),
		workflow.WithEventBus(e.bus),
		workflow.WithRetryConfig(cfg.RetryConfig()),
		workflow.WithBreakers(module.NewBreakerRegistry(cfg.BreakerConfig())),
	)
	return e, nil
}

// Close shuts down in dependency order so the recorder sees every event.
func (e *engine) Close() error {
	var errs []error
	errs = append(errs, e.manager.Close(), e.sched.Close())
	if e.recorder != nil {
		errs = append(errs, e.recorder.Close())
	}
	e.bus.Close()
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	return errors.Join(errs...)
}
