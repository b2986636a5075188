// Package module defines the contract between workflow steps and the code that
// executes them, plus the registry that maps module names to factories.
package module

import (
	"context"
	"errors"
	"sync"
)

// ErrUnknownModule is returned when resolving a name with no registered factory.
var ErrUnknownModule = errors.New("unknown module")

// Config is module-specific configuration, opaque to the runtime.
type Config map[string]any

// Handler is a configured module instance ready to run.
type Handler interface {
	Run(ctx context.Context) (any, error)
}

// Factory configures a new Handler from step configuration.
type Factory func(Config) (Handler, error)

// Cleaner is implemented by modules holding resources that must be released
// once the instance is done or its workflow is cancelled.
type Cleaner interface {
	Cleanup() error
}

// Canceler is the cooperative tier of cancellation: ask the module to stop.
type Canceler interface {
	Cancel()
}

// Killer is the forced tier of cancellation, used when a module ignores its
// context past the kill grace period.
type Killer interface {
	Kill() error
}

// Instance is a live handler tracked by its owner until cleanup.
type Instance struct {
	Module  string
	Handler Handler

	once       sync.Once
	cleanupErr error
}

// NewInstance wraps h for module name.
func NewInstance(name string, h Handler) *Instance {
	return &Instance{Module: name, Handler: h}
}

// Run executes the handler.
func (i *Instance) Run(ctx context.Context) (any, error) {
	return i.Handler.Run(ctx)
}

// Cleanup calls the handler's Cleanup at most once and returns its result.
func (i *Instance) Cleanup() error {
	i.once.Do(func() {
		if c, ok := i.Handler.(Cleaner); ok {
			i.cleanupErr = c.Cleanup()
		}
	})
	return i.cleanupErr
}

// Cancel asks the handler to stop if it supports cooperative cancellation.
func (i *Instance) Cancel() {
	if c, ok := i.Handler.(Canceler); ok {
		c.Cancel()
	}
}

// Kill forcibly stops the handler if it supports it.
func (i *Instance) Kill() error {
	if k, ok := i.Handler.(Killer); ok {
		return k.Kill()
	}
	return nil
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context) (any, error)

// Run calls f(ctx).
func (f HandlerFunc) Run(ctx context.Context) (any, error) {
	return f(ctx)
}
