package module

import (
	"fmt"
	"sort"
	"sync"
)

type entry struct {
	description string
	factory     Factory
}

// Registry maintains known module factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]entry{}}
}

// Register installs a module factory. Returns an error if the name already exists.
func (r *Registry) Register(name, description string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("module: name is required")
	}
	if factory == nil {
		return fmt.Errorf("module: factory is required for %s", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("module: %s already registered", name)
	}
	r.entries[name] = entry{description: description, factory: factory}
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(name, description string, factory Factory) {
	if err := r.Register(name, description, factory); err != nil {
		panic(err)
	}
}

// Resolve configures a new handler for the named module.
func (r *Registry) Resolve(name string, cfg Config) (Handler, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	if cfg == nil {
		cfg = Config{}
	}
	h, err := e.factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure %s: %w", name, err)
	}
	if h == nil {
		return nil, fmt.Errorf("configure %s: factory returned no handler", name)
	}
	return h, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Describe returns the description a module was registered with.
func (r *Registry) Describe(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.description, ok
}

// Names returns a sorted list of registered module names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
