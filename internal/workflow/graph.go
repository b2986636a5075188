package workflow

import (
	"fmt"
	"strings"

	"github.com/gammazero/toposort"
)

// stepGraph is the validated dependency graph of a workflow's steps.
type stepGraph struct {
	order      []string            // Topological order of step keys
	dependents map[string][]string // Step key -> steps that depend on it directly
}

// buildGraph checks that step keys are unique, every dependency names a step
// of the same workflow, and the graph has no cycle.
func buildGraph(steps []Step) (*stepGraph, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: no steps", ErrInvalidWorkflow)
	}

	keys := make(map[string]bool, len(steps))
	for i, step := range steps {
		if strings.TrimSpace(step.ModuleName) == "" {
			return nil, fmt.Errorf("%w: step %d has no module", ErrInvalidWorkflow, i)
		}
		key := step.Key()
		if keys[key] {
			return nil, fmt.Errorf("%w: duplicate step %q", ErrInvalidWorkflow, key)
		}
		keys[key] = true
	}

	g := &stepGraph{dependents: make(map[string][]string)}
	var edges []toposort.Edge
	for _, step := range steps {
		key := step.Key()
		if len(step.Dependencies) == 0 {
			// Edge from nil keeps isolated steps in the result
			edges = append(edges, toposort.Edge{nil, key})
			continue
		}
		for _, dep := range step.Dependencies {
			if !keys[dep] {
				return nil, fmt.Errorf("%w: step %q depends on unknown step %q", ErrInvalidWorkflow, key, dep)
			}
			if dep == key {
				return nil, fmt.Errorf("%w: step %q depends on itself", ErrInvalidWorkflow, key)
			}
			// Edge (dep, key) means dep must come before key
			edges = append(edges, toposort.Edge{dep, key})
			g.dependents[dep] = append(g.dependents[dep], key)
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: step graph contains a cycle: %v", ErrInvalidWorkflow, err)
	}

	g.order = make([]string, 0, len(steps))
	for _, id := range sorted {
		if id != nil {
			g.order = append(g.order, id.(string))
		}
	}
	if len(g.order) != len(steps) {
		return nil, fmt.Errorf("%w: topological sort lost %d steps", ErrInvalidWorkflow, len(steps)-len(g.order))
	}
	return g, nil
}

// downstream returns every step that transitively depends on key, in
// topological order.
func (g *stepGraph) downstream(key string) []string {
	seen := make(map[string]bool)
	var visit func(string)
	visit = func(k string) {
		for _, d := range g.dependents[k] {
			if !seen[d] {
				seen[d] = true
				visit(d)
			}
		}
	}
	visit(key)

	out := make([]string, 0, len(seen))
	for _, k := range g.order {
		if seen[k] {
			out = append(out, k)
		}
	}
	return out
}
