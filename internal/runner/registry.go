package runner

import (
	"fmt"
	"sort"
)

// Module is the interface bundled block packages implement to register
// their runners.
type Module interface {
	Register(r *Registry)
}

// Registry maps block type tags to their runners for a single app
// instance. It is populated once during startup and read-only after.
type Registry struct {
	runners map[string]Runner
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

// Register binds a type tag to a runner. Registering the same tag twice
// is a programmer error and panics during startup.
func (r *Registry) Register(typeTag string, run Runner) {
	if _, dup := r.runners[typeTag]; dup {
		panic(fmt.Sprintf("runner for block type %q registered twice", typeTag))
	}
	r.runners[typeTag] = run
}

// Lookup returns the runner for a type tag.
func (r *Registry) Lookup(typeTag string) (Runner, bool) {
	run, ok := r.runners[typeTag]
	return run, ok
}

// Types returns the registered type tags in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.runners))
	for t := range r.runners {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
