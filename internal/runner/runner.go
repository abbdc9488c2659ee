// Package runner defines the block-execution capability the engine
// consumes and the registry that maps block type tags to it.
//
// The engine never knows what a block does; it resolves the block's
// input bindings to concrete values, hands them to the registered
// Runner, and records the returned value or error. Everything
// domain-specific lives behind this interface, in modules/.
package runner

import (
	"context"

	"github.com/zclconf/go-cty/cty"
)

// Input carries everything a runner may consume for one block
// execution. Values are passed by value; runners must not retain or
// mutate the maps after returning.
type Input struct {
	// BlockID identifies the block instance being executed.
	BlockID string

	// BlockType is the registered type tag.
	BlockType string

	// Args holds the block's resolved input bindings.
	Args map[string]cty.Value

	// Vars is the read-only workflow environment.
	Vars map[string]cty.Value

	// Iteration is the loop iteration index when the block runs inside
	// an active loop scope, else 0.
	Iteration int

	// Branch is the parallel branch index, or -1 outside a parallel
	// container.
	Branch int
}

// Runner executes one block with resolved inputs.
type Runner interface {
	Run(ctx context.Context, in *Input) (cty.Value, error)
}

// RunnerFunc adapts an ordinary function to the Runner interface.
type RunnerFunc func(ctx context.Context, in *Input) (cty.Value, error)

// Run calls the underlying function.
func (f RunnerFunc) Run(ctx context.Context, in *Input) (cty.Value, error) {
	return f(ctx, in)
}

// StreamRunner is an optional extension for runners that can emit
// incremental output chunks before their final result. The engine calls
// RunStream instead of Run when the caller registered a stream
// callback; emit is safe to call from the runner's own goroutine until
// RunStream returns.
type StreamRunner interface {
	Runner
	RunStream(ctx context.Context, in *Input, emit func(chunk string)) (cty.Value, error)
}
