package engine

import (
	"github.com/vk/flowgrid/internal/compile"
	"github.com/vk/flowgrid/internal/runner"
	"github.com/vk/flowgrid/internal/snapshot"
	"github.com/zclconf/go-cty/cty"
	"golang.org/x/sync/semaphore"
)

// DefaultWorkers bounds in-flight block executions when the caller does
// not choose a limit. This is the engine-wide bound, distinct from any
// per-parallel-container concurrency.
const DefaultWorkers = 8

// Options configures one Engine instance.
type Options struct {
	// Workers is the engine-wide concurrent block execution bound.
	// Zero means DefaultWorkers.
	Workers int

	// Vars is the read-only workflow environment, resolved once before
	// scheduling begins.
	Vars map[string]cty.Value

	// Callbacks observes block lifecycle and stream events.
	Callbacks Callbacks

	// StopAfter halts the run once the named block completes. A
	// container id stops after the container fully completes.
	StopAfter string

	// OutputBlock selects which block's output becomes the final
	// execution output. Empty means the last completed block.
	OutputBlock string

	// Execution metadata, recorded into snapshots.
	WorkflowID  string
	Trigger     string
	ActorID     string
	WorkspaceID string
	Input       cty.Value
}

// branchBinding carries the branch-local fan-out bindings when an
// Engine instance executes one parallel branch.
type branchBinding struct {
	item  cty.Value
	index int
}

// Engine executes one compiled graph. A single Engine may run multiple
// executions sequentially; each call owns its own execution state.
type Engine struct {
	graph    *compile.Graph
	registry *runner.Registry

	vars        map[string]cty.Value
	emit        *emitter
	sem         *semaphore.Weighted
	workers     int
	stopAfter   string
	outputBlock string
	meta        snapshot.Metadata

	// extraOutputs exposes completed outputs from an enclosing
	// execution to branch sub-executions.
	extraOutputs map[string]cty.Value
	branch       *branchBinding
}

// New builds an Engine over a compiled graph. The stop-after id is
// resolved eagerly so an unknown id fails before execution starts.
func New(g *compile.Graph, reg *runner.Registry, opts Options) (*Engine, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	stopAfter := ""
	if opts.StopAfter != "" {
		resolved, err := g.ResolveStopAfter(opts.StopAfter)
		if err != nil {
			return nil, err
		}
		stopAfter = resolved
	}

	vars := opts.Vars
	if vars == nil {
		vars = map[string]cty.Value{}
	}

	input, err := snapshot.EncodeValue(opts.Input)
	if err != nil {
		return nil, err
	}

	return &Engine{
		graph:       g,
		registry:    reg,
		vars:        vars,
		emit:        &emitter{cb: opts.Callbacks},
		sem:         semaphore.NewWeighted(int64(workers)),
		workers:     workers,
		stopAfter:   stopAfter,
		outputBlock: opts.OutputBlock,
		meta: snapshot.Metadata{
			WorkflowID:  opts.WorkflowID,
			Trigger:     opts.Trigger,
			ActorID:     opts.ActorID,
			WorkspaceID: opts.WorkspaceID,
			Input:       input,
			OutputBlock: opts.OutputBlock,
		},
	}, nil
}

// Graph returns the compiled graph the engine executes.
func (e *Engine) Graph() *compile.Graph { return e.graph }
