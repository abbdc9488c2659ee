package engine

import (
	"sync"
	"time"

	"github.com/zclconf/go-cty/cty"
)

// IterationContext attributes a block lifecycle event to the loop
// iteration or parallel branch that produced it. Consumers need this
// to attribute events correctly while containers are active.
type IterationContext struct {
	// LoopID is the innermost active loop, or "".
	LoopID string
	// Iteration is that loop's current iteration index.
	Iteration int
	// BranchIndex is the parallel branch index, or -1.
	BranchIndex int
}

// Timing carries the wall-clock bounds of one block execution.
type Timing struct {
	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration
}

// Callbacks is the engine's observer surface. Any field may be nil.
// Lifecycle callbacks fire from the scheduler loop in completion order;
// stream chunks fire as runners produce them, serialized so a consumer
// never sees interleaved calls.
type Callbacks struct {
	OnBlockStart    func(blockID string, iter IterationContext)
	OnBlockComplete func(blockID string, output cty.Value, timing Timing, iter IterationContext)
	OnStream        func(blockID string, chunk string)
}

// emitter serializes callback delivery. The mutex covers cross-goroutine
// stream chunks; lifecycle events already arrive from one goroutine.
type emitter struct {
	mu sync.Mutex
	cb Callbacks
}

func (e *emitter) blockStart(blockID string, iter IterationContext) {
	if e.cb.OnBlockStart == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cb.OnBlockStart(blockID, iter)
}

func (e *emitter) blockComplete(blockID string, output cty.Value, timing Timing, iter IterationContext) {
	if e.cb.OnBlockComplete == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cb.OnBlockComplete(blockID, output, timing, iter)
}

func (e *emitter) stream(blockID string, chunk string) {
	if e.cb.OnStream == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cb.OnStream(blockID, chunk)
}

// streaming reports whether stream delivery is wired at all, which
// decides whether StreamRunner implementations run in streaming mode.
func (e *emitter) streaming() bool { return e.cb.OnStream != nil }
