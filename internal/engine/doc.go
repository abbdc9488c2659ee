// Package engine drives a compiled workflow graph to completion.
//
// The scheduler is a single logical loop: ready blocks are dispatched
// as bounded concurrent executions, and their results merge back into
// the loop through one completion channel, so all mutation of execution
// state happens on the scheduler's own thread of control and no locking
// guards the state itself. Container semantics (loop iteration and
// parallel fan-out) are owned by orchestrator code the scheduler
// delegates to when a sentinel node surfaces in the ready queue.
//
// An execution can be cancelled cooperatively, paused after a chosen
// block, resumed from a serialized snapshot, or partially re-executed
// from an arbitrary block with cached upstream outputs.
package engine
