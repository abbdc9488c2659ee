// Package compile turns a workflow model into an executable graph.
//
// Compilation is a pure function of the model. It injects a synthetic
// begin/end sentinel pair around every loop and parallel container,
// rewires authored edges across container boundaries to flow through
// those sentinels, resolves each block's innermost enclosing container,
// and seeds per-node in-degree counts for the engine's ready queue.
// Sentinel ids derive deterministically from container ids, so
// recompiling the same workflow yields an identically addressable
// graph and snapshots taken against one compilation remain valid
// against the next.
package compile
