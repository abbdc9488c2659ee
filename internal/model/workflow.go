package model

import (
	"github.com/hashicorp/hcl/v2"
)

// Workflow is the root of a loaded workflow definition: the flat block
// and edge sets plus the container configs overlaid on them. It is
// immutable once loading completes; the engine never mutates it.
type Workflow struct {
	Blocks    []*Block
	Edges     []*Edge
	Loops     []*LoopConfig
	Parallels []*ParallelConfig
}

// Block is a single unit of work in the workflow graph. Inputs are kept
// as expressions so the engine can resolve them against live block
// outputs and loop-local bindings at dispatch time.
type Block struct {
	// Type selects the registered runner that executes this block.
	Type string
	// ID uniquely identifies the block within the workflow.
	ID string
	// Inputs maps input names to their binding expressions.
	Inputs map[string]hcl.Expression
}

// Edge is a directed dependency between two blocks. Handles disambiguate
// conditional branches: an edge with SourceHandle "true" only fires when
// its source block produced the true branch, and SourceHandle "error"
// fires when the source block failed, allowing downstream recovery.
type Edge struct {
	Source       string
	Target       string
	SourceHandle string
	TargetHandle string
}

// BlockByID returns the block with the given id, or nil.
func (w *Workflow) BlockByID(id string) *Block {
	for _, b := range w.Blocks {
		if b.ID == id {
			return b
		}
	}
	return nil
}
