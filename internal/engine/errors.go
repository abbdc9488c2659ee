package engine

import (
	"fmt"
)

// BlockExecutionError records the failure of one block's external call.
// It is written into that block's state and only becomes fatal to the
// whole execution when no downstream edge handles the error branch.
type BlockExecutionError struct {
	BlockID string
	Err     error
}

func (e *BlockExecutionError) Error() string {
	return fmt.Sprintf("block %q failed: %v", e.BlockID, e.Err)
}

func (e *BlockExecutionError) Unwrap() error { return e.Err }

// LoopContinuationError means a loop's iteration driver or continuation
// expression itself failed to evaluate. It is fatal to that loop and to
// the execution.
type LoopContinuationError struct {
	LoopID string
	Err    error
}

func (e *LoopContinuationError) Error() string {
	return fmt.Sprintf("loop %q continuation failed: %v", e.LoopID, e.Err)
}

func (e *LoopContinuationError) Unwrap() error { return e.Err }

// ResolutionError means the workflow references environment variables
// the caller did not supply. It surfaces before any block executes.
type ResolutionError struct {
	Missing []string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("unresolved workflow variables: %v", e.Missing)
}
