package engine

import (
	"time"

	"github.com/vk/flowgrid/internal/snapshot"
	"github.com/zclconf/go-cty/cty"
)

// ResultStatus is the terminal disposition of one execution.
type ResultStatus string

const (
	StatusSuccess   ResultStatus = "success"
	StatusError     ResultStatus = "error"
	StatusPaused    ResultStatus = "paused"
	StatusCancelled ResultStatus = "cancelled"
)

// BlockLog is one trace entry for a finished block execution. Entries
// are appended in completion order, not definition order.
type BlockLog struct {
	BlockID   string
	Status    Status
	Output    cty.Value
	Error     string
	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration
	Iteration int
	Branch    int
}

// Result is the structured outcome of one Execute, Resume, or
// ExecuteFromBlock call. Callers always receive a Result, even on
// cancellation or pause; only compile-time validation and variable
// resolution fail before one exists.
type Result struct {
	Success  bool
	Status   ResultStatus
	Output   cty.Value
	Logs     []BlockLog
	Duration time.Duration

	// Snapshot captures the state reached by this call. It is always
	// populated, so callers can persist, resume, or replay.
	Snapshot *snapshot.Snapshot

	// Err is the root cause when Status is StatusError.
	Err error
}
