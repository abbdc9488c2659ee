package engine

import (
	"sort"
	"time"

	"github.com/vk/flowgrid/internal/compile"
	"github.com/vk/flowgrid/internal/model"
	"github.com/zclconf/go-cty/cty"
)

// Status is the lifecycle state of one block within one execution.
// Transitions are monotonic: pending, ready, running, then exactly one
// of completed, failed, or skipped. The only revisit is an explicit
// reset back to pending between iterations of an enclosing loop.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// BlockState is the mutable per-block record. The scheduler loop is its
// only writer.
type BlockState struct {
	Status    Status
	Output    cty.Value
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
	Iteration int
	Branch    int
}

// LoopScope is the runtime state of one active loop container.
type LoopScope struct {
	LoopID string
	Mode   model.LoopMode

	// Index is the current iteration, starting at 0.
	Index int

	// Total is the iteration bound for count and collection modes, and
	// -1 for condition mode.
	Total int

	// Items holds the resolved collection for collection mode.
	Items []cty.Value

	// Results accumulates one aggregated value per finished iteration.
	Results []cty.Value

	// FailedIterations lists iterations recorded as failed under
	// continue-on-error.
	FailedIterations []int
}

// Item returns the loop-local binding for the current iteration:
// the collection element in collection mode, the index otherwise.
func (s *LoopScope) Item() cty.Value {
	if s.Mode == model.LoopCollection && s.Index < len(s.Items) {
		return s.Items[s.Index]
	}
	return cty.NumberIntVal(int64(s.Index))
}

// execState is the aggregate root of all mutable scheduler state for a
// single execution. It is owned exclusively by one scheduler loop and
// never shared across executions.
type execState struct {
	blocks   map[string]*BlockState
	executed map[string]struct{}

	// queue holds ready node ids in scheduling order.
	queue []string

	// remaining holds the not-yet-fired compiled edges by key.
	remaining map[string]*compile.Edge

	// pendingIn counts each node's remaining inbound edges; firedIn
	// counts how many inbound edges have actually fired. A node becomes
	// ready when pendingIn reaches zero with at least one fired edge,
	// and skipped when every inbound edge was discarded instead.
	pendingIn map[string]int
	firedIn   map[string]int

	loops map[string]*LoopScope

	// iterFailed marks loops whose current iteration recorded a member
	// failure under continue-on-error.
	iterFailed map[string]bool

	logs []BlockLog
}

// newExecState builds the initial state for a full run: every node
// pending, every non-back edge remaining, roots queued.
func newExecState(g *compile.Graph) *execState {
	st := &execState{
		blocks:     make(map[string]*BlockState, len(g.Nodes)),
		executed:   make(map[string]struct{}),
		remaining:  make(map[string]*compile.Edge),
		pendingIn:  make(map[string]int),
		firedIn:    make(map[string]int),
		loops:      make(map[string]*LoopScope),
		iterFailed: make(map[string]bool),
	}
	for id := range g.Nodes {
		st.blocks[id] = &BlockState{Status: StatusPending, Branch: -1}
		st.pendingIn[id] = g.InDegree[id]
	}
	for _, e := range g.Edges {
		if !e.Back {
			st.remaining[e.Key()] = e
		}
	}
	return st
}

// seedRoots queues every node with no inbound dependencies, in a
// deterministic order.
func (st *execState) seedRoots() {
	for _, id := range sortedIDs(st.pendingIn) {
		if st.pendingIn[id] == 0 && st.blocks[id].Status == StatusPending {
			st.markReady(id)
		}
	}
}

func (st *execState) markReady(id string) {
	st.blocks[id].Status = StatusReady
	st.queue = append(st.queue, id)
}

func (st *execState) pop() string {
	id := st.queue[0]
	st.queue = st.queue[1:]
	return id
}

// reset returns a node to pending for the next loop iteration.
func (st *execState) reset(id string) {
	st.blocks[id] = &BlockState{Status: StatusPending, Branch: -1}
	st.firedIn[id] = 0
	delete(st.executed, id)
}

func (st *execState) complete(id string, output cty.Value, startedAt, endedAt time.Time) {
	bs := st.blocks[id]
	bs.Status = StatusCompleted
	bs.Output = output
	bs.StartedAt = startedAt
	bs.EndedAt = endedAt
	st.executed[id] = struct{}{}
}

func (st *execState) fail(id string, err error, startedAt, endedAt time.Time) {
	bs := st.blocks[id]
	bs.Status = StatusFailed
	bs.Err = err
	bs.StartedAt = startedAt
	bs.EndedAt = endedAt
	st.executed[id] = struct{}{}
}

func (st *execState) skip(id string) {
	st.blocks[id].Status = StatusSkipped
}

// outputs returns the outputs of completed blocks, keyed by node id.
func (st *execState) outputs() map[string]cty.Value {
	out := make(map[string]cty.Value)
	for id, bs := range st.blocks {
		if bs.Status == StatusCompleted && bs.Output != cty.NilVal {
			out[id] = bs.Output
		}
	}
	return out
}

func sortedIDs(m map[string]int) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
