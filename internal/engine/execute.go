// This file is the scheduler: the single loop that pops ready nodes,
// dispatches blocks to bounded workers, merges completions, and decides
// readiness, skips, and failure routing. All execState mutation happens
// on this loop; workers only send completion messages.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vk/flowgrid/internal/compile"
	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/runner"
	"github.com/vk/flowgrid/internal/snapshot"
	"github.com/zclconf/go-cty/cty"
)

// completion is the message one finished asynchronous unit sends back
// to the scheduler loop: a block execution or a joined parallel
// container.
type completion struct {
	nodeID    string
	output    cty.Value
	err       error
	startedAt time.Time
	endedAt   time.Time

	// branchLogs carries the per-branch trace entries of a parallel
	// join, already tagged with their branch index.
	branchLogs []BlockLog
}

// sched is the per-call scheduling context layered over one execState.
type sched struct {
	eng    *Engine
	st     *execState
	compCh chan *completion

	inFlight  int
	stopping  bool
	cancelled bool
	stopHit   bool
	fatal     error
}

// Execute runs the graph from its roots until it finishes, fails,
// pauses, or the context is cancelled.
func (e *Engine) Execute(ctx context.Context) (*Result, error) {
	if err := checkVariables(e.graph.Workflow, e.vars); err != nil {
		return nil, err
	}
	st := newExecState(e.graph)
	st.seedRoots()
	return e.run(ctx, st), nil
}

// Resume continues a paused or interrupted execution from its snapshot.
func (e *Engine) Resume(ctx context.Context, snap *snapshot.Snapshot) (*Result, error) {
	if err := checkVariables(e.graph.Workflow, e.vars); err != nil {
		return nil, err
	}
	st, err := e.restoreState(snap)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, st), nil
}

// ExecuteFromBlock re-executes the subgraph reachable from startID,
// reusing the snapshot's cached outputs for everything upstream. A
// container id starts from its begin sentinel.
func (e *Engine) ExecuteFromBlock(ctx context.Context, startID string, snap *snapshot.Snapshot) (*Result, error) {
	if err := checkVariables(e.graph.Workflow, e.vars); err != nil {
		return nil, err
	}
	st, err := e.partialState(startID, snap)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, st), nil
}

// run drives one execution to quiescence: no ready nodes and nothing in
// flight. Cancellation stops dispatching but drains in-flight blocks so
// their results still land in the state and the snapshot.
func (e *Engine) run(ctx context.Context, st *execState) *Result {
	logger := ctxlog.FromContext(ctx)
	start := time.Now()
	s := &sched{eng: e, st: st, compCh: make(chan *completion)}

	logger.Debug("Scheduler loop starting.", "nodes", len(e.graph.Nodes), "ready", len(st.queue))

	for {
		if !s.stopping && ctx.Err() != nil {
			logger.Warn("Cancellation observed, draining in-flight blocks.", "in_flight", s.inFlight)
			s.stopping, s.cancelled = true, true
		}
		for !s.stopping && len(st.queue) > 0 {
			id := st.pop()
			if st.blocks[id].Status != StatusReady {
				continue
			}
			node := e.graph.Nodes[id]
			if node.Kind.IsSentinel() {
				s.handleSentinel(ctx, node)
			} else {
				s.dispatch(ctx, node)
			}
			if !s.stopping && ctx.Err() != nil {
				s.stopping, s.cancelled = true, true
			}
		}
		if s.inFlight == 0 {
			break
		}
		c := <-s.compCh
		s.inFlight--
		s.merge(ctx, c)
	}

	logger.Debug("Scheduler loop finished.", "executed", len(st.executed))
	return e.buildResult(st, s, start)
}

func (s *sched) handleSentinel(ctx context.Context, node *compile.Node) {
	switch node.Kind {
	case compile.KindLoopBegin:
		s.loopBegin(ctx, node)
	case compile.KindLoopEnd:
		s.loopEnd(ctx, node)
	case compile.KindParallelBegin:
		s.parallelBegin(ctx, node)
	case compile.KindParallelEnd:
		// Parallel ends complete through the join unit's completion
		// message and never reach the ready queue.
	}
}

// dispatch hands a ready block to a worker goroutine. Input resolution
// happens inline on the scheduler loop because it reads live state;
// only the runner call itself leaves the loop.
func (s *sched) dispatch(ctx context.Context, node *compile.Node) {
	e := s.eng
	st := s.st
	id := node.ID
	now := time.Now()

	rn, ok := e.registry.Lookup(node.Block.Type)
	if !ok {
		s.merge(ctx, &completion{
			nodeID:    id,
			err:       &BlockExecutionError{BlockID: id, Err: fmt.Errorf("no runner registered for block type %q", node.Block.Type)},
			startedAt: now,
			endedAt:   now,
		})
		return
	}
	args, err := e.resolveInputs(st, id, node.Block.Inputs)
	if err != nil {
		s.merge(ctx, &completion{
			nodeID:    id,
			err:       &BlockExecutionError{BlockID: id, Err: err},
			startedAt: now,
			endedAt:   now,
		})
		return
	}

	iter := e.iterationContext(st, id)
	bs := st.blocks[id]
	bs.Status = StatusRunning
	bs.Iteration = iter.Iteration
	bs.Branch = iter.BranchIndex
	e.emit.blockStart(id, iter)

	in := &runner.Input{
		BlockID:   id,
		BlockType: node.Block.Type,
		Args:      args,
		Vars:      e.vars,
		Iteration: iter.Iteration,
		Branch:    iter.BranchIndex,
	}

	s.inFlight++
	go func() {
		startedAt := time.Now()
		if err := e.sem.Acquire(ctx, 1); err != nil {
			s.compCh <- &completion{nodeID: id, err: &BlockExecutionError{BlockID: id, Err: err}, startedAt: startedAt, endedAt: time.Now()}
			return
		}
		out, err := e.invoke(ctx, rn, in)
		e.sem.Release(1)
		if err != nil {
			err = &BlockExecutionError{BlockID: id, Err: err}
		}
		s.compCh <- &completion{nodeID: id, output: out, err: err, startedAt: startedAt, endedAt: time.Now()}
	}()
}

// invoke selects the streaming path when the runner supports it and a
// stream consumer is attached.
func (e *Engine) invoke(ctx context.Context, rn runner.Runner, in *runner.Input) (cty.Value, error) {
	if sr, ok := rn.(runner.StreamRunner); ok && e.emit.streaming() {
		return sr.RunStream(ctx, in, func(chunk string) { e.emit.stream(in.BlockID, chunk) })
	}
	return rn.Run(ctx, in)
}

// merge folds one completion into the state and propagates its edges.
// Failure routing tries, in order: an authored on-error edge, the
// innermost continue-on-error loop, and finally a fatal stop.
func (s *sched) merge(ctx context.Context, c *completion) {
	logger := ctxlog.FromContext(ctx)
	e := s.eng
	st := s.st
	id := c.nodeID
	node := e.graph.Nodes[id]

	st.logs = append(st.logs, c.branchLogs...)

	if c.err != nil {
		st.fail(id, c.err, c.startedAt, c.endedAt)
		if node.Kind == compile.KindBlock {
			s.appendLog(id)
		}
		logger.Error("Node failed.", "node_id", id, "error", c.err)

		if s.fireErrorEdges(id) {
			logger.Debug("Failure routed through an error edge.", "node_id", id)
			return
		}
		if loopID := s.recoverableLoop(id); loopID != "" {
			logger.Debug("Failure absorbed by continue-on-error loop.", "node_id", id, "loop_id", loopID)
			st.iterFailed[loopID] = true
			s.fireEdges(id, nil)
			return
		}
		s.fatal = c.err
		s.stopping = true
		s.fireEdges(id, nil)
		return
	}

	st.complete(id, c.output, c.startedAt, c.endedAt)
	if node.Kind == compile.KindBlock {
		s.appendLog(id)
		timing := Timing{StartedAt: c.startedAt, EndedAt: c.endedAt, Duration: c.endedAt.Sub(c.startedAt)}
		e.emit.blockComplete(id, c.output, timing, e.iterationContext(st, id))
	}
	if id == e.stopAfter {
		s.stopHit = true
		s.stopping = true
		return
	}
	s.fireEdges(id, firedHandles(c.output, false))
}

// fireEdges resolves the source's remaining outbound edges. Handles in
// the fired set propagate; every other edge is discarded. A nil set
// discards all, which is how skips and unhandled failures cascade.
func (s *sched) fireEdges(sourceID string, fired map[string]bool) {
	st := s.st
	var affected []string
	for _, e := range s.eng.graph.Outbound(sourceID) {
		if e.Back {
			continue
		}
		key := e.Key()
		if _, live := st.remaining[key]; !live {
			continue
		}
		delete(st.remaining, key)
		st.pendingIn[e.Target]--
		if fired[e.SourceHandle] {
			st.firedIn[e.Target]++
		}
		affected = append(affected, e.Target)
	}
	for _, t := range affected {
		s.checkReady(t)
	}
}

// fireErrorEdges fires the failed node's edges when a live authored
// on-error edge can absorb the failure. It reports whether one did.
func (s *sched) fireErrorEdges(id string) bool {
	handled := false
	for _, e := range s.eng.graph.Outbound(id) {
		if e.Back || e.SourceHandle != "error" {
			continue
		}
		if _, live := s.st.remaining[e.Key()]; live {
			handled = true
			break
		}
	}
	if !handled {
		return false
	}
	s.fireEdges(id, map[string]bool{"error": true})
	return true
}

// recoverableLoop finds the innermost loop enclosing a failed node and
// reports it when that loop absorbs member failures. A stricter
// enclosing loop ends the search: the failure is its failure.
func (s *sched) recoverableLoop(id string) string {
	for _, cid := range s.eng.graph.ContainerChain(id) {
		c := s.eng.graph.Containers[cid]
		if c.Kind != compile.ContainerLoop {
			continue
		}
		if _, active := s.st.loops[cid]; active && c.Loop.ContinueOnError {
			return cid
		}
		return ""
	}
	return ""
}

// checkReady promotes a node once every inbound edge has resolved:
// ready when at least one fired, skipped when all were discarded. A
// loop end whose iteration failed under continue-on-error still runs so
// the loop can record the failure and continue.
func (s *sched) checkReady(id string) {
	st := s.st
	if st.blocks[id].Status != StatusPending || st.pendingIn[id] > 0 {
		return
	}
	if st.firedIn[id] > 0 {
		st.markReady(id)
		return
	}
	node := s.eng.graph.Nodes[id]
	if node.Kind == compile.KindLoopEnd && st.iterFailed[node.Brackets] {
		st.markReady(id)
		return
	}
	st.skip(id)
	s.fireEdges(id, nil)
}

// completeSync finishes a sentinel inline and propagates its edges.
func (s *sched) completeSync(id string, output cty.Value) {
	now := time.Now()
	s.st.complete(id, output, now, now)
	if id == s.eng.stopAfter {
		s.stopHit = true
		s.stopping = true
		return
	}
	s.fireEdges(id, firedHandles(output, false))
}

// detachSubtree removes a container's internal edges from the live edge
// set so the main loop never schedules its body, optionally marking the
// body nodes skipped.
func (s *sched) detachSubtree(containerID string, skip bool) {
	st := s.st
	for _, e := range s.eng.graph.InternalEdges(containerID) {
		key := e.Key()
		if _, live := st.remaining[key]; !live {
			continue
		}
		delete(st.remaining, key)
		st.pendingIn[e.Target]--
	}
	if !skip {
		return
	}
	for _, id := range s.eng.graph.Subtree(containerID) {
		if st.blocks[id].Status == StatusPending || st.blocks[id].Status == StatusReady {
			st.skip(id)
		}
	}
}

func (s *sched) appendLog(id string) {
	bs := s.st.blocks[id]
	entry := BlockLog{
		BlockID:   id,
		Status:    bs.Status,
		Output:    bs.Output,
		StartedAt: bs.StartedAt,
		EndedAt:   bs.EndedAt,
		Duration:  bs.EndedAt.Sub(bs.StartedAt),
		Iteration: bs.Iteration,
		Branch:    bs.Branch,
	}
	if bs.Err != nil {
		entry.Error = bs.Err.Error()
	}
	s.st.logs = append(s.st.logs, entry)
}

// iterationContext attributes a node to its innermost active loop scope
// and, when executing inside a parallel branch, to its branch index.
func (e *Engine) iterationContext(st *execState, nodeID string) IterationContext {
	ic := IterationContext{BranchIndex: -1}
	if e.branch != nil {
		ic.BranchIndex = e.branch.index
	}
	for _, cid := range e.graph.ContainerChain(nodeID) {
		if scope, active := st.loops[cid]; active {
			ic.LoopID = scope.LoopID
			ic.Iteration = scope.Index
			break
		}
	}
	return ic
}

func (e *Engine) buildResult(st *execState, s *sched, start time.Time) *Result {
	res := &Result{Logs: st.logs, Duration: time.Since(start)}
	switch {
	case s.cancelled:
		// Cancellation wins over failures observed while draining.
		res.Status = StatusCancelled
	case s.fatal != nil:
		res.Status = StatusError
		res.Err = s.fatal
	case s.stopHit:
		res.Status = StatusPaused
		res.Success = true
	default:
		res.Status = StatusSuccess
		res.Success = true
	}

	if e.outputBlock != "" {
		outID := e.outputBlock
		if c, ok := e.graph.Containers[outID]; ok {
			outID = c.EndID
		}
		if bs, ok := st.blocks[outID]; ok && bs.Status == StatusCompleted {
			res.Output = bs.Output
		}
	} else {
		for i := len(st.logs) - 1; i >= 0; i-- {
			if st.logs[i].Status == StatusCompleted {
				res.Output = st.logs[i].Output
				break
			}
		}
	}

	meta := e.meta
	meta.ExecutionID = uuid.NewString()
	meta.StartedAt = start
	res.Snapshot = e.captureSnapshot(st, meta)
	return res
}
