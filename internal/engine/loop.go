// This file is the loop orchestrator: scope initialization when a loop
// begin sentinel first runs, iteration aggregation and continuation at
// the end sentinel, and the subtree reset between iterations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/flowgrid/internal/compile"
	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/model"
	"github.com/zclconf/go-cty/cty"
)

// MaxConditionIterations caps condition-driven loops so a condition
// that never flips cannot spin the scheduler forever.
const MaxConditionIterations = 10000

func (s *sched) loopBegin(ctx context.Context, node *compile.Node) {
	logger := ctxlog.FromContext(ctx)
	e := s.eng
	st := s.st
	c := e.graph.Containers[node.Brackets]

	scope, active := st.loops[c.ID]
	if !active {
		var err error
		scope, err = e.initLoopScope(st, c)
		if err != nil {
			now := time.Now()
			st.fail(node.ID, err, now, now)
			s.fatal = err
			s.stopping = true
			return
		}
		st.loops[c.ID] = scope
		logger.Debug("Loop scope opened.", "loop_id", c.ID, "mode", scope.Mode, "total", scope.Total)

		if scope.Total == 0 {
			// Zero iterations: the body never runs and the loop yields
			// an empty aggregate.
			delete(st.loops, c.ID)
			s.detachSubtree(c.ID, true)
			now := time.Now()
			st.complete(node.ID, cty.NilVal, now, now)
			s.completeSync(c.EndID, cty.EmptyTupleVal)
			return
		}
	}
	s.completeSync(node.ID, cty.NilVal)
}

// initLoopScope evaluates the iteration driver exactly once, at first
// entry. Collection elements are frozen here; mutations of upstream
// state during iteration never change the planned passes.
func (e *Engine) initLoopScope(st *execState, c *compile.Container) (*LoopScope, error) {
	l := c.Loop
	scope := &LoopScope{LoopID: c.ID, Mode: l.Mode, Total: -1}
	evalCtx := e.evalContext(st, c.BeginID)

	switch l.Mode {
	case model.LoopCount:
		val, diags := l.Count.Value(evalCtx)
		if diags.HasErrors() {
			return nil, &LoopContinuationError{LoopID: c.ID, Err: diags}
		}
		if val.IsNull() || val.Type() != cty.Number {
			return nil, &LoopContinuationError{LoopID: c.ID, Err: fmt.Errorf("count must evaluate to a number")}
		}
		n, _ := val.AsBigFloat().Int64()
		if n < 0 {
			return nil, &LoopContinuationError{LoopID: c.ID, Err: fmt.Errorf("count cannot be negative, got %d", n)}
		}
		scope.Total = int(n)
	case model.LoopCollection:
		val, diags := l.Collection.Value(evalCtx)
		if diags.HasErrors() {
			return nil, &LoopContinuationError{LoopID: c.ID, Err: diags}
		}
		if val.IsNull() || !val.CanIterateElements() {
			return nil, &LoopContinuationError{LoopID: c.ID, Err: fmt.Errorf("collection is not iterable")}
		}
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			scope.Items = append(scope.Items, v)
		}
		scope.Total = len(scope.Items)
	case model.LoopCondition:
		// Do-while: the body always runs at least once, then the
		// condition decides continuation.
	}
	return scope, nil
}

func (s *sched) loopEnd(ctx context.Context, node *compile.Node) {
	logger := ctxlog.FromContext(ctx)
	e := s.eng
	st := s.st
	c := e.graph.Containers[node.Brackets]

	scope, active := st.loops[c.ID]
	if !active {
		s.fatal = &LoopContinuationError{LoopID: c.ID, Err: errors.New("loop end reached without an open scope")}
		s.stopping = true
		return
	}

	if st.iterFailed[c.ID] {
		delete(st.iterFailed, c.ID)
		scope.FailedIterations = append(scope.FailedIterations, scope.Index)
		scope.Results = append(scope.Results, cty.NullVal(cty.DynamicPseudoType))
	} else {
		scope.Results = append(scope.Results, aggregateMembers(e.graph, st, c))
	}

	cont, err := e.evalContinuation(st, c, scope)
	if err != nil {
		s.fatal = err
		s.stopping = true
		return
	}
	if cont {
		scope.Index++
		logger.Debug("Loop continuing.", "loop_id", c.ID, "index", scope.Index)
		s.resetIteration(c)
		st.markReady(c.BeginID)
		return
	}

	delete(st.loops, c.ID)
	logger.Debug("Loop finished.", "loop_id", c.ID, "iterations", len(scope.Results))
	out := cty.EmptyTupleVal
	if len(scope.Results) > 0 {
		out = cty.TupleVal(scope.Results)
	}
	s.completeSync(node.ID, out)
}

// evalContinuation decides whether another pass runs. Count and
// collection modes compare against the frozen total; condition mode
// re-evaluates the expression against live state after every pass.
func (e *Engine) evalContinuation(st *execState, c *compile.Container, scope *LoopScope) (bool, error) {
	switch scope.Mode {
	case model.LoopCount, model.LoopCollection:
		return scope.Index+1 < scope.Total, nil
	default:
		if scope.Index+1 >= MaxConditionIterations {
			return false, &LoopContinuationError{LoopID: c.ID, Err: fmt.Errorf("condition loop exceeded %d iterations", MaxConditionIterations)}
		}
		val, diags := c.Loop.Condition.Value(e.loopEvalContext(st, c))
		if diags.HasErrors() {
			return false, &LoopContinuationError{LoopID: c.ID, Err: diags}
		}
		if val.IsNull() || val.Type() != cty.Bool {
			return false, &LoopContinuationError{LoopID: c.ID, Err: fmt.Errorf("condition must evaluate to a boolean")}
		}
		return val.True(), nil
	}
}

// aggregateMembers collapses a container pass into one value: the
// single direct member's output, or an object keyed by member id. A
// member container contributes the output of its end sentinel; members
// that did not complete contribute null.
func aggregateMembers(g *compile.Graph, st *execState, c *compile.Container) cty.Value {
	memberOut := func(m string) cty.Value {
		repr := m
		if child, ok := g.Containers[m]; ok {
			repr = child.EndID
		}
		bs := st.blocks[repr]
		if bs == nil || bs.Status != StatusCompleted || bs.Output == cty.NilVal {
			return cty.NullVal(cty.DynamicPseudoType)
		}
		return bs.Output
	}
	if len(c.Members) == 1 {
		return memberOut(c.Members[0])
	}
	vals := make(map[string]cty.Value, len(c.Members))
	for _, m := range c.Members {
		vals[m] = memberOut(m)
	}
	return cty.ObjectVal(vals)
}

// resetIteration returns the loop subtree to pending and re-arms its
// internal edges for the next pass. Scopes of nested containers opened
// during the finished pass are discarded so they re-initialize fresh.
func (s *sched) resetIteration(c *compile.Container) {
	st := s.st
	for _, id := range s.eng.graph.Subtree(c.ID) {
		st.reset(id)
		n := s.eng.graph.Nodes[id]
		if n.Kind == compile.KindLoopBegin || n.Kind == compile.KindParallelBegin {
			delete(st.loops, n.Brackets)
			delete(st.iterFailed, n.Brackets)
		}
	}
	st.reset(c.BeginID)
	st.reset(c.EndID)

	for _, e := range s.eng.graph.InternalEdges(c.ID) {
		key := e.Key()
		if _, live := st.remaining[key]; live {
			continue
		}
		st.remaining[key] = e
		st.pendingIn[e.Target]++
	}
}
