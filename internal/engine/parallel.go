// This file is the parallel orchestrator. A parallel container does not
// run inside the main scheduler loop: its begin sentinel detaches the
// body from the live edge set and hands the branches to a join unit,
// which executes each branch as a nested engine run over the
// container's sub-workflow and reports back through the completion
// channel as if the whole container were one block.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vk/flowgrid/internal/compile"
	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/model"
	"github.com/zclconf/go-cty/cty"
	"golang.org/x/sync/errgroup"
)

func (s *sched) parallelBegin(ctx context.Context, node *compile.Node) {
	logger := ctxlog.FromContext(ctx)
	e := s.eng
	st := s.st
	c := e.graph.Containers[node.Brackets]

	items, err := e.branchItems(st, c)
	if err != nil {
		now := time.Now()
		st.fail(node.ID, err, now, now)
		s.fatal = err
		s.stopping = true
		return
	}

	// The branch executions own the body; the outer graph routes
	// straight from begin to end.
	s.detachSubtree(c.ID, false)
	now := time.Now()
	st.complete(node.ID, cty.NilVal, now, now)

	if len(items) == 0 {
		s.completeSync(c.EndID, cty.EmptyTupleVal)
		return
	}

	subWf, err := e.graph.SubWorkflow(c.ID)
	if err != nil {
		s.fatal = err
		s.stopping = true
		return
	}

	conc := c.Parallel.Concurrency
	if conc <= 0 {
		conc = model.DefaultParallelConcurrency
	}

	// Branches read completed outer outputs but never write back; the
	// join result is the only thing that re-enters the scheduler.
	base := make(map[string]cty.Value, len(e.extraOutputs))
	for id, out := range e.extraOutputs {
		base[id] = out
	}
	for id, out := range st.outputs() {
		n := e.graph.Nodes[id]
		if n.Kind.IsSentinel() {
			if n.Brackets != "" && n.ID == e.graph.Containers[n.Brackets].EndID {
				base[n.Brackets] = out
			}
			continue
		}
		base[id] = out
	}

	logger.Debug("Parallel fan-out starting.", "parallel_id", c.ID, "branches", len(items), "concurrency", conc)

	s.inFlight++
	go e.runBranches(ctx, c, subWf, items, conc, base, s.compCh)
}

// branchItems resolves the fan-out driver to one item per branch. Count
// mode binds the branch index as the item.
func (e *Engine) branchItems(st *execState, c *compile.Container) ([]cty.Value, error) {
	p := c.Parallel
	if p.Collection == nil {
		items := make([]cty.Value, p.Count)
		for i := range items {
			items[i] = cty.NumberIntVal(int64(i))
		}
		return items, nil
	}
	val, diags := p.Collection.Value(e.evalContext(st, c.BeginID))
	if diags.HasErrors() {
		return nil, &BlockExecutionError{BlockID: c.ID, Err: diags}
	}
	if val.IsNull() || !val.CanIterateElements() {
		return nil, &BlockExecutionError{BlockID: c.ID, Err: fmt.Errorf("parallel collection is not iterable")}
	}
	var items []cty.Value
	for it := val.ElementIterator(); it.Next(); {
		_, v := it.Element()
		items = append(items, v)
	}
	return items, nil
}

// runBranches executes every branch as a nested engine run over the
// container's sub-workflow, bounded by the container's concurrency on
// top of the engine-wide worker limit. Branches start in index order.
// The join is fail-fast: once a branch fails, branches not yet started
// never launch; branches already in flight run to completion before the
// join reports, and their completed results are then discarded.
func (e *Engine) runBranches(ctx context.Context, c *compile.Container, subWf *model.Workflow, items []cty.Value, conc int, base map[string]cty.Value, compCh chan<- *completion) {
	startedAt := time.Now()

	subGraph, err := compile.Compile(subWf)
	if err != nil {
		compCh <- &completion{
			nodeID:    c.EndID,
			err:       &BlockExecutionError{BlockID: c.ID, Err: err},
			startedAt: startedAt,
			endedAt:   time.Now(),
		}
		return
	}

	outputs := make([]cty.Value, len(items))
	logs := make([][]BlockLog, len(items))
	errs := make([]error, len(items))

	var mu sync.Mutex
	failed := false

	var grp errgroup.Group
	grp.SetLimit(conc)
	for i := range items {
		idx, item := i, items[i]
		grp.Go(func() error {
			mu.Lock()
			skip := failed
			mu.Unlock()
			if skip {
				return nil
			}

			branch := &Engine{
				graph:        subGraph,
				registry:     e.registry,
				vars:         e.vars,
				emit:         e.emit,
				sem:          e.sem,
				workers:      e.workers,
				extraOutputs: base,
				branch:       &branchBinding{item: item, index: idx},
			}
			bst := newExecState(subGraph)
			bst.seedRoots()
			res := branch.run(ctx, bst)
			for j := range res.Logs {
				res.Logs[j].Branch = idx
			}
			logs[idx] = res.Logs
			switch res.Status {
			case StatusError:
				errs[idx] = res.Err
			case StatusCancelled:
				errs[idx] = ctx.Err()
			default:
				outputs[idx] = aggregateMembers(subGraph, bst, c)
				return nil
			}
			mu.Lock()
			failed = true
			mu.Unlock()
			return nil
		})
	}
	// Branch outcomes are tracked per index; the group error is unused.
	_ = grp.Wait()

	endedAt := time.Now()
	var branchLogs []BlockLog
	for _, lg := range logs {
		branchLogs = append(branchLogs, lg...)
	}
	for idx, err := range errs {
		if err != nil {
			compCh <- &completion{
				nodeID:     c.EndID,
				err:        &BlockExecutionError{BlockID: c.ID, Err: fmt.Errorf("branch %d: %w", idx, err)},
				startedAt:  startedAt,
				endedAt:    endedAt,
				branchLogs: branchLogs,
			}
			return
		}
	}
	for i := range outputs {
		if outputs[i] == cty.NilVal {
			outputs[i] = cty.NullVal(cty.DynamicPseudoType)
		}
	}
	compCh <- &completion{
		nodeID:     c.EndID,
		output:     cty.TupleVal(outputs),
		startedAt:  startedAt,
		endedAt:    endedAt,
		branchLogs: branchLogs,
	}
}
