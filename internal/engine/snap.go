// This file bridges live scheduler state and its serializable
// projection: capture on every result, and the two restore paths used
// by Resume and ExecuteFromBlock.
package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vk/flowgrid/internal/compile"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/snapshot"
)

// captureSnapshot freezes the execution state. A value that cannot be
// serialized degrades to an absent output rather than failing the
// capture; a result must always carry its snapshot.
func (e *Engine) captureSnapshot(st *execState, meta snapshot.Metadata) *snapshot.Snapshot {
	snap := &snapshot.Snapshot{
		Metadata:    meta,
		BlockStates: make(map[string]snapshot.BlockState, len(st.blocks)),
		LoopScopes:  make(map[string]snapshot.LoopScope, len(st.loops)),
	}

	for id, bs := range st.blocks {
		frozen := snapshot.BlockState{
			Status:    string(bs.Status),
			StartedAt: bs.StartedAt,
			EndedAt:   bs.EndedAt,
			Iteration: bs.Iteration,
			Branch:    bs.Branch,
		}
		if out, err := snapshot.EncodeValue(bs.Output); err == nil {
			frozen.Output = out
		}
		if bs.Err != nil {
			frozen.Error = bs.Err.Error()
		}
		snap.BlockStates[id] = frozen
	}

	for id := range st.executed {
		snap.ExecutedBlocks = append(snap.ExecutedBlocks, id)
	}
	sort.Strings(snap.ExecutedBlocks)
	snap.PendingQueue = append([]string(nil), st.queue...)

	keys := make([]string, 0, len(st.remaining))
	for k := range st.remaining {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		edge := st.remaining[k]
		snap.RemainingEdges = append(snap.RemainingEdges, snapshot.Edge{
			Source:       edge.Source,
			Target:       edge.Target,
			SourceHandle: edge.SourceHandle,
			TargetHandle: edge.TargetHandle,
		})
	}

	for id, scope := range st.loops {
		frozen := snapshot.LoopScope{
			LoopID:           scope.LoopID,
			Mode:             string(scope.Mode),
			Index:            scope.Index,
			Total:            scope.Total,
			FailedIterations: append([]int(nil), scope.FailedIterations...),
		}
		for _, v := range scope.Items {
			ev, err := snapshot.EncodeValue(v)
			if err != nil {
				ev = nil
			}
			frozen.Items = append(frozen.Items, ev)
		}
		for _, v := range scope.Results {
			ev, err := snapshot.EncodeValue(v)
			if err != nil {
				ev = nil
			}
			frozen.Results = append(frozen.Results, ev)
		}
		snap.LoopScopes[id] = frozen
	}

	for id := range st.iterFailed {
		snap.FailedLoops = append(snap.FailedLoops, id)
	}
	sort.Strings(snap.FailedLoops)
	return snap
}

func decodeBlockState(frozen snapshot.BlockState) (*BlockState, error) {
	out, err := frozen.Output.Decode()
	if err != nil {
		return nil, err
	}
	bs := &BlockState{
		Status:    Status(frozen.Status),
		Output:    out,
		StartedAt: frozen.StartedAt,
		EndedAt:   frozen.EndedAt,
		Iteration: frozen.Iteration,
		Branch:    frozen.Branch,
	}
	if frozen.Error != "" {
		bs.Err = errors.New(frozen.Error)
	}
	return bs, nil
}

func decodeLoopScope(frozen snapshot.LoopScope) (*LoopScope, error) {
	scope := &LoopScope{
		LoopID:           frozen.LoopID,
		Mode:             model.LoopMode(frozen.Mode),
		Index:            frozen.Index,
		Total:            frozen.Total,
		FailedIterations: append([]int(nil), frozen.FailedIterations...),
	}
	for _, v := range frozen.Items {
		dv, err := v.Decode()
		if err != nil {
			return nil, err
		}
		scope.Items = append(scope.Items, dv)
	}
	for _, v := range frozen.Results {
		dv, err := v.Decode()
		if err != nil {
			return nil, err
		}
		scope.Results = append(scope.Results, dv)
	}
	return scope, nil
}

func emptyExecState(g *compile.Graph) *execState {
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
		st.pendingIn[id] = 0
	}
	return st
}

// restoreState rebuilds scheduler state from a snapshot. In-degree and
// fired counters are recomputed from the remaining edge set and the
// recorded outcomes rather than trusted from the snapshot, so a
// hand-edited snapshot cannot produce an inconsistent scheduler.
func (e *Engine) restoreState(snap *snapshot.Snapshot) (*execState, error) {
	g := e.graph
	st := emptyExecState(g)

	for id, frozen := range snap.BlockStates {
		if _, known := g.Nodes[id]; !known {
			return nil, fmt.Errorf("snapshot references unknown node %q", id)
		}
		bs, err := decodeBlockState(frozen)
		if err != nil {
			return nil, fmt.Errorf("snapshot state for %q: %w", id, err)
		}
		st.blocks[id] = bs
	}

	edgeByKey := make(map[string]*compile.Edge, len(g.Edges))
	for _, edge := range g.Edges {
		if !edge.Back {
			edgeByKey[edge.Key()] = edge
		}
	}
	for _, se := range snap.RemainingEdges {
		key := (&compile.Edge{
			Source:       se.Source,
			Target:       se.Target,
			SourceHandle: se.SourceHandle,
			TargetHandle: se.TargetHandle,
		}).Key()
		edge, known := edgeByKey[key]
		if !known {
			return nil, fmt.Errorf("snapshot references unknown edge %s", key)
		}
		st.remaining[key] = edge
		st.pendingIn[edge.Target]++
	}

	// An inbound edge no longer remaining counts as fired when its
	// source's recorded outcome selects its handle.
	for id := range g.Nodes {
		for _, edge := range g.Inbound(id) {
			if edge.Back {
				continue
			}
			if _, live := st.remaining[edge.Key()]; live {
				continue
			}
			src := st.blocks[edge.Source]
			switch src.Status {
			case StatusCompleted:
				if firedHandles(src.Output, false)[edge.SourceHandle] {
					st.firedIn[id]++
				}
			case StatusFailed:
				if edge.SourceHandle == "error" {
					st.firedIn[id]++
				}
			}
		}
	}

	for _, id := range snap.ExecutedBlocks {
		if _, known := g.Nodes[id]; !known {
			return nil, fmt.Errorf("snapshot references unknown node %q", id)
		}
		st.executed[id] = struct{}{}
	}

	for id, frozen := range snap.LoopScopes {
		if _, known := g.Containers[id]; !known {
			return nil, fmt.Errorf("snapshot references unknown loop %q", id)
		}
		scope, err := decodeLoopScope(frozen)
		if err != nil {
			return nil, fmt.Errorf("snapshot loop %q: %w", id, err)
		}
		st.loops[id] = scope
	}

	for _, id := range snap.FailedLoops {
		if _, known := g.Containers[id]; !known {
			return nil, fmt.Errorf("snapshot references unknown loop %q", id)
		}
		st.iterFailed[id] = true
	}

	queued := make(map[string]bool, len(snap.PendingQueue))
	for _, id := range snap.PendingQueue {
		if _, known := g.Nodes[id]; !known {
			return nil, fmt.Errorf("snapshot queues unknown node %q", id)
		}
		if queued[id] {
			continue
		}
		queued[id] = true
		st.blocks[id].Status = StatusPending
		st.markReady(id)
	}

	// Nodes frozen mid-flight were interrupted; they run again.
	var stray []string
	for id, bs := range st.blocks {
		if (bs.Status == StatusRunning || bs.Status == StatusReady) && !queued[id] {
			stray = append(stray, id)
		}
	}
	sort.Strings(stray)
	for _, id := range stray {
		st.blocks[id].Status = StatusPending
		st.markReady(id)
	}

	e.replayDeferredEdges(st)
	return st, nil
}

// replayDeferredEdges resolves remaining edges whose source already has
// a terminal outcome. A pause returns before the stopped node fires its
// edges, so on resume those edges must be replayed or their targets
// would never become ready.
func (e *Engine) replayDeferredEdges(st *execState) {
	g := e.graph
	touched := make(map[string]bool)

	keys := make([]string, 0, len(st.remaining))
	for k := range st.remaining {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		edge := st.remaining[key]
		src := st.blocks[edge.Source]
		var fired bool
		switch src.Status {
		case StatusCompleted:
			fired = firedHandles(src.Output, false)[edge.SourceHandle]
		case StatusFailed:
			fired = edge.SourceHandle == "error"
		default:
			continue
		}
		delete(st.remaining, key)
		st.pendingIn[edge.Target]--
		if fired {
			st.firedIn[edge.Target]++
		}
		touched[edge.Target] = true
	}

	frontier := sortedKeys(touched)
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		if st.blocks[id].Status != StatusPending || st.pendingIn[id] > 0 {
			continue
		}
		if st.firedIn[id] > 0 {
			st.markReady(id)
			continue
		}
		node := g.Nodes[id]
		if node.Kind == compile.KindLoopEnd && st.iterFailed[node.Brackets] {
			st.markReady(id)
			continue
		}
		st.skip(id)
		for _, edge := range g.Outbound(id) {
			if edge.Back {
				continue
			}
			key := edge.Key()
			if _, live := st.remaining[key]; !live {
				continue
			}
			delete(st.remaining, key)
			st.pendingIn[edge.Target]--
			frontier = append(frontier, edge.Target)
		}
	}
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// partialState builds the state for re-execution from one block: the
// start node and everything reachable from it run fresh, everything
// else keeps its snapshot outcome as cached context.
func (e *Engine) partialState(startID string, snap *snapshot.Snapshot) (*execState, error) {
	g := e.graph
	start := startID
	if c, ok := g.Containers[startID]; ok {
		start = c.BeginID
	}
	if _, ok := g.Nodes[start]; !ok {
		return nil, fmt.Errorf("unknown start block %q", startID)
	}

	fresh := map[string]bool{start: true}
	frontier := []string{start}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		for _, edge := range g.Outbound(id) {
			if edge.Back || fresh[edge.Target] {
				continue
			}
			fresh[edge.Target] = true
			frontier = append(frontier, edge.Target)
		}
	}

	st := emptyExecState(g)
	for id, frozen := range snap.BlockStates {
		if _, known := g.Nodes[id]; !known {
			return nil, fmt.Errorf("snapshot references unknown node %q", id)
		}
		if fresh[id] {
			continue
		}
		bs, err := decodeBlockState(frozen)
		if err != nil {
			return nil, fmt.Errorf("snapshot state for %q: %w", id, err)
		}
		st.blocks[id] = bs
		if bs.Status == StatusCompleted || bs.Status == StatusFailed {
			st.executed[id] = struct{}{}
		}
	}

	// Only edges fully inside the fresh region re-fire.
	for _, edge := range g.Edges {
		if edge.Back || !fresh[edge.Source] || !fresh[edge.Target] {
			continue
		}
		st.remaining[edge.Key()] = edge
		st.pendingIn[edge.Target]++
	}

	// Inbound edges from the cached region count as already resolved.
	for id := range fresh {
		for _, edge := range g.Inbound(id) {
			if edge.Back || fresh[edge.Source] {
				continue
			}
			src := st.blocks[edge.Source]
			switch src.Status {
			case StatusCompleted:
				if firedHandles(src.Output, false)[edge.SourceHandle] {
					st.firedIn[id]++
				}
			case StatusFailed:
				if edge.SourceHandle == "error" {
					st.firedIn[id]++
				}
			}
		}
	}

	// Scopes of loops being re-entered start over; scopes enclosing the
	// start point survive so loop locals still resolve.
	for id, frozen := range snap.LoopScopes {
		c, known := g.Containers[id]
		if !known {
			return nil, fmt.Errorf("snapshot references unknown loop %q", id)
		}
		if fresh[c.BeginID] {
			continue
		}
		scope, err := decodeLoopScope(frozen)
		if err != nil {
			return nil, fmt.Errorf("snapshot loop %q: %w", id, err)
		}
		st.loops[id] = scope
	}
	for _, id := range snap.FailedLoops {
		c, known := g.Containers[id]
		if !known {
			return nil, fmt.Errorf("snapshot references unknown loop %q", id)
		}
		if fresh[c.BeginID] {
			continue
		}
		st.iterFailed[id] = true
	}

	var roots []string
	for id := range fresh {
		if st.pendingIn[id] == 0 && (st.firedIn[id] > 0 || id == start) {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	for _, id := range roots {
		st.markReady(id)
	}
	return st, nil
}
