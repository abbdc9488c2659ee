package compile

import (
	"fmt"
	"sort"

	"github.com/vk/flowgrid/internal/model"
)

// ValidationError reports a structurally invalid workflow. It is always
// raised before any execution state exists.
type ValidationError struct {
	Detail string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "workflow validation: " + e.Detail
}

func errf(format string, args ...any) error {
	return &ValidationError{Detail: fmt.Sprintf(format, args...)}
}

// Compile builds the executable graph from a workflow model. It is a
// pure function: the model is not mutated and the same input always
// produces an identically addressable graph.
func Compile(wf *model.Workflow) (*Graph, error) {
	g := &Graph{
		Workflow:   wf,
		Nodes:      make(map[string]*Node),
		Containers: make(map[string]*Container),
		InDegree:   make(map[string]int),
		outbound:   make(map[string][]*Edge),
		inbound:    make(map[string][]*Edge),
	}

	blockIDs := make(map[string]*model.Block)
	for _, b := range wf.Blocks {
		if b.ID == "" {
			return nil, errf("block of type %q has an empty id", b.Type)
		}
		if _, dup := blockIDs[b.ID]; dup {
			return nil, errf("duplicate block id %q", b.ID)
		}
		blockIDs[b.ID] = b
	}

	if err := buildContainers(g, wf, blockIDs); err != nil {
		return nil, err
	}

	// Innermost membership: a member appears in exactly one container's
	// direct member list, so the owning container is its innermost scope.
	owner := make(map[string]string)
	for _, c := range g.Containers {
		for _, m := range c.Members {
			owner[m] = c.ID
		}
	}

	for _, b := range wf.Blocks {
		g.Nodes[b.ID] = &Node{
			ID:          b.ID,
			Kind:        KindBlock,
			Block:       b,
			ContainerID: owner[b.ID],
		}
	}
	for _, c := range g.Containers {
		c.Parent = owner[c.ID]
		beginKind, endKind := KindLoopBegin, KindLoopEnd
		if c.Kind == ContainerParallel {
			beginKind, endKind = KindParallelBegin, KindParallelEnd
		}
		g.Nodes[c.BeginID] = &Node{ID: c.BeginID, Kind: beginKind, ContainerID: c.Parent, Brackets: c.ID}
		g.Nodes[c.EndID] = &Node{ID: c.EndID, Kind: endKind, ContainerID: c.Parent, Brackets: c.ID}
	}

	if err := checkContainerTree(g); err != nil {
		return nil, err
	}

	edges, err := rewireEdges(g, wf, blockIDs)
	if err != nil {
		return nil, err
	}
	edges = synthesizeContainerEdges(g, edges)

	seen := make(map[string]bool)
	for _, e := range edges {
		if seen[e.Key()] {
			continue
		}
		seen[e.Key()] = true
		g.Edges = append(g.Edges, e)
		g.outbound[e.Source] = append(g.outbound[e.Source], e)
		g.inbound[e.Target] = append(g.inbound[e.Target], e)
		if !e.Back {
			g.InDegree[e.Target]++
		}
	}
	for id := range g.Nodes {
		if _, ok := g.InDegree[id]; !ok {
			g.InDegree[id] = 0
		}
	}

	if err := detectCycles(g); err != nil {
		return nil, err
	}
	return g, nil
}

// buildContainers registers every loop and parallel config and
// validates member references.
func buildContainers(g *Graph, wf *model.Workflow, blockIDs map[string]*model.Block) error {
	add := func(id string, kind ContainerKind, members []string, loop *model.LoopConfig, par *model.ParallelConfig) error {
		if id == "" {
			return errf("%s container has an empty id", kind)
		}
		if _, isBlock := blockIDs[id]; isBlock {
			return errf("container id %q collides with a block id", id)
		}
		if _, dup := g.Containers[id]; dup {
			return errf("duplicate container id %q", id)
		}
		if len(members) == 0 {
			return errf("container %q has no member blocks", id)
		}
		g.Containers[id] = &Container{
			ID:       id,
			Kind:     kind,
			Loop:     loop,
			Parallel: par,
			Members:  members,
			BeginID:  BeginSentinelID(kind, id),
			EndID:    EndSentinelID(kind, id),
		}
		return nil
	}

	for _, l := range wf.Loops {
		if err := add(l.ID, ContainerLoop, l.Blocks, l, nil); err != nil {
			return err
		}
	}
	for _, p := range wf.Parallels {
		if err := add(p.ID, ContainerParallel, p.Blocks, nil, p); err != nil {
			return err
		}
	}

	claimed := make(map[string]string)
	for _, c := range sortedContainers(g) {
		for _, m := range c.Members {
			_, isBlock := blockIDs[m]
			_, isContainer := g.Containers[m]
			if !isBlock && !isContainer {
				return errf("container %q references unknown member %q", c.ID, m)
			}
			if m == c.ID {
				return errf("container %q lists itself as a member", c.ID)
			}
			if prev, ok := claimed[m]; ok {
				return errf("block %q is a member of both %q and %q; members may belong to one direct container only", m, prev, c.ID)
			}
			claimed[m] = c.ID
		}
	}
	return nil
}

// checkContainerTree rejects membership cycles among containers.
func checkContainerTree(g *Graph) error {
	for _, c := range g.Containers {
		seen := map[string]bool{c.ID: true}
		for p := c.Parent; p != ""; p = g.Containers[p].Parent {
			if seen[p] {
				return errf("container nesting cycle involving %q", p)
			}
			seen[p] = true
		}
	}
	return nil
}

// scopeChain returns the container scopes enclosing an endpoint id,
// innermost first, terminated by "" for the top level. For a container
// id the chain starts at its parent: the container itself is
// represented by its sentinels, which live in the parent scope.
func scopeChain(g *Graph, id string) []string {
	start := ""
	if c, ok := g.Containers[id]; ok {
		start = c.Parent
	} else if n, ok := g.Nodes[id]; ok {
		start = n.ContainerID
	}
	var chain []string
	for s := start; s != ""; s = g.Containers[s].Parent {
		chain = append(chain, s)
	}
	return append(chain, "")
}

// boundaryRepr resolves which compiled node an authored endpoint maps
// to when the edge crosses into or out of container scopes. An edge
// leaving a container departs from its end sentinel; an edge entering a
// container arrives at its begin sentinel.
func boundaryRepr(g *Graph, id string, scope string, entering bool) string {
	// Ancestor of id (the id itself when it names a container) that is a
	// direct child of the common scope.
	cur := id
	curScope := scopeChain(g, id)[0]
	for curScope != scope {
		// Step outward through the owning container.
		cur = curScope
		curScope = g.Containers[cur].Parent
	}
	if c, ok := g.Containers[cur]; ok {
		if entering {
			return c.BeginID
		}
		return c.EndID
	}
	return cur
}

// rewireEdges maps every authored edge onto compiled nodes, routing
// container-crossing edges through sentinel pairs.
func rewireEdges(g *Graph, wf *model.Workflow, blockIDs map[string]*model.Block) ([]*Edge, error) {
	var edges []*Edge
	for _, e := range wf.Edges {
		for _, endpoint := range []string{e.Source, e.Target} {
			_, isBlock := blockIDs[endpoint]
			_, isContainer := g.Containers[endpoint]
			if !isBlock && !isContainer {
				return nil, errf("edge %s -> %s references unknown block %q", e.Source, e.Target, endpoint)
			}
		}

		common := commonScope(g, e.Source, e.Target)
		src := boundaryRepr(g, e.Source, common, false)
		tgt := boundaryRepr(g, e.Target, common, true)
		if src == tgt {
			return nil, errf("edge %s -> %s collapses onto node %q and would self-loop", e.Source, e.Target, src)
		}

		compiled := &Edge{Source: src, Target: tgt}
		// Handles survive when the compiled endpoint still speaks for the
		// authored one: the block itself, or the sentinel of a container
		// the edge named directly. A boundary crossed only in passing has
		// no branch semantics of its own.
		if src == e.Source || (g.Containers[e.Source] != nil && src == g.Containers[e.Source].EndID) {
			compiled.SourceHandle = e.SourceHandle
		}
		if tgt == e.Target || (g.Containers[e.Target] != nil && tgt == g.Containers[e.Target].BeginID) {
			compiled.TargetHandle = e.TargetHandle
		}
		edges = append(edges, compiled)
	}
	return edges, nil
}

// commonScope finds the deepest container enclosing both endpoints, or
// "" when they only share the top level.
func commonScope(g *Graph, a, b string) string {
	bScopes := make(map[string]bool)
	for _, s := range scopeChain(g, b) {
		bScopes[s] = true
	}
	for _, s := range scopeChain(g, a) {
		if bScopes[s] {
			return s
		}
	}
	return ""
}

// synthesizeContainerEdges adds the begin/end plumbing for every
// container: entry edges from begin to members without internal
// predecessors, terminal edges from members without internal successors
// to end, and the loop-back edge for loop containers.
func synthesizeContainerEdges(g *Graph, edges []*Edge) []*Edge {
	for _, c := range sortedContainers(g) {
		repr := make(map[string]bool)
		for _, m := range c.Members {
			if child, ok := g.Containers[m]; ok {
				repr[child.BeginID] = true
				repr[child.EndID] = true
				continue
			}
			repr[m] = true
		}

		hasInternalPred := make(map[string]bool)
		hasInternalSucc := make(map[string]bool)
		for _, e := range edges {
			if repr[e.Source] && repr[e.Target] {
				hasInternalPred[e.Target] = true
				hasInternalSucc[e.Source] = true
			}
		}

		for _, m := range c.Members {
			entry, exit := m, m
			if child, ok := g.Containers[m]; ok {
				entry, exit = child.BeginID, child.EndID
			}
			if !hasInternalPred[entry] {
				edges = append(edges, &Edge{Source: c.BeginID, Target: entry})
			}
			if !hasInternalSucc[exit] {
				edges = append(edges, &Edge{Source: exit, Target: c.EndID})
			}
		}

		if c.Kind == ContainerLoop {
			edges = append(edges, &Edge{Source: c.EndID, Target: c.BeginID, Back: true})
		}
	}
	return edges
}

// detectCycles checks for circular dependencies using depth-first
// search, ignoring loop back edges, which are acyclic by construction.
func detectCycles(g *Graph) error {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		visiting[id] = true
		for _, e := range g.outbound[id] {
			if e.Back {
				continue
			}
			if visiting[e.Target] {
				return errf("cycle detected involving %q", e.Target)
			}
			if !visited[e.Target] {
				if err := visit(e.Target); err != nil {
					return err
				}
			}
		}
		delete(visiting, id)
		visited[id] = true
		return nil
	}

	for _, id := range sortedNodeIDs(g) {
		if !visited[id] {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// SubWorkflow projects the source workflow down to one container's
// members so a parallel branch can execute the body as its own
// top-level graph. Nested containers keep their configs; authored edges
// survive when both endpoints stay inside.
func (g *Graph) SubWorkflow(containerID string) (*model.Workflow, error) {
	c := g.Containers[containerID]
	if c == nil {
		return nil, errf("unknown container %q", containerID)
	}

	inside := make(map[string]bool)
	var collect func(id string)
	collect = func(id string) {
		for _, m := range g.Containers[id].Members {
			inside[m] = true
			if _, nested := g.Containers[m]; nested {
				collect(m)
			}
		}
	}
	collect(containerID)

	sub := &model.Workflow{}
	for _, b := range g.Workflow.Blocks {
		if inside[b.ID] {
			sub.Blocks = append(sub.Blocks, b)
		}
	}
	for _, l := range g.Workflow.Loops {
		if inside[l.ID] {
			sub.Loops = append(sub.Loops, l)
		}
	}
	for _, p := range g.Workflow.Parallels {
		if inside[p.ID] {
			sub.Parallels = append(sub.Parallels, p)
		}
	}
	for _, e := range g.Workflow.Edges {
		if inside[e.Source] && inside[e.Target] {
			sub.Edges = append(sub.Edges, e)
		}
	}
	return sub, nil
}

func sortedContainers(g *Graph) []*Container {
	ids := make([]string, 0, len(g.Containers))
	for id := range g.Containers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Container, len(ids))
	for i, id := range ids {
		out[i] = g.Containers[id]
	}
	return out
}

func sortedNodeIDs(g *Graph) []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
