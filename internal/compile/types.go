package compile

import (
	"fmt"

	"github.com/vk/flowgrid/internal/model"
)

// NodeKind distinguishes authored blocks from synthetic sentinels.
type NodeKind string

const (
	KindBlock         NodeKind = "block"
	KindLoopBegin     NodeKind = "loop_begin"
	KindLoopEnd       NodeKind = "loop_end"
	KindParallelBegin NodeKind = "parallel_begin"
	KindParallelEnd   NodeKind = "parallel_end"
)

// IsSentinel reports whether the kind is a synthetic container marker.
func (k NodeKind) IsSentinel() bool { return k != KindBlock }

// ContainerKind distinguishes loop containers from parallel containers.
type ContainerKind string

const (
	ContainerLoop     ContainerKind = "loop"
	ContainerParallel ContainerKind = "parallel"
)

// Node is one vertex of the compiled graph.
type Node struct {
	ID   string
	Kind NodeKind

	// Block is the authored definition; nil for sentinels.
	Block *model.Block

	// ContainerID is the innermost container enclosing this node, or ""
	// at top level. For a sentinel the enclosing container is the parent
	// of the container the sentinel brackets: the sentinel pair lives in
	// the scope that contains its container.
	ContainerID string

	// Brackets names the container a sentinel belongs to; "" for blocks.
	Brackets string
}

// Edge is one directed dependency in the compiled graph. A compiled
// edge set is immutable; the engine tracks firing against its own
// mutable copy of the edge keys.
type Edge struct {
	Source       string
	Target       string
	SourceHandle string
	TargetHandle string

	// Back marks the sentinel-end to sentinel-begin iteration edge of a
	// loop. Back edges never contribute to in-degree; the loop
	// orchestrator follows them explicitly.
	Back bool
}

// Key returns a stable identity for the edge, used by the engine's
// remaining-edge set and by snapshots.
func (e *Edge) Key() string {
	return fmt.Sprintf("%s|%s>%s|%s", e.Source, e.SourceHandle, e.Target, e.TargetHandle)
}

// Container is the compiled form of a loop or parallel config.
type Container struct {
	ID   string
	Kind ContainerKind

	Loop     *model.LoopConfig
	Parallel *model.ParallelConfig

	// Parent is the enclosing container id, or "" at top level.
	Parent string

	// Members lists direct member ids: block ids or nested container ids.
	Members []string

	BeginID string
	EndID   string
}

// Graph is the compiled, executable node/edge set.
type Graph struct {
	Nodes      map[string]*Node
	Edges      []*Edge
	Containers map[string]*Container

	// Workflow is the model this graph was compiled from.
	Workflow *model.Workflow

	// InDegree is the initial inbound edge count per node, excluding
	// back edges. It seeds the engine's ready queue.
	InDegree map[string]int

	outbound map[string][]*Edge
	inbound  map[string][]*Edge
}

// BeginSentinelID returns the deterministic begin sentinel id for a container.
func BeginSentinelID(kind ContainerKind, containerID string) string {
	return fmt.Sprintf("%s.%s.begin", kind, containerID)
}

// EndSentinelID returns the deterministic end sentinel id for a container.
func EndSentinelID(kind ContainerKind, containerID string) string {
	return fmt.Sprintf("%s.%s.end", kind, containerID)
}

// Outbound returns the edges leaving the given node.
func (g *Graph) Outbound(nodeID string) []*Edge { return g.outbound[nodeID] }

// Inbound returns the edges entering the given node.
func (g *Graph) Inbound(nodeID string) []*Edge { return g.inbound[nodeID] }

// BackEdge returns the iteration edge of a loop container, or nil.
func (g *Graph) BackEdge(containerID string) *Edge {
	c := g.Containers[containerID]
	if c == nil {
		return nil
	}
	for _, e := range g.outbound[c.EndID] {
		if e.Back {
			return e
		}
	}
	return nil
}

// ContainerChain returns the container ids enclosing the given node,
// innermost first.
func (g *Graph) ContainerChain(nodeID string) []string {
	var chain []string
	n := g.Nodes[nodeID]
	if n == nil {
		return nil
	}
	for id := n.ContainerID; id != ""; id = g.Containers[id].Parent {
		chain = append(chain, id)
	}
	return chain
}

// Subtree returns every node id inside a container: direct member
// blocks, and for nested containers their sentinel pair plus their own
// subtree. The container's own sentinels are not included.
func (g *Graph) Subtree(containerID string) []string {
	c := g.Containers[containerID]
	if c == nil {
		return nil
	}
	var ids []string
	for _, m := range c.Members {
		if child, ok := g.Containers[m]; ok {
			ids = append(ids, child.BeginID, child.EndID)
			ids = append(ids, g.Subtree(m)...)
			continue
		}
		ids = append(ids, m)
	}
	return ids
}

// InternalEdges returns the non-back edges whose endpoints both lie
// inside the container or on its sentinel pair. These are the edges the
// loop orchestrator restores between iterations.
func (g *Graph) InternalEdges(containerID string) []*Edge {
	c := g.Containers[containerID]
	if c == nil {
		return nil
	}
	inside := map[string]bool{c.BeginID: true, c.EndID: true}
	for _, id := range g.Subtree(containerID) {
		inside[id] = true
	}
	var edges []*Edge
	for _, e := range g.Edges {
		if e.Back {
			continue
		}
		if inside[e.Source] && inside[e.Target] {
			edges = append(edges, e)
		}
	}
	return edges
}

// ResolveStopAfter maps a stop-after id to the node whose completion
// ends the run. Container ids resolve to their end sentinel, so
// stopping after a loop means after the loop fully completes rather
// than after one iteration.
func (g *Graph) ResolveStopAfter(id string) (string, error) {
	if c, ok := g.Containers[id]; ok {
		return c.EndID, nil
	}
	if n, ok := g.Nodes[id]; ok {
		return n.ID, nil
	}
	return "", &ValidationError{Detail: fmt.Sprintf("stop-after id %q is not a known block or container", id)}
}
