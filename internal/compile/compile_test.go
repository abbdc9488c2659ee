package compile

import (
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/stretchr/testify/require"
	"github.com/vk/flowgrid/internal/model"
)

func expr(t *testing.T, src string) hcl.Expression {
	t.Helper()
	e, diags := hclsyntax.ParseExpression([]byte(src), "test.hcl", hcl.Pos{Line: 1, Column: 1})
	require.False(t, diags.HasErrors(), diags.Error())
	return e
}

func blk(typ, id string) *model.Block {
	return &model.Block{Type: typ, ID: id, Inputs: map[string]hcl.Expression{}}
}

func TestCompile_LinearGraph(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	wf := &model.Workflow{
		Blocks: []*model.Block{blk("emit", "a"), blk("emit", "b")},
		Edges:  []*model.Edge{{Source: "a", Target: "b"}},
	}

	// --- Act ---
	g, err := Compile(wf)

	// --- Assert ---
	require.NoError(t, err)
	require.Len(t, g.Nodes, 2)
	require.Equal(t, 0, g.InDegree["a"])
	require.Equal(t, 1, g.InDegree["b"])
	require.Empty(t, g.Containers)
}

func TestCompile_DuplicateBlockID(t *testing.T) {
	t.Parallel()

	wf := &model.Workflow{
		Blocks: []*model.Block{blk("emit", "a"), blk("print", "a")},
	}

	_, err := Compile(wf)

	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, err.Error(), "duplicate block id")
}

func TestCompile_UnknownEdgeEndpoint(t *testing.T) {
	t.Parallel()

	wf := &model.Workflow{
		Blocks: []*model.Block{blk("emit", "a")},
		Edges:  []*model.Edge{{Source: "a", Target: "ghost"}},
	}

	_, err := Compile(wf)

	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown block")
}

func TestCompile_CycleDetected(t *testing.T) {
	t.Parallel()

	wf := &model.Workflow{
		Blocks: []*model.Block{blk("emit", "a"), blk("emit", "b")},
		Edges: []*model.Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
		},
	}

	_, err := Compile(wf)

	require.Error(t, err)
	require.Contains(t, err.Error(), "cycle")
}

func TestCompile_LoopSentinels(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	wf := &model.Workflow{
		Blocks: []*model.Block{blk("emit", "body")},
		Loops: []*model.LoopConfig{{
			ID: "l1", Blocks: []string{"body"},
			Mode: model.LoopCount, Count: expr(t, "3"),
		}},
	}

	// --- Act ---
	g, err := Compile(wf)

	// --- Assert ---
	require.NoError(t, err)
	c := g.Containers["l1"]
	require.NotNil(t, c)
	require.Equal(t, "loop.l1.begin", c.BeginID)
	require.Equal(t, "loop.l1.end", c.EndID)
	require.Equal(t, "l1", g.Nodes["body"].ContainerID)

	// Sentinel pair brackets the body and the back edge closes the loop
	// without contributing to in-degree.
	require.Equal(t, 1, g.InDegree["body"])
	require.Equal(t, 0, g.InDegree[c.BeginID])
	back := g.BackEdge("l1")
	require.NotNil(t, back)
	require.Equal(t, c.EndID, back.Source)
	require.Equal(t, c.BeginID, back.Target)
}

func TestCompile_EdgeCrossingContainerBoundary(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// An edge from outside onto a member block must arrive at the loop's
	// begin sentinel; an edge naming the container keeps its handle.
	wf := &model.Workflow{
		Blocks: []*model.Block{blk("emit", "a"), blk("emit", "body"), blk("emit", "z")},
		Edges: []*model.Edge{
			{Source: "a", Target: "body"},
			{Source: "l1", Target: "z", SourceHandle: "error"},
		},
		Loops: []*model.LoopConfig{{
			ID: "l1", Blocks: []string{"body"},
			Mode: model.LoopCount, Count: expr(t, "2"),
		}},
	}

	// --- Act ---
	g, err := Compile(wf)

	// --- Assert ---
	require.NoError(t, err)
	var entry, exit *Edge
	for _, e := range g.Outbound("a") {
		entry = e
	}
	for _, e := range g.Outbound("loop.l1.end") {
		if e.Target == "z" {
			exit = e
		}
	}
	require.NotNil(t, entry)
	require.Equal(t, "loop.l1.begin", entry.Target)
	require.NotNil(t, exit)
	require.Equal(t, "error", exit.SourceHandle)
}

func TestCompile_NestedContainers(t *testing.T) {
	t.Parallel()

	wf := &model.Workflow{
		Blocks: []*model.Block{blk("emit", "b")},
		Loops: []*model.LoopConfig{
			{ID: "outer", Blocks: []string{"inner"}, Mode: model.LoopCount, Count: expr(t, "2")},
			{ID: "inner", Blocks: []string{"b"}, Mode: model.LoopCount, Count: expr(t, "3")},
		},
	}

	g, err := Compile(wf)

	require.NoError(t, err)
	require.Equal(t, "outer", g.Containers["inner"].Parent)
	require.Equal(t, "inner", g.Nodes["b"].ContainerID)
	require.Equal(t, []string{"inner", "outer"}, g.ContainerChain("b"))
	require.Equal(t, []string{"outer"}, g.ContainerChain("loop.inner.begin"))
	require.ElementsMatch(t, []string{"loop.inner.begin", "loop.inner.end", "b"}, g.Subtree("outer"))
}

func TestCompile_MemberOfTwoContainers(t *testing.T) {
	t.Parallel()

	wf := &model.Workflow{
		Blocks: []*model.Block{blk("emit", "b")},
		Loops: []*model.LoopConfig{
			{ID: "l1", Blocks: []string{"b"}, Mode: model.LoopCount, Count: expr(t, "1")},
			{ID: "l2", Blocks: []string{"b"}, Mode: model.LoopCount, Count: expr(t, "1")},
		},
	}

	_, err := Compile(wf)

	require.Error(t, err)
	require.Contains(t, err.Error(), "one direct container only")
}

func TestCompile_ContainerIDCollidesWithBlock(t *testing.T) {
	t.Parallel()

	wf := &model.Workflow{
		Blocks: []*model.Block{blk("emit", "x"), blk("emit", "b")},
		Loops: []*model.LoopConfig{
			{ID: "x", Blocks: []string{"b"}, Mode: model.LoopCount, Count: expr(t, "1")},
		},
	}

	_, err := Compile(wf)

	require.Error(t, err)
	require.Contains(t, err.Error(), "collides")
}

func TestSubWorkflow_ProjectsContainerBody(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	wf := &model.Workflow{
		Blocks: []*model.Block{blk("emit", "out"), blk("emit", "x"), blk("emit", "y")},
		Edges: []*model.Edge{
			{Source: "out", Target: "x"},
			{Source: "x", Target: "y"},
		},
		Parallels: []*model.ParallelConfig{{
			ID: "p1", Blocks: []string{"x", "y"}, Count: 2,
		}},
	}
	g, err := Compile(wf)
	require.NoError(t, err)

	// --- Act ---
	sub, err := g.SubWorkflow("p1")

	// --- Assert ---
	require.NoError(t, err)
	require.Len(t, sub.Blocks, 2)
	require.Nil(t, sub.BlockByID("out"))
	require.Len(t, sub.Edges, 1)
	require.Equal(t, "x", sub.Edges[0].Source)
	require.Empty(t, sub.Parallels)

	// The projection must itself compile.
	_, err = Compile(sub)
	require.NoError(t, err)
}

func TestResolveStopAfter(t *testing.T) {
	t.Parallel()

	wf := &model.Workflow{
		Blocks: []*model.Block{blk("emit", "b")},
		Loops: []*model.LoopConfig{
			{ID: "l1", Blocks: []string{"b"}, Mode: model.LoopCount, Count: expr(t, "1")},
		},
	}
	g, err := Compile(wf)
	require.NoError(t, err)

	id, err := g.ResolveStopAfter("l1")
	require.NoError(t, err)
	require.Equal(t, "loop.l1.end", id)

	id, err = g.ResolveStopAfter("b")
	require.NoError(t, err)
	require.Equal(t, "b", id)

	_, err = g.ResolveStopAfter("nope")
	require.Error(t, err)
}
