package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/snapshot"
	"github.com/zclconf/go-cty/cty"
)

// linearChain builds a -> b -> c where each block forwards the previous
// block's output.
func linearChain(t *testing.T) *model.Workflow {
	t.Helper()
	return &model.Workflow{
		Blocks: []*model.Block{
			blk(t, "emit", "a", map[string]string{"value": `"seed"`}),
			blk(t, "emit", "b", map[string]string{"value": "block.a.output"}),
			blk(t, "emit", "c", map[string]string{"value": "block.b.output"}),
		},
		Edges: []*model.Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "c"},
		},
	}
}

func TestResume_ContinuesFromPause(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	g := mustCompile(t, linearChain(t))
	firstRec := newRecorder()
	first := newTestEngine(t, g, testRegistry(firstRec), Options{StopAfter: "b"})

	res, err := first.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusPaused, res.Status)
	require.Equal(t, []string{"a", "b"}, firstRec.seen())
	require.NotEmpty(t, res.Snapshot.RemainingEdges)

	// --- Act ---
	secondRec := newRecorder()
	second := newTestEngine(t, g, testRegistry(secondRec), Options{OutputBlock: "c"})
	resumed, err := second.Resume(context.Background(), res.Snapshot)

	// --- Assert ---
	require.NoError(t, err)
	require.True(t, resumed.Success)
	// Only the remaining block runs; a and b keep their recorded outputs.
	require.Equal(t, []string{"c"}, secondRec.seen())
	require.Equal(t, cty.StringVal("seed"), resumed.Output)
}

func TestResume_RoundTripsThroughBytes(t *testing.T) {
	t.Parallel()

	g := mustCompile(t, linearChain(t))
	eng := newTestEngine(t, g, testRegistry(newRecorder()), Options{StopAfter: "a"})
	res, err := eng.Execute(context.Background())
	require.NoError(t, err)

	raw, err := res.Snapshot.Encode()
	require.NoError(t, err)
	snap, err := snapshot.Decode(raw)
	require.NoError(t, err)

	rec := newRecorder()
	resumed, err := newTestEngine(t, g, testRegistry(rec), Options{}).Resume(context.Background(), snap)

	require.NoError(t, err)
	require.True(t, resumed.Success)
	require.Equal(t, []string{"b", "c"}, rec.seen())
}

func TestResume_KeepsAbsorbedIterationFailure(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	wf := &model.Workflow{
		Blocks: []*model.Block{
			blk(t, "fail", "body", nil),
			blk(t, "emit", "steady", map[string]string{"value": `"ok"`}),
		},
		Loops: []*model.LoopConfig{{
			ID: "l", Blocks: []string{"body", "steady"},
			Mode: model.LoopCount, Count: expr(t, "1"),
			ContinueOnError: true,
		}},
	}
	g := mustCompile(t, wf)
	eng := newTestEngine(t, g, testRegistry(newRecorder()), Options{StopAfter: "steady"})

	res, err := eng.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusPaused, res.Status)
	// The pause lands between the absorbed member failure and the loop
	// end; the snapshot must carry the absorbed-failure marker.
	require.Equal(t, []string{"l"}, res.Snapshot.FailedLoops)

	// --- Act ---
	resumed, err := newTestEngine(t, g, testRegistry(newRecorder()), Options{OutputBlock: "l"}).
		Resume(context.Background(), res.Snapshot)

	// --- Assert ---
	require.NoError(t, err)
	require.True(t, resumed.Success)
	// The iteration stays recorded as failed instead of re-aggregating
	// into a partial result from the surviving member.
	require.Equal(t, 1, resumed.Output.LengthInt())
	require.True(t, resumed.Output.Index(cty.NumberIntVal(0)).IsNull())
}

func TestResume_RejectsForeignSnapshot(t *testing.T) {
	t.Parallel()

	g := mustCompile(t, linearChain(t))
	eng := newTestEngine(t, g, testRegistry(newRecorder()), Options{})
	snap := &snapshot.Snapshot{
		BlockStates: map[string]snapshot.BlockState{
			"ghost": {Status: string(StatusCompleted)},
		},
	}

	_, err := eng.Resume(context.Background(), snap)

	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown node")
}

func TestExecuteFromBlock_ReRunsDescendantsWithCachedUpstream(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	g := mustCompile(t, linearChain(t))
	full, err := newTestEngine(t, g, testRegistry(newRecorder()), Options{}).Execute(context.Background())
	require.NoError(t, err)
	require.True(t, full.Success)

	// --- Act ---
	rec := newRecorder()
	eng := newTestEngine(t, g, testRegistry(rec), Options{OutputBlock: "c"})
	res, err := eng.ExecuteFromBlock(context.Background(), "b", full.Snapshot)

	// --- Assert ---
	require.NoError(t, err)
	require.True(t, res.Success)
	// a stays cached; b and c run fresh and still see block.a.output.
	require.Equal(t, []string{"b", "c"}, rec.seen())
	require.Equal(t, cty.StringVal("seed"), res.Output)
}

func TestExecuteFromBlock_UnknownStartFails(t *testing.T) {
	t.Parallel()

	g := mustCompile(t, linearChain(t))
	full, err := newTestEngine(t, g, testRegistry(newRecorder()), Options{}).Execute(context.Background())
	require.NoError(t, err)

	_, err = newTestEngine(t, g, testRegistry(newRecorder()), Options{}).
		ExecuteFromBlock(context.Background(), "nope", full.Snapshot)

	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown start block")
}

func TestExecuteFromBlock_ContainerStartRerunsWholeLoop(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	wf := &model.Workflow{
		Blocks: []*model.Block{
			blk(t, "emit", "body", map[string]string{"value": "loop.index"}),
		},
		Loops: []*model.LoopConfig{countLoop(t, "l", "2", "body")},
	}
	g := mustCompile(t, wf)
	full, err := newTestEngine(t, g, testRegistry(newRecorder()), Options{}).Execute(context.Background())
	require.NoError(t, err)

	// --- Act ---
	rec := newRecorder()
	eng := newTestEngine(t, g, testRegistry(rec), Options{OutputBlock: "l"})
	res, err := eng.ExecuteFromBlock(context.Background(), "l", full.Snapshot)

	// --- Assert ---
	require.NoError(t, err)
	require.True(t, res.Success)
	// Naming the container starts from its begin sentinel, so the loop
	// state resets and every iteration runs again.
	require.Equal(t, 2, rec.count("body"))
	require.Equal(t, cty.TupleVal([]cty.Value{
		cty.NumberIntVal(0), cty.NumberIntVal(1),
	}), res.Output)
}
