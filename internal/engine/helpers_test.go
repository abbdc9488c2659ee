package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/stretchr/testify/require"
	"github.com/vk/flowgrid/internal/compile"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/runner"
	"github.com/zclconf/go-cty/cty"
)

// recorder tracks block invocations across worker goroutines.
type recorder struct {
	mu    sync.Mutex
	order []string
	args  map[string][]map[string]cty.Value
}

func newRecorder() *recorder {
	return &recorder{args: make(map[string][]map[string]cty.Value)}
}

func (r *recorder) note(in *runner.Input) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, in.BlockID)
	r.args[in.BlockID] = append(r.args[in.BlockID], in.Args)
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *recorder) count(id string) int {
	n := 0
	for _, seen := range r.seen() {
		if seen == id {
			n++
		}
	}
	return n
}

func (r *recorder) index(id string) int {
	for i, seen := range r.seen() {
		if seen == id {
			return i
		}
	}
	return -1
}

func (r *recorder) lastArgs(id string) map[string]cty.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	calls := r.args[id]
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}

// testRegistry wires two block types: "emit" succeeds and returns its
// "value" input, "fail" always errors.
func testRegistry(rec *recorder) *runner.Registry {
	reg := runner.New()
	reg.Register("emit", runner.RunnerFunc(func(ctx context.Context, in *runner.Input) (cty.Value, error) {
		rec.note(in)
		if v, ok := in.Args["value"]; ok {
			return v, nil
		}
		return cty.NilVal, nil
	}))
	reg.Register("fail", runner.RunnerFunc(func(ctx context.Context, in *runner.Input) (cty.Value, error) {
		rec.note(in)
		return cty.NilVal, errors.New("boom")
	}))
	return reg
}

// flakyRunner fails exactly when its "i" input equals failAt.
func flakyRunner(rec *recorder, failAt int64) runner.RunnerFunc {
	return func(ctx context.Context, in *runner.Input) (cty.Value, error) {
		rec.note(in)
		if v, ok := in.Args["i"]; ok && v.Type() == cty.Number {
			n, _ := v.AsBigFloat().Int64()
			if n == failAt {
				return cty.NilVal, errors.New("flaky failure")
			}
		}
		return cty.StringVal("ok"), nil
	}
}

func expr(t *testing.T, src string) hcl.Expression {
	t.Helper()
	e, diags := hclsyntax.ParseExpression([]byte(src), "test.hcl", hcl.Pos{Line: 1, Column: 1})
	require.False(t, diags.HasErrors(), diags.Error())
	return e
}

func blk(t *testing.T, typ, id string, inputs map[string]string) *model.Block {
	t.Helper()
	b := &model.Block{Type: typ, ID: id, Inputs: map[string]hcl.Expression{}}
	for name, src := range inputs {
		b.Inputs[name] = expr(t, src)
	}
	return b
}

func mustCompile(t *testing.T, wf *model.Workflow) *compile.Graph {
	t.Helper()
	g, err := compile.Compile(wf)
	require.NoError(t, err)
	return g
}

func newTestEngine(t *testing.T, g *compile.Graph, reg *runner.Registry, opts Options) *Engine {
	t.Helper()
	e, err := New(g, reg, opts)
	require.NoError(t, err)
	return e
}
