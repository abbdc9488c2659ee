package print

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/runner"
	"github.com/zclconf/go-cty/cty"
)

// Module implements the runner.Module interface for this package.
type Module struct{}

func run(ctx context.Context, in *runner.Input) (cty.Value, error) {
	ctxlog.FromContext(ctx).Info("Printing block inputs.", "block_id", in.BlockID)

	if len(in.Args) == 0 {
		fmt.Println("      (no inputs)")
		return cty.NilVal, nil
	}

	// Sort keys for consistent output
	keys := make([]string, 0, len(in.Args))
	for k := range in.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Printf("      %s = %s\n", k, formatValue(in.Args[k]))
	}
	return cty.NilVal, nil
}

func formatValue(v cty.Value) string {
	if v.IsNull() {
		return "(null)"
	}
	switch v.Type() {
	case cty.String:
		return fmt.Sprintf("%q", v.AsString())
	case cty.Number:
		return v.AsBigFloat().Text('g', -1)
	case cty.Bool:
		if v.True() {
			return "true"
		}
		return "false"
	}
	return v.GoString()
}

// Register registers the runner with the engine.
func (m *Module) Register(r *runner.Registry) {
	r.Register("print", runner.RunnerFunc(run))
}
