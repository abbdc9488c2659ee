package env_vars

import (
	"context"
	"os"
	"strings"

	"github.com/vk/flowgrid/internal/runner"
	"github.com/zclconf/go-cty/cty"
)

// Module implements the runner.Module interface for this package.
type Module struct{}

func run(ctx context.Context, in *runner.Input) (cty.Value, error) {
	prefix := ""
	if p, ok := in.Args["prefix"]; ok && !p.IsNull() && p.Type() == cty.String {
		prefix = p.AsString()
	}

	envMap := make(map[string]cty.Value)
	for _, e := range os.Environ() {
		pair := strings.SplitN(e, "=", 2)
		if len(pair) != 2 {
			continue
		}
		if prefix != "" && !strings.HasPrefix(pair[0], prefix) {
			continue
		}
		envMap[pair[0]] = cty.StringVal(pair[1])
	}

	all := cty.MapValEmpty(cty.String)
	if len(envMap) > 0 {
		all = cty.MapVal(envMap)
	}
	return cty.ObjectVal(map[string]cty.Value{"all": all}), nil
}

// Register registers the runner with the engine.
func (m *Module) Register(r *runner.Registry) {
	r.Register("env_vars", runner.RunnerFunc(run))
}
