// Package template renders Go text templates against block inputs, the
// usual way to shape one block's output into the next block's input.
package template

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	texttemplate "text/template"

	"github.com/vk/flowgrid/internal/runner"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Module implements the runner.Module interface for this package.
type Module struct{}

func run(ctx context.Context, in *runner.Input) (cty.Value, error) {
	textVal, ok := in.Args["text"]
	if !ok || textVal.IsNull() || textVal.Type() != cty.String {
		return cty.NilVal, fmt.Errorf("'text' is required and must be a string")
	}

	data := make(map[string]any, len(in.Args))
	for name, v := range in.Args {
		if name == "text" {
			continue
		}
		goVal, err := toGo(v)
		if err != nil {
			return cty.NilVal, fmt.Errorf("input %q: %w", name, err)
		}
		data[name] = goVal
	}

	tmpl, err := texttemplate.New("template").Option("missingkey=error").Parse(textVal.AsString())
	if err != nil {
		return cty.NilVal, fmt.Errorf("invalid template: %w", err)
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return cty.NilVal, fmt.Errorf("template execution: %w", err)
	}

	return cty.ObjectVal(map[string]cty.Value{
		"text": cty.StringVal(out.String()),
	}), nil
}

// toGo converts a cty value to the plain Go shape text/template
// expects, going through the value's JSON form.
func toGo(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	raw, err := ctyjson.Marshal(v, v.Type())
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Register registers the runner with the engine.
func (m *Module) Register(r *runner.Registry) {
	r.Register("template", runner.RunnerFunc(run))
}
