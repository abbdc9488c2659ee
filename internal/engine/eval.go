// This file resolves expressions against live execution state: block
// input bindings, loop drivers, continuation conditions, and the
// workflow variable preflight check.
package engine

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/flowgrid/internal/compile"
	"github.com/vk/flowgrid/internal/model"
	"github.com/zclconf/go-cty/cty"
)

// checkVariables verifies that every `var.<name>` reference in the
// workflow is satisfied by the supplied environment. It runs before any
// execution state exists, so a missing variable never half-runs a
// workflow.
func checkVariables(wf *model.Workflow, vars map[string]cty.Value) error {
	missing := make(map[string]struct{})

	scan := func(expr hcl.Expression) {
		if expr == nil {
			return
		}
		for _, traversal := range expr.Variables() {
			if traversal.RootName() != "var" || len(traversal) < 2 {
				continue
			}
			attr, ok := traversal[1].(hcl.TraverseAttr)
			if !ok {
				continue
			}
			if _, found := vars[attr.Name]; !found {
				missing[attr.Name] = struct{}{}
			}
		}
	}

	for _, b := range wf.Blocks {
		for _, expr := range b.Inputs {
			scan(expr)
		}
	}
	for _, l := range wf.Loops {
		scan(l.Count)
		scan(l.Collection)
		scan(l.Condition)
	}
	for _, p := range wf.Parallels {
		scan(p.Collection)
	}

	if len(missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(missing))
	for name := range missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return &ResolutionError{Missing: names}
}

// evalContext assembles the HCL evaluation context visible to a node:
// workflow variables, completed block outputs, the loop-local bindings
// of every active enclosing loop, and branch-local bindings when
// executing inside a parallel branch.
func (e *Engine) evalContext(st *execState, nodeID string) *hcl.EvalContext {
	return e.evalContextScopes(st, e.graph.ContainerChain(nodeID))
}

// loopEvalContext anchors evaluation inside the loop itself. Sentinel
// nodes live in the loop's parent scope, so a continuation expression
// evaluated through the end sentinel's chain would not see the loop's
// own bindings.
func (e *Engine) loopEvalContext(st *execState, c *compile.Container) *hcl.EvalContext {
	chain := append([]string{c.ID}, e.graph.ContainerChain(c.BeginID)...)
	return e.evalContextScopes(st, chain)
}

func (e *Engine) evalContextScopes(st *execState, chain []string) *hcl.EvalContext {
	variables := map[string]cty.Value{}

	if len(e.vars) > 0 {
		variables["var"] = cty.ObjectVal(e.vars)
	}

	blockVals := map[string]cty.Value{}
	for id, out := range e.extraOutputs {
		blockVals[id] = cty.ObjectVal(map[string]cty.Value{"output": out})
	}
	for id, out := range st.outputs() {
		n := e.graph.Nodes[id]
		switch {
		case n == nil:
			continue
		case n.Kind.IsSentinel():
			// A container's aggregated output is addressable under the
			// container id once its end sentinel completed.
			if n.Brackets != "" && n.ID == e.graph.Containers[n.Brackets].EndID {
				blockVals[n.Brackets] = cty.ObjectVal(map[string]cty.Value{"output": out})
			}
		default:
			blockVals[id] = cty.ObjectVal(map[string]cty.Value{"output": out})
		}
	}
	if len(blockVals) > 0 {
		variables["block"] = cty.ObjectVal(blockVals)
	}

	if loopVal, ok := e.loopLocals(st, chain); ok {
		variables["loop"] = loopVal
	}
	if e.branch != nil {
		variables["branch"] = cty.ObjectVal(map[string]cty.Value{
			"item":  e.branch.item,
			"index": cty.NumberIntVal(int64(e.branch.index)),
		})
	}

	return &hcl.EvalContext{Variables: variables}
}

// loopLocals builds the `loop` binding for a scope chain: item and
// index of the innermost active loop, plus one nested object per
// enclosing loop keyed by loop id so inner blocks can address outer
// scopes explicitly.
func (e *Engine) loopLocals(st *execState, chain []string) (cty.Value, bool) {
	attrs := map[string]cty.Value{}
	innermostSet := false
	for _, containerID := range chain {
		scope, active := st.loops[containerID]
		if !active {
			continue
		}
		scoped := cty.ObjectVal(map[string]cty.Value{
			"item":  scope.Item(),
			"index": cty.NumberIntVal(int64(scope.Index)),
		})
		attrs[scope.LoopID] = scoped
		if !innermostSet {
			attrs["item"] = scope.Item()
			attrs["index"] = cty.NumberIntVal(int64(scope.Index))
			innermostSet = true
		}
	}
	if len(attrs) == 0 {
		return cty.NilVal, false
	}
	return cty.ObjectVal(attrs), true
}

// resolveInputs evaluates a block's input bindings to concrete values.
// A binding that fails to evaluate fails the block, not the engine.
func (e *Engine) resolveInputs(st *execState, nodeID string, inputs map[string]hcl.Expression) (map[string]cty.Value, error) {
	evalCtx := e.evalContext(st, nodeID)
	resolved := make(map[string]cty.Value, len(inputs))
	for name, expr := range inputs {
		val, diags := expr.Value(evalCtx)
		if diags.HasErrors() {
			return nil, fmt.Errorf("input %q: %w", name, diags)
		}
		resolved[name] = val
	}
	return resolved, nil
}

// firedHandles determines which conditional branch handles a finished
// block fires. Unhandled edges always fire on success. A boolean output
// fires its truth value as a handle; an object output may select a
// branch explicitly through a string "handle" attribute. On failure
// only the "error" handle fires, which is what allows an authored
// on-error edge to recover.
func firedHandles(output cty.Value, failed bool) map[string]bool {
	if failed {
		return map[string]bool{"error": true}
	}
	handles := map[string]bool{"": true}
	if output == cty.NilVal || output.IsNull() || !output.IsKnown() {
		return handles
	}
	if output.Type() == cty.Bool {
		if output.True() {
			handles["true"] = true
		} else {
			handles["false"] = true
		}
		return handles
	}
	if output.Type().IsObjectType() && output.Type().HasAttribute("handle") {
		h := output.GetAttr("handle")
		if h.Type() == cty.String && !h.IsNull() {
			handles[h.AsString()] = true
		}
	}
	return handles
}
