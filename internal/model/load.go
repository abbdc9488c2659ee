// This file loads workflow definitions from HCL files into the model.
//
// Why aggregate across files?
//
// A workflow may be split over several .hcl files in a directory tree.
// Loading discovers all of them and consolidates their blocks, edges,
// and containers into a single Workflow so the compiler can resolve
// references that span files.
package model

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/fsutil"
)

// hclWorkflowFile is the top-level decode target for one workflow file.
type hclWorkflowFile struct {
	Blocks    []*hclBlock    `hcl:"block,block"`
	Edges     []*hclEdge     `hcl:"edge,block"`
	Loops     []*hclLoop     `hcl:"loop,block"`
	Parallels []*hclParallel `hcl:"parallel,block"`
}

// hclBlock represents a `block "<type>" "<id>"` definition.
type hclBlock struct {
	Type   string     `hcl:"type,label"`
	ID     string     `hcl:"id,label"`
	Inputs *hclInputs `hcl:"inputs,block"`
	Remain hcl.Body   `hcl:",remain"`
}

// hclInputs captures the raw inputs body so bindings stay expressions.
type hclInputs struct {
	Body hcl.Body `hcl:",remain"`
}

type hclEdge struct {
	From       string `hcl:"from"`
	To         string `hcl:"to"`
	FromHandle string `hcl:"from_handle,optional"`
	ToHandle   string `hcl:"to_handle,optional"`
}

type hclLoop struct {
	ID              string   `hcl:"id,label"`
	Blocks          []string `hcl:"blocks"`
	ContinueOnError bool     `hcl:"continue_on_error,optional"`
	Remain          hcl.Body `hcl:",remain"`
}

type hclParallel struct {
	ID          string   `hcl:"id,label"`
	Blocks      []string `hcl:"blocks"`
	Concurrency int      `hcl:"concurrency,optional"`
	Count       int      `hcl:"count,optional"`
	Remain      hcl.Body `hcl:",remain"`
}

// NewBlockFromHCL converts a decoded block definition into the model.
func NewBlockFromHCL(raw *hclBlock) (*Block, hcl.Diagnostics) {
	b := &Block{
		Type:   raw.Type,
		ID:     raw.ID,
		Inputs: map[string]hcl.Expression{},
	}
	if raw.Inputs != nil {
		attrs, diags := raw.Inputs.Body.JustAttributes()
		if diags.HasErrors() {
			return nil, diags
		}
		for name, attr := range attrs {
			b.Inputs[name] = attr.Expr
		}
	}
	return b, nil
}

// NewLoopFromHCL converts a decoded loop definition into the model,
// extracting the iteration driver from the remaining attributes.
func NewLoopFromHCL(raw *hclLoop) (*LoopConfig, hcl.Diagnostics) {
	l := &LoopConfig{
		ID:              raw.ID,
		Blocks:          raw.Blocks,
		ContinueOnError: raw.ContinueOnError,
	}
	attrs, diags := raw.Remain.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}
	rng := raw.Remain.MissingItemRange()
	for name, attr := range attrs {
		switch name {
		case "count":
			l.Count = attr.Expr
		case "collection":
			l.Collection = attr.Expr
		case "condition":
			l.Condition = attr.Expr
		default:
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Unsupported loop attribute",
				Detail:   fmt.Sprintf("The attribute %q is not expected in a loop block.", name),
				Subject:  attr.Range.Ptr(),
			})
		}
	}
	if diags.HasErrors() {
		return nil, diags
	}
	if modeDiags := resolveLoopMode(l, rng); modeDiags.HasErrors() {
		return nil, modeDiags
	}
	return l, nil
}

// NewParallelFromHCL converts a decoded parallel definition into the model.
func NewParallelFromHCL(raw *hclParallel) (*ParallelConfig, hcl.Diagnostics) {
	p := &ParallelConfig{
		ID:          raw.ID,
		Blocks:      raw.Blocks,
		Concurrency: raw.Concurrency,
		Count:       raw.Count,
	}
	attrs, diags := raw.Remain.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}
	for name, attr := range attrs {
		switch name {
		case "collection":
			p.Collection = attr.Expr
		default:
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Unsupported parallel attribute",
				Detail:   fmt.Sprintf("The attribute %q is not expected in a parallel block.", name),
				Subject:  attr.Range.Ptr(),
			})
		}
	}
	if diags.HasErrors() {
		return nil, diags
	}
	if valDiags := validateParallel(p, raw.Remain.MissingItemRange()); valDiags.HasErrors() {
		return nil, valDiags
	}
	return p, nil
}

// newWorkflowFromHCL parses a single file and returns its contents.
func newWorkflowFromHCL(filePath string, parser *hclparse.Parser) (*Workflow, error) {
	hclFile, diags := parser.ParseHCLFile(filePath)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse workflow file %s: %w", filePath, diags)
	}

	var parsed hclWorkflowFile
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode workflow file %s: %w", filePath, diags)
	}

	wf := &Workflow{}
	for _, rawBlock := range parsed.Blocks {
		b, blockDiags := NewBlockFromHCL(rawBlock)
		if blockDiags.HasErrors() {
			return nil, fmt.Errorf("error in block %q in file %s: %w", rawBlock.ID, filePath, blockDiags)
		}
		wf.Blocks = append(wf.Blocks, b)
	}
	for _, rawEdge := range parsed.Edges {
		wf.Edges = append(wf.Edges, &Edge{
			Source:       rawEdge.From,
			Target:       rawEdge.To,
			SourceHandle: rawEdge.FromHandle,
			TargetHandle: rawEdge.ToHandle,
		})
	}
	for _, rawLoop := range parsed.Loops {
		l, loopDiags := NewLoopFromHCL(rawLoop)
		if loopDiags.HasErrors() {
			return nil, fmt.Errorf("error in loop %q in file %s: %w", rawLoop.ID, filePath, loopDiags)
		}
		wf.Loops = append(wf.Loops, l)
	}
	for _, rawParallel := range parsed.Parallels {
		p, parDiags := NewParallelFromHCL(rawParallel)
		if parDiags.HasErrors() {
			return nil, fmt.Errorf("error in parallel %q in file %s: %w", rawParallel.ID, filePath, parDiags)
		}
		wf.Parallels = append(wf.Parallels, p)
	}
	return wf, nil
}

// LoadWorkflowsRecursively finds and parses all .hcl files under the
// given path into a single consolidated Workflow.
func LoadWorkflowsRecursively(ctx context.Context, path string) (*Workflow, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading workflow from path", "path", path)

	files, err := fsutil.FindFilesByExtension(path, ".hcl")
	if err != nil {
		return nil, fmt.Errorf("failed to find workflow files in %s: %w", path, err)
	}

	wf := &Workflow{}
	if len(files) == 0 {
		logger.Warn("No .hcl workflow files found in path, returning empty workflow", "path", path)
		return wf, nil
	}

	parser := hclparse.NewParser()
	for _, file := range files {
		part, err := newWorkflowFromHCL(file, parser)
		if err != nil {
			return nil, err
		}
		wf.Blocks = append(wf.Blocks, part.Blocks...)
		wf.Edges = append(wf.Edges, part.Edges...)
		wf.Loops = append(wf.Loops, part.Loops...)
		wf.Parallels = append(wf.Parallels, part.Parallels...)
	}

	logger.Debug("Workflow loaded.",
		"blocks", len(wf.Blocks),
		"edges", len(wf.Edges),
		"loops", len(wf.Loops),
		"parallels", len(wf.Parallels),
	)
	return wf, nil
}
