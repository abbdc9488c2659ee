// This file models loop containers and the validation of their
// iteration attributes.
//
// Why validate at parse time?
//
// A loop is driven by exactly one of `count`, `collection`, or
// `condition`. Catching a missing or conflicting driver while the
// source file is still in hand produces a diagnostic pointing at the
// offending range, instead of a runtime failure deep inside an
// execution.
package model

import (
	"github.com/hashicorp/hcl/v2"
)

// LoopMode identifies what drives a loop's iteration.
type LoopMode string

const (
	// LoopCount iterates a fixed number of times.
	LoopCount LoopMode = "count"
	// LoopCollection iterates once per element of a collection,
	// binding the current element as the loop item.
	LoopCollection LoopMode = "collection"
	// LoopCondition iterates while a boolean expression holds,
	// re-evaluated against live state after every pass.
	LoopCondition LoopMode = "condition"
)

// LoopConfig describes one loop container. Blocks lists direct members
// only; a member id may itself be another container id, which is how
// nesting is expressed.
type LoopConfig struct {
	ID     string
	Blocks []string
	Mode   LoopMode

	// Exactly one of the following is non-nil, matching Mode.
	Count      hcl.Expression
	Collection hcl.Expression
	Condition  hcl.Expression

	// ContinueOnError records a failed iteration but lets the loop
	// proceed to its continuation check instead of failing outright.
	ContinueOnError bool
}

// resolveLoopMode determines the iteration mode from the decoded
// attributes and reports conflicts in the source file.
func resolveLoopMode(l *LoopConfig, rng hcl.Range) hcl.Diagnostics {
	var diags hcl.Diagnostics

	set := 0
	if l.Count != nil {
		l.Mode = LoopCount
		set++
	}
	if l.Collection != nil {
		l.Mode = LoopCollection
		set++
	}
	if l.Condition != nil {
		l.Mode = LoopCondition
		set++
	}

	switch {
	case set == 0:
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Missing loop driver",
			Detail:   "A loop block requires one of 'count', 'collection', or 'condition'.",
			Subject:  &rng,
		})
	case set > 1:
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Conflicting loop drivers",
			Detail:   "The 'count', 'collection', and 'condition' attributes are mutually exclusive.",
			Subject:  &rng,
		})
	}
	return diags
}
