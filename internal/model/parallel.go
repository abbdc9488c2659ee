// This file models parallel containers.
package model

import (
	"github.com/hashicorp/hcl/v2"
)

// DefaultParallelConcurrency bounds branch fan-out when a parallel
// container does not set its own limit.
const DefaultParallelConcurrency = 4

// ParallelConfig describes one parallel container. Branches are derived
// either from a collection (one branch per element, the element bound as
// the branch item) or from a fixed branch count.
type ParallelConfig struct {
	ID     string
	Blocks []string

	// Concurrency bounds how many branches run at once. Zero means
	// DefaultParallelConcurrency.
	Concurrency int

	// Collection, when non-nil, distributes its elements across
	// branches. Mutually exclusive with Count.
	Collection hcl.Expression

	// Count is the fixed number of branches when no collection is set.
	Count int
}

// validateParallel reports conflicting or missing fan-out drivers.
func validateParallel(p *ParallelConfig, rng hcl.Range) hcl.Diagnostics {
	var diags hcl.Diagnostics
	if p.Collection != nil && p.Count > 0 {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Conflicting parallel drivers",
			Detail:   "The 'collection' and 'count' attributes are mutually exclusive.",
			Subject:  &rng,
		})
	}
	if p.Collection == nil && p.Count <= 0 {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Missing parallel driver",
			Detail:   "A parallel block requires either 'collection' or a positive 'count'.",
			Subject:  &rng,
		})
	}
	if p.Concurrency < 0 {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid concurrency",
			Detail:   "The 'concurrency' attribute cannot be negative.",
			Subject:  &rng,
		})
	}
	return diags
}
