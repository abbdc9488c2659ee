// Package model holds the format-agnostic representation of a workflow:
// blocks, edges, and the loop/parallel containers that group them.
//
// Why a separate model package?
//
// Workflow definitions arrive as HCL files, but nothing downstream of
// loading should care about that. The compiler and the engine consume
// plain structs whose only HCL remnant is hcl.Expression for values
// that must be evaluated against live execution state (block input
// bindings, loop collections, continuation conditions). Keeping the
// model free of parser details means tests can construct workflows
// directly in Go without touching the filesystem.
package model
