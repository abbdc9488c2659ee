package model

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeWorkflowFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadWorkflowsRecursively(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	dir := t.TempDir()
	writeWorkflowFile(t, dir, "main.hcl", `
block "print" "greet" {
  inputs {
    message = "hello ${var.name}"
  }
}

block "delay" "pause" {
  inputs {
    duration_ms = 100
  }
}

edge {
  from = "greet"
  to   = "pause"
}

loop "retry" {
  blocks = ["pause"]
  count  = 3
}

parallel "fanout" {
  blocks      = ["greet"]
  count       = 2
  concurrency = 1
}
`)

	// --- Act ---
	wf, err := LoadWorkflowsRecursively(context.Background(), dir)

	// --- Assert ---
	require.NoError(t, err)
	require.Len(t, wf.Blocks, 2)
	require.Len(t, wf.Edges, 1)
	require.Len(t, wf.Loops, 1)
	require.Len(t, wf.Parallels, 1)

	greet := wf.BlockByID("greet")
	require.NotNil(t, greet)
	require.Equal(t, "print", greet.Type)
	require.Contains(t, greet.Inputs, "message")

	require.Equal(t, "greet", wf.Edges[0].Source)
	require.Equal(t, "pause", wf.Edges[0].Target)

	require.Equal(t, LoopCount, wf.Loops[0].Mode)
	require.Equal(t, []string{"pause"}, wf.Loops[0].Blocks)

	require.Equal(t, 2, wf.Parallels[0].Count)
	require.Equal(t, 1, wf.Parallels[0].Concurrency)
}

func TestLoadWorkflowsRecursively_MergesAcrossFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(sub, 0755))
	writeWorkflowFile(t, dir, "blocks.hcl", `
block "print" "a" {}
block "print" "b" {}
`)
	writeWorkflowFile(t, sub, "edges.hcl", `
edge {
  from = "a"
  to   = "b"
}
`)

	wf, err := LoadWorkflowsRecursively(context.Background(), dir)

	require.NoError(t, err)
	require.Len(t, wf.Blocks, 2)
	require.Len(t, wf.Edges, 1)
}

func TestLoadWorkflowsRecursively_EmptyDir(t *testing.T) {
	t.Parallel()

	wf, err := LoadWorkflowsRecursively(context.Background(), t.TempDir())

	require.NoError(t, err)
	require.Empty(t, wf.Blocks)
}

func TestLoadWorkflowsRecursively_InvalidSyntax(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeWorkflowFile(t, dir, "broken.hcl", `block "print" {`)

	_, err := LoadWorkflowsRecursively(context.Background(), dir)

	require.Error(t, err)
	require.Contains(t, err.Error(), "broken.hcl")
}

func TestLoad_ConflictingLoopDrivers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeWorkflowFile(t, dir, "loop.hcl", `
block "print" "b" {}

loop "l" {
  blocks     = ["b"]
  count      = 3
  collection = ["x"]
}
`)

	_, err := LoadWorkflowsRecursively(context.Background(), dir)

	require.Error(t, err)
	require.Contains(t, err.Error(), "Conflicting loop drivers")
}

func TestLoad_MissingLoopDriver(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeWorkflowFile(t, dir, "loop.hcl", `
block "print" "b" {}

loop "l" {
  blocks = ["b"]
}
`)

	_, err := LoadWorkflowsRecursively(context.Background(), dir)

	require.Error(t, err)
	require.Contains(t, err.Error(), "Missing loop driver")
}

func TestLoad_UnsupportedLoopAttribute(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeWorkflowFile(t, dir, "loop.hcl", `
block "print" "b" {}

loop "l" {
  blocks  = ["b"]
  count   = 3
  retries = 5
}
`)

	_, err := LoadWorkflowsRecursively(context.Background(), dir)

	require.Error(t, err)
	require.Contains(t, err.Error(), "Unsupported loop attribute")
}
