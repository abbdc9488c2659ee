package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_AllFlags(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	var out bytes.Buffer
	args := []string{
		"--workflow", "wf.hcl",
		"--vars-file", "vars.json",
		"--stop-after", "fetch",
		"--output-block", "report",
		"--resume", "snap.json",
		"--from-block", "fetch",
		"--snapshot-out", "out.json",
		"--healthcheck-port", "8080",
		"--log-format", "text",
		"--log-level", "debug",
		"--workers", "4",
	}

	// --- Act ---
	cfg, shouldExit, err := Parse(args, &out)

	// --- Assert ---
	require.NoError(t, err)
	require.False(t, shouldExit)
	require.Equal(t, "wf.hcl", cfg.WorkflowPath)
	require.Equal(t, "vars.json", cfg.VarsFile)
	require.Equal(t, "fetch", cfg.StopAfter)
	require.Equal(t, "report", cfg.OutputBlock)
	require.Equal(t, "snap.json", cfg.SnapshotIn)
	require.Equal(t, "fetch", cfg.FromBlock)
	require.Equal(t, "out.json", cfg.SnapshotOut)
	require.Equal(t, 8080, cfg.HealthcheckPort)
	require.Equal(t, "text", cfg.LogFormat)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 4, cfg.WorkerCount)
}

func TestParse_PositionalWorkflowPath(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cfg, shouldExit, err := Parse([]string{"grids/demo.hcl"}, &out)

	require.NoError(t, err)
	require.False(t, shouldExit)
	require.Equal(t, "grids/demo.hcl", cfg.WorkflowPath)
}

func TestParse_ShorthandWorkflowFlag(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cfg, _, err := Parse([]string{"-w", "wf.hcl"}, &out)

	require.NoError(t, err)
	require.Equal(t, "wf.hcl", cfg.WorkflowPath)
}

func TestParse_Defaults(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cfg, _, err := Parse([]string{"wf.hcl"}, &out)

	require.NoError(t, err)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 8, cfg.WorkerCount)
	require.Equal(t, 0, cfg.HealthcheckPort)
}

func TestParse_NoArgsPrintsUsage(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cfg, shouldExit, err := Parse(nil, &out)

	require.NoError(t, err)
	require.True(t, shouldExit)
	require.Nil(t, cfg)
	require.Contains(t, out.String(), "Usage:")
}

func TestParse_HelpFlag(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cfg, shouldExit, err := Parse([]string{"--help"}, &out)

	require.NoError(t, err)
	require.True(t, shouldExit)
	require.Nil(t, cfg)
}

func TestParse_InvalidLogFormat(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	_, _, err := Parse([]string{"--log-format", "xml", "wf.hcl"}, &out)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 2, exitErr.Code)
	require.Contains(t, exitErr.Message, "invalid log-format")
}

func TestParse_InvalidLogLevel(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	_, _, err := Parse([]string{"--log-level", "verbose", "wf.hcl"}, &out)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 2, exitErr.Code)
	require.Contains(t, exitErr.Message, "invalid log-level")
}

func TestParse_FromBlockRequiresResume(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	_, _, err := Parse([]string{"--from-block", "fetch", "wf.hcl"}, &out)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 2, exitErr.Code)
	require.Contains(t, exitErr.Message, "FromBlock requires SnapshotIn")
}

func TestParse_UnknownFlag(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	_, _, err := Parse([]string{"--bogus"}, &out)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 2, exitErr.Code)
}
