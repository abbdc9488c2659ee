package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// WorkflowPath is a single .hcl file or a directory tree of them.
	WorkflowPath string

	// VarsFile is an optional JSON file supplying workflow variables.
	VarsFile string

	// StopAfter pauses the execution once the named block completes.
	StopAfter string

	// OutputBlock selects which block's output becomes the final result.
	OutputBlock string

	// SnapshotIn resumes from a persisted snapshot instead of starting
	// fresh. FromBlock additionally re-executes from that block using
	// the snapshot's cached upstream outputs.
	SnapshotIn string
	FromBlock  string

	// SnapshotOut persists the final snapshot of the run.
	SnapshotOut string

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	WorkerCount     int
}

// NewConfig validates a Config.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.WorkflowPath == "" {
		return nil, errors.New("WorkflowPath is a required configuration field and cannot be empty")
	}
	if cfg.FromBlock != "" && cfg.SnapshotIn == "" {
		return nil, errors.New("FromBlock requires SnapshotIn to supply the cached upstream state")
	}
	return &cfg, nil
}
