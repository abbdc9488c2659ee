package app

import (
	"context"
	"fmt"
	"os"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/engine"
	"github.com/vk/flowgrid/internal/snapshot"
)

// Run executes the loaded workflow: a fresh run, a resume, or a partial
// re-execution, depending on the configuration.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.config.HealthcheckPort > 0 {
		a.startHealthcheckServer(a.config.HealthcheckPort)
	}

	vars, err := loadVarsFile(a.config.VarsFile)
	if err != nil {
		return err
	}

	eng, err := engine.New(a.graph, a.registry, engine.Options{
		Workers:     a.config.WorkerCount,
		Vars:        vars,
		StopAfter:   a.config.StopAfter,
		OutputBlock: a.config.OutputBlock,
		WorkflowID:  a.config.WorkflowPath,
		Trigger:     "cli",
		Callbacks: engine.Callbacks{
			OnStream: func(blockID, chunk string) {
				a.logger.Info("Stream chunk.", "block_id", blockID, "chunk", chunk)
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to configure engine: %w", err)
	}

	a.logger.Info("🚀 Starting workflow execution...", "workers", a.config.WorkerCount)
	res, err := a.execute(ctx, eng)
	if err != nil {
		return err
	}

	for _, entry := range res.Logs {
		a.logger.Debug("Block finished.",
			"block_id", entry.BlockID, "status", entry.Status,
			"duration", entry.Duration, "iteration", entry.Iteration, "branch", entry.Branch)
	}
	a.logger.Info("🏁 Execution finished.",
		"status", res.Status, "blocks", len(res.Logs), "duration", res.Duration)

	if a.config.SnapshotOut != "" {
		if err := a.writeSnapshot(res.Snapshot); err != nil {
			return err
		}
	}
	if res.Err != nil {
		return fmt.Errorf("execution failed: %w", res.Err)
	}

	a.logger.Debug("App.Run method finished.")
	return nil
}

func (a *App) execute(ctx context.Context, eng *engine.Engine) (*engine.Result, error) {
	if a.config.SnapshotIn == "" {
		return eng.Execute(ctx)
	}

	raw, err := os.ReadFile(a.config.SnapshotIn)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", a.config.SnapshotIn, err)
	}
	snap, err := snapshot.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", a.config.SnapshotIn, err)
	}

	if a.config.FromBlock != "" {
		a.logger.Info("Re-executing from block.", "block_id", a.config.FromBlock)
		return eng.ExecuteFromBlock(ctx, a.config.FromBlock, snap)
	}
	a.logger.Info("Resuming from snapshot.", "execution_id", snap.Metadata.ExecutionID)
	return eng.Resume(ctx, snap)
}

func (a *App) writeSnapshot(snap *snapshot.Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.WriteFile(a.config.SnapshotOut, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", a.config.SnapshotOut, err)
	}
	a.logger.Info("Snapshot written.", "path", a.config.SnapshotOut)
	return nil
}
