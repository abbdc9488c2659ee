package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/flowgrid/internal/compile"
	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/runner"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	registry *runner.Registry
	config   *Config
	workflow *model.Workflow
	graph    *compile.Graph
}

// NewApp is the constructor for the main application. It returns a
// fully initialized App instance, including its own isolated logger and
// registry, with the workflow already loaded and compiled.
func NewApp(outW io.Writer, cfg *Config, modules ...runner.Module) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	wf, err := model.LoadWorkflowsRecursively(ctx, cfg.WorkflowPath)
	if err != nil {
		// A failure to load the workflow is a fatal startup error.
		panic(fmt.Errorf("failed to load workflow: %w", err))
	}
	logger.Debug("Workflow definition loaded.",
		"blocks", len(wf.Blocks), "edges", len(wf.Edges),
		"loops", len(wf.Loops), "parallels", len(wf.Parallels))

	graph, err := compile.Compile(wf)
	if err != nil {
		panic(fmt.Errorf("failed to compile workflow: %w", err))
	}
	logger.Debug("Workflow compiled.", "nodes", len(graph.Nodes), "containers", len(graph.Containers))

	reg := runner.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All Go modules registered.", "types", reg.Types())

	return &App{
		outW:     outW,
		logger:   logger,
		registry: reg,
		config:   cfg,
		workflow: wf,
		graph:    graph,
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *runner.Registry {
	return a.registry
}

// Graph returns the compiled workflow graph. This is primarily for testing.
func (a *App) Graph() *compile.Graph {
	return a.graph
}
