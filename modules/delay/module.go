// Package delay provides a time-based block used for pacing workflows
// and for exercising the streaming path: when a stream consumer is
// attached it emits one chunk per elapsed tick.
package delay

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/flowgrid/internal/runner"
	"github.com/zclconf/go-cty/cty"
)

// Module implements the runner.Module interface for this package.
type Module struct{}

type delayRunner struct{}

func args(in *runner.Input) (total, tick time.Duration, err error) {
	d, ok := in.Args["duration_ms"]
	if !ok || d.IsNull() || d.Type() != cty.Number {
		return 0, 0, fmt.Errorf("'duration_ms' is required and must be a number")
	}
	ms, _ := d.AsBigFloat().Int64()
	if ms < 0 {
		return 0, 0, fmt.Errorf("'duration_ms' cannot be negative")
	}
	total = time.Duration(ms) * time.Millisecond

	tick = total
	if t, ok := in.Args["tick_ms"]; ok && !t.IsNull() && t.Type() == cty.Number {
		tms, _ := t.AsBigFloat().Int64()
		if tms > 0 {
			tick = time.Duration(tms) * time.Millisecond
		}
	}
	return total, tick, nil
}

func result(start time.Time) cty.Value {
	return cty.ObjectVal(map[string]cty.Value{
		"elapsed_ms": cty.NumberIntVal(time.Since(start).Milliseconds()),
	})
}

func (delayRunner) Run(ctx context.Context, in *runner.Input) (cty.Value, error) {
	total, _, err := args(in)
	if err != nil {
		return cty.NilVal, err
	}
	start := time.Now()
	select {
	case <-time.After(total):
		return result(start), nil
	case <-ctx.Done():
		return cty.NilVal, ctx.Err()
	}
}

func (delayRunner) RunStream(ctx context.Context, in *runner.Input, emit func(chunk string)) (cty.Value, error) {
	total, tick, err := args(in)
	if err != nil {
		return cty.NilVal, err
	}
	start := time.Now()
	deadline := start.Add(total)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	n := 0
	for {
		select {
		case <-ticker.C:
			n++
			emit(fmt.Sprintf("tick %d", n))
			if !time.Now().Before(deadline) {
				return result(start), nil
			}
		case <-ctx.Done():
			return cty.NilVal, ctx.Err()
		}
	}
}

// Register registers the runner with the engine.
func (m *Module) Register(r *runner.Registry) {
	r.Register("delay", delayRunner{})
}
