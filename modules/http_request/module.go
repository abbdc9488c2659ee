package http_request

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/runner"
	"github.com/zclconf/go-cty/cty"
)

const defaultTimeout = 30 * time.Second

// Module implements the runner.Module interface for this package.
type Module struct{}

func run(ctx context.Context, in *runner.Input) (cty.Value, error) {
	urlVal, ok := in.Args["url"]
	if !ok || urlVal.IsNull() || urlVal.Type() != cty.String {
		return cty.NilVal, fmt.Errorf("'url' is required and must be a string")
	}
	url := urlVal.AsString()

	method := http.MethodGet
	if m, ok := in.Args["method"]; ok && !m.IsNull() && m.Type() == cty.String {
		method = strings.ToUpper(m.AsString())
	}

	var body io.Reader
	if b, ok := in.Args["body"]; ok && !b.IsNull() && b.Type() == cty.String {
		body = strings.NewReader(b.AsString())
	}

	timeout := defaultTimeout
	if t, ok := in.Args["timeout_ms"]; ok && !t.IsNull() && t.Type() == cty.Number {
		ms, _ := t.AsBigFloat().Int64()
		if ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
	}

	ctxlog.FromContext(ctx).Info("Making HTTP request", "method", method, "url", url)

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		return cty.NilVal, fmt.Errorf("failed to create request: %w", err)
	}
	if h, ok := in.Args["headers"]; ok && !h.IsNull() && h.CanIterateElements() {
		for it := h.ElementIterator(); it.Next(); {
			k, v := it.Element()
			if k.Type() == cty.String && v.Type() == cty.String {
				req.Header.Set(k.AsString(), v.AsString())
			}
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return cty.NilVal, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	ctxlog.FromContext(ctx).Info("Received HTTP response", "status", resp.Status)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return cty.NilVal, fmt.Errorf("failed to read response body: %w", err)
	}

	return cty.ObjectVal(map[string]cty.Value{
		"status_code": cty.NumberIntVal(int64(resp.StatusCode)),
		"body":        cty.StringVal(string(bodyBytes)),
	}), nil
}

// Register registers the runner with the engine.
func (m *Module) Register(r *runner.Registry) {
	r.Register("http_request", runner.RunnerFunc(run))
}
