package app

import (
	"fmt"
	"os"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// loadVarsFile reads a JSON object file and converts each top-level
// attribute to a workflow variable.
func loadVarsFile(path string) (map[string]cty.Value, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vars file %s: %w", path, err)
	}
	ty, err := ctyjson.ImpliedType(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to type vars file %s: %w", path, err)
	}
	val, err := ctyjson.Unmarshal(raw, ty)
	if err != nil {
		return nil, fmt.Errorf("failed to decode vars file %s: %w", path, err)
	}
	if !val.Type().IsObjectType() {
		return nil, fmt.Errorf("vars file %s must contain a JSON object", path)
	}

	vars := make(map[string]cty.Value)
	for it := val.ElementIterator(); it.Next(); {
		k, v := it.Element()
		vars[k.AsString()] = v
	}
	return vars, nil
}
