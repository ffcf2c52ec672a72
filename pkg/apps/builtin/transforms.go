package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/blues/jsonata-go"
	"github.com/dukex/orchestron/pkg/models"
	"github.com/dukex/orchestron/pkg/registry"
)

func transforms() []*registry.Capability {
	return []*registry.Capability{
		{
			Name: "select",
			Kind: registry.KindTransform,
			Schema: map[string]any{
				"type":     "object",
				"required": []any{"path"},
				"properties": map[string]any{
					"path": map[string]any{"type": "array"},
				},
			},
			Transform: selectPath,
		},
		{Name: "length", Kind: registry.KindTransform, Transform: length},
		{Name: "to_lower", Kind: registry.KindTransform, Transform: toLower},
		{Name: "to_upper", Kind: registry.KindTransform, Transform: toUpper},
		{Name: "add", Kind: registry.KindTransform, Schema: requiresNumber("amount"), Transform: add},
		{Name: "jsonata", Kind: registry.KindTransform, Schema: requiresString("expression"), Transform: evalJSONata},
	}
}

func selectPath(_ context.Context, value any, args map[string]any) (any, error) {
	path, _ := args["path"].([]any)

	return models.Select(value, path)
}

func length(_ context.Context, value any, _ map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return len(v), nil
	case []any:
		return len(v), nil
	case map[string]any:
		return len(v), nil
	default:
		return nil, fmt.Errorf("length: unsupported input %T", value)
	}
}

func toLower(_ context.Context, value any, _ map[string]any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("to_lower: expected a string, got %T", value)
	}

	return strings.ToLower(s), nil
}

func toUpper(_ context.Context, value any, _ map[string]any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("to_upper: expected a string, got %T", value)
	}

	return strings.ToUpper(s), nil
}

func add(_ context.Context, value any, args map[string]any) (any, error) {
	v, amount, err := numbers(value, args["amount"])
	if err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}

	return v + amount, nil
}

// evalJSONata reshapes value with a JSONata expression. An undefined result is nil.
func evalJSONata(_ context.Context, value any, args map[string]any) (any, error) {
	source, _ := args["expression"].(string)

	expr, err := jsonata.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("jsonata: failed to compile %q: %w", source, err)
	}

	result, err := expr.Eval(value)
	if err != nil {
		if errors.Is(err, jsonata.ErrUndefined) {
			return nil, nil
		}

		return nil, fmt.Errorf("jsonata: failed to evaluate %q: %w", source, err)
	}

	return result, nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	default:
		return 0, false
	}
}
