package builtin

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/dukex/orchestron/pkg/registry"
)

func conditions() []*registry.Capability {
	return []*registry.Capability{
		{Name: "equals", Kind: registry.KindCondition, Schema: requires("value"), Condition: equals},
		{Name: "not_equals", Kind: registry.KindCondition, Schema: requires("value"), Condition: notEquals},
		{Name: "greater_than", Kind: registry.KindCondition, Schema: requiresNumber("threshold"), Condition: greaterThan},
		{Name: "less_than", Kind: registry.KindCondition, Schema: requiresNumber("threshold"), Condition: lessThan},
		{Name: "contains", Kind: registry.KindCondition, Schema: requires("value"), Condition: contains},
		{Name: "matches", Kind: registry.KindCondition, Schema: requiresString("pattern"), Condition: matches},
		{Name: "is_true", Kind: registry.KindCondition, Condition: isTrue},
	}
}

func requires(name string) map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{name},
	}
}

func requiresNumber(name string) map[string]any {
	schema := requires(name)
	schema["properties"] = map[string]any{name: map[string]any{"type": "number"}}

	return schema
}

func requiresString(name string) map[string]any {
	schema := requires(name)
	schema["properties"] = map[string]any{name: map[string]any{"type": "string"}}

	return schema
}

func equals(_ context.Context, value any, args map[string]any) (bool, error) {
	return same(value, args["value"]), nil
}

func notEquals(ctx context.Context, value any, args map[string]any) (bool, error) {
	eq, err := equals(ctx, value, args)

	return !eq, err
}

func greaterThan(_ context.Context, value any, args map[string]any) (bool, error) {
	v, threshold, err := numbers(value, args["threshold"])
	if err != nil {
		return false, err
	}

	return v > threshold, nil
}

func lessThan(_ context.Context, value any, args map[string]any) (bool, error) {
	v, threshold, err := numbers(value, args["threshold"])
	if err != nil {
		return false, err
	}

	return v < threshold, nil
}

// contains checks substring membership for strings and element membership for lists.
func contains(_ context.Context, value any, args map[string]any) (bool, error) {
	switch v := value.(type) {
	case string:
		needle, ok := args["value"].(string)
		if !ok {
			return false, fmt.Errorf("contains: value must be a string, got %T", args["value"])
		}

		return strings.Contains(v, needle), nil
	case []any:
		for _, element := range v {
			if same(element, args["value"]) {
				return true, nil
			}
		}

		return false, nil
	case map[string]any:
		key, ok := args["value"].(string)
		if !ok {
			return false, nil
		}

		_, exists := v[key]

		return exists, nil
	default:
		return false, fmt.Errorf("contains: unsupported input %T", value)
	}
}

func matches(_ context.Context, value any, args map[string]any) (bool, error) {
	pattern, _ := args["pattern"].(string)

	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("matches: %w", err)
	}

	return re.MatchString(fmt.Sprint(value)), nil
}

func isTrue(_ context.Context, value any, _ map[string]any) (bool, error) {
	b, ok := value.(bool)

	return ok && b, nil
}

// same compares numerically when both sides are numbers, deeply otherwise.
func same(a, b any) bool {
	x, okA := toFloat(a)
	y, okB := toFloat(b)

	if okA && okB {
		return x == y
	}

	return reflect.DeepEqual(a, b)
}

func numbers(value, threshold any) (float64, float64, error) {
	v, ok := toFloat(value)
	if !ok {
		return 0, 0, fmt.Errorf("expected a number, got %T", value)
	}

	t, ok := toFloat(threshold)
	if !ok {
		return 0, 0, fmt.Errorf("expected a numeric threshold, got %T", threshold)
	}

	return v, t, nil
}
