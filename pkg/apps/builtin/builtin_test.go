package builtin_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/dukex/orchestron/pkg/apps/builtin"
	"github.com/dukex/orchestron/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	r := registry.NewRegistry(logger)
	require.NoError(t, r.Register(builtin.New(logger)))

	return r
}

func runAction(t *testing.T, r *registry.Registry, name string, req *registry.Request) (*registry.Output, error) {
	t.Helper()

	capability, err := r.ResolveKind(builtin.Name, name, registry.KindAction)
	require.NoError(t, err)
	require.NoError(t, capability.ValidateArguments(req.Arguments))

	return capability.Action(context.Background(), req)
}

func TestEcho(t *testing.T) {
	r := newRegistry(t)

	out, err := runAction(t, r, "echo", &registry.Request{Arguments: map[string]any{"value": 7}})
	require.NoError(t, err)
	assert.Equal(t, 7, out.Result)
}

func TestFail(t *testing.T) {
	r := newRegistry(t)

	_, err := runAction(t, r, "fail", &registry.Request{Arguments: map[string]any{"message": "boom"}})
	require.ErrorIs(t, err, builtin.ErrActionFailed)
	assert.Contains(t, err.Error(), "boom")
}

func TestCounter_UsesInstanceState(t *testing.T) {
	r := newRegistry(t)

	out, err := runAction(t, r, "counter", &registry.Request{Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.Instance, 0.0001)

	out, err = runAction(t, r, "counter", &registry.Request{Arguments: map[string]any{"by": 2}, Instance: out.Instance})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, out.Result, 0.0001)
}

func TestStream_EmitsChunks(t *testing.T) {
	r := newRegistry(t)

	var emitted []any

	out, err := runAction(t, r, "stream", &registry.Request{
		Arguments: map[string]any{"chunks": []any{"a", "b"}},
		Emit: func(partial any) error {
			emitted = append(emitted, partial)

			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, emitted)
	assert.Equal(t, map[string]any{"chunks": 2}, out.Result)
}

func TestSleep_HonoursCancellation(t *testing.T) {
	r := newRegistry(t)

	capability, err := r.Resolve(builtin.Name, "sleep")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = capability.Action(ctx, &registry.Request{Arguments: map[string]any{"milliseconds": 10000}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestConditions(t *testing.T) {
	r := newRegistry(t)

	tests := []struct {
		name  string
		value any
		args  map[string]any
		want  bool
	}{
		{"equals", 3.0, map[string]any{"value": 3}, true},
		{"not_equals", "a", map[string]any{"value": "b"}, true},
		{"greater_than", 10, map[string]any{"threshold": 5}, true},
		{"less_than", 10, map[string]any{"threshold": 5}, false},
		{"contains", "orchestron", map[string]any{"value": "chest"}, true},
		{"contains", []any{1.0, 2.0}, map[string]any{"value": 2}, true},
		{"matches", "abc-123", map[string]any{"pattern": `^[a-z]+-\d+$`}, true},
		{"is_true", true, nil, true},
		{"is_true", "yes", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capability, err := r.ResolveKind(builtin.Name, tt.name, registry.KindCondition)
			require.NoError(t, err)

			got, err := capability.Condition(context.Background(), tt.value, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransforms(t *testing.T) {
	r := newRegistry(t)

	tests := []struct {
		name  string
		value any
		args  map[string]any
		want  any
	}{
		{"select", map[string]any{"a": []any{"x", "y"}}, map[string]any{"path": []any{"a", 1.0}}, "y"},
		{"length", "four", nil, 4},
		{"to_lower", "LOUD", nil, "loud"},
		{"to_upper", "quiet", nil, "QUIET"},
		{"add", 2, map[string]any{"amount": 3}, 5.0},
		{"jsonata", map[string]any{"user": map[string]any{"name": "ada"}}, map[string]any{"expression": "user.name"}, "ada"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capability, err := r.ResolveKind(builtin.Name, tt.name, registry.KindTransform)
			require.NoError(t, err)

			got, err := capability.Transform(context.Background(), tt.value, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONataTransform(t *testing.T) {
	r := newRegistry(t)

	capability, err := r.ResolveKind(builtin.Name, "jsonata", registry.KindTransform)
	require.NoError(t, err)
	require.Error(t, capability.ValidateArguments(map[string]any{}))

	got, err := capability.Transform(context.Background(), map[string]any{"a": 1.0}, map[string]any{"expression": "missing"})
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = capability.Transform(context.Background(), nil, map[string]any{"expression": "(("})
	assert.ErrorContains(t, err, "failed to compile")
}
