package builtin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/orchestron/pkg/registry"
)

var ErrActionFailed = errors.New("action failed")

func (a *App) actions() []*registry.Capability {
	return []*registry.Capability{
		{Name: "echo", Kind: registry.KindAction, Action: echo},
		{
			Name: "log",
			Kind: registry.KindAction,
			Schema: map[string]any{
				"type":     "object",
				"required": []any{"message"},
				"properties": map[string]any{
					"message": map[string]any{"type": "string"},
				},
			},
			Action: a.log,
		},
		{
			Name: "fail",
			Kind: registry.KindAction,
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{"type": "string"},
				},
			},
			Action: fail,
		},
		{
			Name: "sleep",
			Kind: registry.KindAction,
			Schema: map[string]any{
				"type":     "object",
				"required": []any{"milliseconds"},
				"properties": map[string]any{
					"milliseconds": map[string]any{"type": "number", "minimum": 0},
				},
			},
			Action: sleep,
		},
		{
			Name: "counter",
			Kind: registry.KindAction,
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"by": map[string]any{"type": "number"},
				},
			},
			Action: counter,
		},
		{
			Name:      "stream",
			Kind:      registry.KindAction,
			Streaming: true,
			Schema: map[string]any{
				"type":     "object",
				"required": []any{"chunks"},
				"properties": map[string]any{
					"chunks": map[string]any{"type": "array"},
				},
			},
			Action: stream,
		},
	}
}

// echo returns its "value" argument, or every argument when none is named so.
func echo(_ context.Context, req *registry.Request) (*registry.Output, error) {
	if value, ok := req.Arguments["value"]; ok {
		return &registry.Output{Result: value}, nil
	}

	return &registry.Output{Result: req.Arguments}, nil
}

func (a *App) log(ctx context.Context, req *registry.Request) (*registry.Output, error) {
	message, _ := req.Arguments["message"].(string)

	a.logger.InfoContext(ctx, message, "execution_id", req.ExecutionID, "action_id", req.ActionID)

	return &registry.Output{Result: map[string]any{"message": message}}, nil
}

func fail(_ context.Context, req *registry.Request) (*registry.Output, error) {
	message, _ := req.Arguments["message"].(string)
	if message == "" {
		return nil, ErrActionFailed
	}

	return nil, fmt.Errorf("%w: %s", ErrActionFailed, message)
}

func sleep(ctx context.Context, req *registry.Request) (*registry.Output, error) {
	ms, _ := toFloat(req.Arguments["milliseconds"])

	timer := time.NewTimer(time.Duration(ms * float64(time.Millisecond)))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return &registry.Output{Result: ms}, nil
	}
}

// counter keeps a running total in the app instance of its device.
func counter(_ context.Context, req *registry.Request) (*registry.Output, error) {
	by := 1.0
	if v, ok := toFloat(req.Arguments["by"]); ok {
		by = v
	}

	current, _ := toFloat(req.Instance)
	next := current + by

	return &registry.Output{Result: next, Instance: next}, nil
}

func stream(_ context.Context, req *registry.Request) (*registry.Output, error) {
	chunks, _ := req.Arguments["chunks"].([]any)

	for _, chunk := range chunks {
		if req.Emit == nil {
			break
		}

		err := req.Emit(chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to emit chunk: %w", err)
		}
	}

	return &registry.Output{Result: map[string]any{"chunks": len(chunks)}}, nil
}
