package worker

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/dukex/orchestron/pkg/apps/builtin"
	"github.com/dukex/orchestron/pkg/eventbus"
	"github.com/dukex/orchestron/pkg/events"
	"github.com/dukex/orchestron/pkg/models"
	"github.com/dukex/orchestron/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	pool    *Pool
	control *eventbus.WatermillEventBus

	mu      sync.Mutex
	results []*events.Result
}

func newHarness(t *testing.T, config Config) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})

	reg := registry.NewRegistry(logger)
	require.NoError(t, reg.Register(builtin.New(logger)))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{control: eventbus.NewWatermillEventBus(pubSub, pubSub, eventbus.WithLogger(logger))}

	require.NoError(t, h.control.Handle(events.ResultEvent, func(_ context.Context, event any) error {
		h.mu.Lock()
		defer h.mu.Unlock()

		h.results = append(h.results, event.(*events.Result))

		return nil
	}))
	require.NoError(t, h.control.Subscribe(ctx))

	pool, err := NewPool(config, reg, eventbus.NewWatermillEventBus(pubSub, pubSub, eventbus.WithLogger(logger)), logger)
	require.NoError(t, err)
	require.NoError(t, pool.Start(ctx))

	h.pool = pool

	return h
}

func (h *harness) dispatch(t *testing.T, executionID, actionID, capability string, args map[string]any) {
	t.Helper()

	dispatch := events.Dispatch{
		BaseEvent:  events.NewBaseEvent(events.DispatchEvent, executionID),
		WorkflowID: "wf",
		ActionID:   actionID,
		Attempt:    1,
		AppName:    builtin.Name,
		ActionName: capability,
		Arguments:  args,
	}
	require.NoError(t, h.control.Publish(context.Background(), executionID, dispatch))
}

func (h *harness) final(t *testing.T, actionID string) *events.Result {
	t.Helper()

	var found *events.Result

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()

		for _, result := range h.results {
			if result.ActionID == actionID && !result.Partial {
				found = result

				return true
			}
		}

		return false
	}, 3*time.Second, 10*time.Millisecond)

	return found
}

func (h *harness) partials(actionID string) []*events.Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	var partials []*events.Result

	for _, result := range h.results {
		if result.ActionID == actionID && result.Partial {
			partials = append(partials, result)
		}
	}

	return partials
}

func defaultConfig() Config {
	return Config{Processes: 1, ThreadsPerProcess: 2, QueueWaitTimeout: time.Second, MaxStreamResultsSizeKB: 156}
}

func TestNewPool_RejectsEmptyPool(t *testing.T) {
	_, err := NewPool(Config{Processes: 0, ThreadsPerProcess: 4}, nil, nil, slog.Default())
	assert.Error(t, err)
}

func TestPool_ExecutesAction(t *testing.T) {
	h := newHarness(t, defaultConfig())

	h.dispatch(t, "exec-1", "a1", "echo", map[string]any{"value": "hello"})

	result := h.final(t, "a1")
	assert.Equal(t, models.ActionSuccess, result.Status)
	assert.Equal(t, "hello", result.Payload)
	assert.Equal(t, 1, result.Attempt)
	assert.False(t, result.Truncated)
}

func TestPool_ReportsFailure(t *testing.T) {
	h := newHarness(t, defaultConfig())

	h.dispatch(t, "exec-1", "a1", "fail", map[string]any{"message": "boom"})
	h.dispatch(t, "exec-1", "a2", "missing", nil)

	result := h.final(t, "a1")
	assert.Equal(t, models.ActionFailure, result.Status)
	assert.Contains(t, result.Error, "boom")

	result = h.final(t, "a2")
	assert.Equal(t, models.ActionFailure, result.Status)
	assert.Contains(t, result.Error, "missing")
}

func TestPool_SlotBoundAndQueueTimeout(t *testing.T) {
	config := Config{Processes: 1, ThreadsPerProcess: 1, QueueWaitTimeout: 50 * time.Millisecond, MaxStreamResultsSizeKB: 156}
	h := newHarness(t, config)

	h.dispatch(t, "exec-1", "slow", "sleep", map[string]any{"milliseconds": 500.0})
	h.dispatch(t, "exec-2", "starved", "echo", map[string]any{"value": 1.0})

	result := h.final(t, "starved")
	assert.Equal(t, models.ActionFailure, result.Status)
	assert.Equal(t, ErrPoolExhausted.Error(), result.Error)

	result = h.final(t, "slow")
	assert.Equal(t, models.ActionSuccess, result.Status)
}

func TestPool_StreamsPartialResultsWithTruncation(t *testing.T) {
	config := defaultConfig()
	config.MaxStreamResultsSizeKB = 1
	h := newHarness(t, config)

	big := strings.Repeat("x", 4096)
	h.dispatch(t, "exec-1", "s1", "stream", map[string]any{"chunks": []any{"first", big}})

	final := h.final(t, "s1")
	assert.Equal(t, models.ActionSuccess, final.Status)
	assert.Equal(t, 3, final.Sequence)

	require.Eventually(t, func() bool { return len(h.partials("s1")) == 2 }, time.Second, 10*time.Millisecond)

	partials := h.partials("s1")
	assert.Equal(t, "first", partials[0].Payload)
	assert.False(t, partials[0].Truncated)
	assert.True(t, partials[1].Truncated)

	payload, ok := partials[1].Payload.(string)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(payload, TruncatedMarker))
	assert.LessOrEqual(t, len(payload), 1024)
}

func TestPool_AbortCancelsAndRefuses(t *testing.T) {
	h := newHarness(t, defaultConfig())

	h.dispatch(t, "exec-1", "long", "sleep", map[string]any{"milliseconds": 10000.0})

	require.Eventually(t, func() bool {
		h.pool.mu.Lock()
		defer h.pool.mu.Unlock()

		return len(h.pool.running["exec-1"]) == 1
	}, time.Second, 5*time.Millisecond)

	control := events.Control{BaseEvent: events.NewBaseEvent(events.ControlEvent, "exec-1"), Command: events.CommandAbort}
	require.NoError(t, h.control.Publish(context.Background(), "exec-1", control))

	result := h.final(t, "long")
	assert.Equal(t, models.ActionAborted, result.Status)

	h.dispatch(t, "exec-1", "after", "echo", map[string]any{"value": 1.0})
	result = h.final(t, "after")
	assert.Equal(t, models.ActionAborted, result.Status)

	h.dispatch(t, "exec-2", "other", "echo", map[string]any{"value": 2.0})
	result = h.final(t, "other")
	assert.Equal(t, models.ActionSuccess, result.Status)
}

func TestTruncate(t *testing.T) {
	payload, truncated := truncate("short", 100)
	assert.Equal(t, "short", payload)
	assert.False(t, truncated)

	payload, truncated = truncate(strings.Repeat("é", 100), 40)
	assert.True(t, truncated)

	text := payload.(string)
	assert.LessOrEqual(t, len(text), 40)
	assert.True(t, strings.HasSuffix(text, TruncatedMarker))
	assert.True(t, strings.HasPrefix(text, `"é`))
}
