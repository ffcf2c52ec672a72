package dispatcher

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/dukex/orchestron/pkg/apps/builtin"
	"github.com/dukex/orchestron/pkg/config"
	"github.com/dukex/orchestron/pkg/eventbus"
	"github.com/dukex/orchestron/pkg/gate"
	"github.com/dukex/orchestron/pkg/metrics"
	"github.com/dukex/orchestron/pkg/models"
	"github.com/dukex/orchestron/pkg/persistence"
	"github.com/dukex/orchestron/pkg/persistence/file"
	"github.com/dukex/orchestron/pkg/registry"
	"github.com/dukex/orchestron/pkg/status"
	"github.com/dukex/orchestron/pkg/worker"
	"github.com/dukex/orchestron/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

// testApp holds actions whose timing the tests control.
type testApp struct {
	release chan any
	stop    chan struct{}
	slow    atomic.Int32
}

func (*testApp) Name() string { return "test" }

func (a *testApp) Capabilities() []*registry.Capability {
	return []*registry.Capability{
		{Name: "wait", Kind: registry.KindAction, Action: a.wait},
		{Name: "slow_once", Kind: registry.KindAction, Action: a.slowOnce},
	}
}

func (a *testApp) wait(ctx context.Context, _ *registry.Request) (*registry.Output, error) {
	select {
	case value := <-a.release:
		return &registry.Output{Result: value}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.stop:
		return nil, context.Canceled
	}
}

// slowOnce outlives the action timeout on its first call only.
func (a *testApp) slowOnce(ctx context.Context, _ *registry.Request) (*registry.Output, error) {
	if a.slow.Add(1) == 1 {
		select {
		case <-time.After(400 * time.Millisecond):
		case <-ctx.Done():
		case <-a.stop:
		}
	}

	return &registry.Output{Result: "done"}, nil
}

type harness struct {
	controller  *Controller
	persistence persistence.Persistence
	tracker     *status.Tracker
	gate        *gate.Gate
	app         *testApp
}

func newHarness(t *testing.T, options config.DispatcherConfig, opts ...status.Option) *harness {
	t.Helper()

	return newHarnessOver(t, options, file.NewPersistence(t.TempDir()), opts...)
}

// newHarnessOver starts a controller and a worker pool on their own transport
// over p, as a restarted process would.
func newHarnessOver(t *testing.T, options config.DispatcherConfig, p persistence.Persistence, opts ...status.Option) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})

	app := &testApp{release: make(chan any, 1), stop: make(chan struct{})}

	reg := registry.NewRegistry(logger)
	require.NoError(t, reg.Register(builtin.New(logger)))
	require.NoError(t, reg.Register(app))

	statusBus := eventbus.NewWatermillEventBus(pubSub, pubSub, eventbus.WithLogger(logger))
	opts = append(opts, status.WithListener(StatusPublisher(statusBus, metrics.Nop(), logger)))
	tracker := status.NewTracker(p.StatusRepository(), logger, opts...)
	g := gate.New(logger)

	ctx, cancel := context.WithCancel(context.Background())

	pool, err := worker.NewPool(
		worker.Config{Processes: 1, ThreadsPerProcess: 4, QueueWaitTimeout: time.Second, MaxStreamResultsSizeKB: 156},
		reg,
		eventbus.NewWatermillEventBus(pubSub, pubSub, eventbus.WithLogger(logger)),
		logger,
	)
	require.NoError(t, err)
	require.NoError(t, pool.Start(ctx))

	if options.BranchPolicy == "" {
		options.BranchPolicy = config.BranchPolicyFirstMatch
	}

	if options.ActionTimeout == 0 {
		options.ActionTimeout = waitFor
	}

	c := NewController(options, p, tracker, reg,
		eventbus.NewWatermillEventBus(pubSub, pubSub, eventbus.WithLogger(logger)), g, logger)
	require.NoError(t, c.Start(ctx))

	t.Cleanup(func() {
		close(app.stop)
		cancel()
		c.Wait()
	})

	return &harness{controller: c, persistence: p, tracker: tracker, gate: g, app: app}
}

func (h *harness) save(t *testing.T, wf *models.Workflow) {
	t.Helper()

	require.NoError(t, h.persistence.WorkflowRepository().SaveWorkflow(context.Background(), wf))
}

func (h *harness) awaitState(t *testing.T, executionID string, state models.WorkflowState) *models.WorkflowStatus {
	t.Helper()

	var last *models.WorkflowStatus

	require.Eventually(t, func() bool {
		st, err := h.tracker.Workflow(context.Background(), executionID)
		if err != nil {
			return false
		}

		last = st

		return st.Status == state
	}, waitFor, 10*time.Millisecond, "execution %s never reached %s", executionID, state)

	return last
}

func (h *harness) actions(t *testing.T, executionID string) map[string][]*models.ActionStatus {
	t.Helper()

	rows, err := h.tracker.Actions(context.Background(), executionID)
	require.NoError(t, err)

	byAction := make(map[string][]*models.ActionStatus)
	for _, row := range rows {
		byAction[row.ActionID] = append(byAction[row.ActionID], row)
	}

	return byAction
}

func echoAction(id string, args ...models.Argument) *models.Action {
	return &models.Action{ID: id, AppName: builtin.Name, ActionName: "echo", Arguments: args}
}

func greaterThan(threshold float64) *models.ConditionalExpression {
	return &models.ConditionalExpression{
		Operator: models.OperatorAnd,
		Conditions: []*models.Condition{{
			AppName:    builtin.Name,
			ActionName: "greater_than",
			Arguments:  []models.Argument{{Name: "threshold", Value: threshold}},
		}},
	}
}

func branchingWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:    "branching",
		Name:  "branching",
		Start: "a",
		Actions: []*models.Action{
			echoAction("a", models.Argument{Name: "value", Value: 10.0}),
			echoAction("b", models.Argument{Name: "value", Value: "b"}),
			echoAction("c", models.Argument{Name: "value", Value: "c"}),
			echoAction("d", models.Argument{Name: "value", Value: "d"}),
		},
		Branches: []*models.Branch{
			{ID: "to-b", SourceID: "a", DestinationID: "b", Priority: 0, Condition: greaterThan(5)},
			{ID: "to-c", SourceID: "a", DestinationID: "c", Priority: 1, Condition: greaterThan(1)},
			{ID: "to-d", SourceID: "a", DestinationID: "d", Priority: 2, Condition: greaterThan(100)},
		},
	}
}

func TestController_ExecuteBeforeStart(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := file.NewPersistence(t.TempDir())
	reg := registry.NewRegistry(logger)

	c := NewController(config.Default().Dispatcher, p, status.NewTracker(p.StatusRepository(), logger), reg, nil, gate.New(logger), logger)

	_, err := c.Execute(context.Background(), "any")
	assert.ErrorIs(t, err, ErrControllerStopped)
}

func TestController_RunsLinearWorkflow(t *testing.T) {
	h := newHarness(t, config.DispatcherConfig{MaxSteps: 100})
	h.save(t, &models.Workflow{
		ID:    "linear",
		Name:  "linear",
		Start: "first",
		Actions: []*models.Action{
			echoAction("first", models.Argument{Name: "value", Value: map[string]any{"count": 3.0}}),
			echoAction("second", models.Argument{Name: "value", Reference: "first", Selection: []any{"count"}}),
		},
		Branches: []*models.Branch{{ID: "b1", SourceID: "first", DestinationID: "second"}},
	})

	st, err := h.controller.Execute(context.Background(), "linear")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowRunning, st.Status)

	h.awaitState(t, st.ExecutionID, models.WorkflowCompleted)

	rows := h.actions(t, st.ExecutionID)
	require.Len(t, rows["second"], 1)
	assert.Equal(t, models.ActionSuccess, rows["second"][0].Status)
	assert.Equal(t, 3.0, rows["second"][0].Result)
}

func TestController_RefusesInvalidWorkflow(t *testing.T) {
	h := newHarness(t, config.DispatcherConfig{MaxSteps: 100})
	h.save(t, &models.Workflow{
		ID:      "invalid",
		Name:    "invalid",
		Start:   "missing",
		Actions: []*models.Action{echoAction("a")},
	})

	_, err := h.controller.Execute(context.Background(), "invalid")
	require.Error(t, err)
	assert.True(t, workflow.IsInvalid(err))
	assert.ErrorIs(t, err, workflow.ErrUnknownStart)
	assert.Empty(t, h.controller.Running())
}

func TestController_MaxStepsAbortsLoop(t *testing.T) {
	h := newHarness(t, config.DispatcherConfig{MaxSteps: 5})
	h.save(t, &models.Workflow{
		ID:       "loop",
		Name:     "loop",
		Start:    "a",
		Actions:  []*models.Action{echoAction("a", models.Argument{Name: "value", Value: 1.0})},
		Branches: []*models.Branch{{ID: "again", SourceID: "a", DestinationID: "a"}},
	})

	st, err := h.controller.Execute(context.Background(), "loop")
	require.NoError(t, err)

	final := h.awaitState(t, st.ExecutionID, models.WorkflowAborted)
	assert.Contains(t, final.Error, ErrMaxStepsExceeded.Error())
	assert.Len(t, h.actions(t, st.ExecutionID)["a"], 5)
}

func TestController_BranchPolicies(t *testing.T) {
	tests := []struct {
		name     string
		policy   string
		executed []string
		skipped  []string
	}{
		{name: "first match", policy: config.BranchPolicyFirstMatch, executed: []string{"a", "b"}, skipped: []string{"c", "d"}},
		{name: "fan out", policy: config.BranchPolicyFanOut, executed: []string{"a", "b", "c"}, skipped: []string{"d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, config.DispatcherConfig{MaxSteps: 100, BranchPolicy: tt.policy})
			h.save(t, branchingWorkflow())

			st, err := h.controller.Execute(context.Background(), "branching")
			require.NoError(t, err)

			h.awaitState(t, st.ExecutionID, models.WorkflowCompleted)

			rows := h.actions(t, st.ExecutionID)
			for _, id := range tt.executed {
				assert.Len(t, rows[id], 1, "action %s", id)
			}

			for _, id := range tt.skipped {
				assert.Empty(t, rows[id], "action %s", id)
			}
		})
	}
}

func TestController_FailureBranches(t *testing.T) {
	failing := func(withHandler bool) *models.Workflow {
		wf := &models.Workflow{
			ID:    "failing",
			Name:  "failing",
			Start: "a",
			Actions: []*models.Action{
				{ID: "a", AppName: builtin.Name, ActionName: "fail", Arguments: []models.Argument{{Name: "message", Value: "boom"}}},
				echoAction("recover", models.Argument{Name: "value", Reference: "a"}),
			},
		}

		if withHandler {
			wf.Branches = []*models.Branch{{ID: "on-fail", SourceID: "a", DestinationID: "recover", Status: models.BranchOnFailure}}
		}

		return wf
	}

	t.Run("handled", func(t *testing.T) {
		h := newHarness(t, config.DispatcherConfig{MaxSteps: 100})
		h.save(t, failing(true))

		st, err := h.controller.Execute(context.Background(), "failing")
		require.NoError(t, err)

		h.awaitState(t, st.ExecutionID, models.WorkflowCompleted)

		rows := h.actions(t, st.ExecutionID)
		require.Len(t, rows["a"], 1)
		assert.Equal(t, models.ActionFailure, rows["a"][0].Status)
		require.Len(t, rows["recover"], 1)
		assert.Contains(t, rows["recover"][0].Result, "boom")
	})

	t.Run("unhandled", func(t *testing.T) {
		h := newHarness(t, config.DispatcherConfig{MaxSteps: 100})
		h.save(t, failing(false))

		st, err := h.controller.Execute(context.Background(), "failing")
		require.NoError(t, err)

		final := h.awaitState(t, st.ExecutionID, models.WorkflowAborted)
		assert.Contains(t, final.Error, "without a failure branch")
		assert.Empty(t, h.actions(t, st.ExecutionID)["recover"])
	})
}

func TestController_PauseAndResume(t *testing.T) {
	h := newHarness(t, config.DispatcherConfig{MaxSteps: 100})
	h.save(t, &models.Workflow{
		ID:    "pausable",
		Name:  "pausable",
		Start: "a",
		Actions: []*models.Action{
			{ID: "a", AppName: "test", ActionName: "wait"},
			echoAction("b", models.Argument{Name: "value", Reference: "a"}),
		},
		Branches: []*models.Branch{{ID: "a-b", SourceID: "a", DestinationID: "b"}},
	})

	ctx := context.Background()

	st, err := h.controller.Execute(ctx, "pausable")
	require.NoError(t, err)

	_, err = h.controller.Pause(ctx, st.ExecutionID)
	require.NoError(t, err)

	h.app.release <- map[string]any{"n": 7.0}

	h.awaitState(t, st.ExecutionID, models.WorkflowPaused)

	saved, err := h.persistence.CheckpointRepository().Checkpoint(ctx, st.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "b", saved.ActionID)
	assert.Equal(t, map[string]any{"n": 7.0}, saved.Accumulator["a"])
	assert.Empty(t, h.actions(t, st.ExecutionID)["b"])

	again, err := h.controller.Pause(ctx, st.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowPaused, again.Status)

	_, err = h.controller.Resume(ctx, st.ExecutionID)
	require.NoError(t, err)

	h.awaitState(t, st.ExecutionID, models.WorkflowCompleted)

	rows := h.actions(t, st.ExecutionID)
	require.Len(t, rows["b"], 1)
	assert.Equal(t, map[string]any{"n": 7.0}, rows["b"][0].Result)

	_, err = h.persistence.CheckpointRepository().Checkpoint(ctx, st.ExecutionID)
	assert.True(t, persistence.IsCheckpointNotFound(err))

	require.Eventually(t, func() bool {
		return len(h.controller.Running()) == 0
	}, waitFor, 10*time.Millisecond)

	_, err = h.controller.Resume(ctx, st.ExecutionID)
	assert.ErrorIs(t, err, ErrExecutionNotPaused)
}

func TestController_AbortIsTerminalAndIdempotent(t *testing.T) {
	h := newHarness(t, config.DispatcherConfig{MaxSteps: 100})
	h.save(t, &models.Workflow{
		ID:      "abortable",
		Name:    "abortable",
		Start:   "a",
		Actions: []*models.Action{{ID: "a", AppName: "test", ActionName: "wait"}},
	})

	ctx := context.Background()

	st, err := h.controller.Execute(ctx, "abortable")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.actions(t, st.ExecutionID)["a"]) == 1
	}, waitFor, 10*time.Millisecond)

	_, err = h.controller.Abort(ctx, st.ExecutionID)
	require.NoError(t, err)

	h.awaitState(t, st.ExecutionID, models.WorkflowAborted)

	require.Eventually(t, func() bool {
		return len(h.controller.Running()) == 0
	}, waitFor, 10*time.Millisecond)

	again, err := h.controller.Abort(ctx, st.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowAborted, again.Status)

	// the worker's late result must not reopen the action
	time.Sleep(100 * time.Millisecond)

	rows := h.actions(t, st.ExecutionID)
	require.Len(t, rows["a"], 1)
	assert.Equal(t, models.ActionAborted, rows["a"][0].Status)

	_, err = h.controller.Resume(ctx, st.ExecutionID)
	assert.ErrorIs(t, err, ErrExecutionNotPaused)
}

func TestController_TriggerGate(t *testing.T) {
	h := newHarness(t, config.DispatcherConfig{MaxSteps: 100})
	h.save(t, &models.Workflow{
		ID:    "gated",
		Name:  "gated",
		Start: "a",
		Actions: []*models.Action{
			echoAction("a", models.Argument{Name: "value", Value: "ready"}),
			{
				ID:         "b",
				AppName:    builtin.Name,
				ActionName: "echo",
				TriggerID:  "t1",
				Arguments:  []models.Argument{{Name: "value", Reference: "t1", Selection: []any{"value"}}},
			},
		},
		Branches: []*models.Branch{{ID: "a-b", SourceID: "a", DestinationID: "b"}},
		Triggers: []*models.Trigger{{ID: "t1", Name: "threshold", Expression: "value > 5"}},
	})

	ctx := context.Background()

	st, err := h.controller.Execute(ctx, "gated")
	require.NoError(t, err)

	h.awaitState(t, st.ExecutionID, models.WorkflowAwaitingData)

	require.Eventually(t, func() bool {
		_, parked := h.gate.Registration(st.ExecutionID)

		return parked
	}, waitFor, 10*time.Millisecond)

	rows := h.actions(t, st.ExecutionID)
	require.Len(t, rows["b"], 1)
	assert.Equal(t, models.ActionAwaitingData, rows["b"][0].Status)

	matched, err := h.controller.SubmitTriggerData(ctx, st.ExecutionID, map[string]any{"value": 1.0})
	require.NoError(t, err)
	assert.False(t, matched)

	matched, err = h.controller.SubmitTriggerData(ctx, st.ExecutionID, map[string]any{"value": 10.0})
	require.NoError(t, err)
	assert.True(t, matched)

	h.awaitState(t, st.ExecutionID, models.WorkflowCompleted)

	rows = h.actions(t, st.ExecutionID)
	require.Len(t, rows["b"], 1)
	assert.Equal(t, models.ActionSuccess, rows["b"][0].Status)
	assert.Equal(t, 10.0, rows["b"][0].Result)

	assert.Empty(t, h.gate.Pending())
}

func TestController_AbortParkedRun(t *testing.T) {
	h := newHarness(t, config.DispatcherConfig{MaxSteps: 100})
	h.save(t, &models.Workflow{
		ID:       "gated",
		Name:     "gated",
		Start:    "a",
		Actions:  []*models.Action{{ID: "a", AppName: builtin.Name, ActionName: "echo", TriggerID: "t1"}},
		Triggers: []*models.Trigger{{ID: "t1", Name: "any", Expression: "ready = true"}},
	})

	ctx := context.Background()

	st, err := h.controller.Execute(ctx, "gated")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, parked := h.gate.Registration(st.ExecutionID)

		return parked
	}, waitFor, 10*time.Millisecond)

	aborted, err := h.controller.Abort(ctx, st.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowAborted, aborted.Status)

	assert.Empty(t, h.gate.Pending())
	assert.Equal(t, models.ActionAborted, h.actions(t, st.ExecutionID)["a"][0].Status)

	matched, err := h.controller.SubmitTriggerData(ctx, st.ExecutionID, map[string]any{"ready": true})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestController_TimeoutRetriesWithNewAttempt(t *testing.T) {
	h := newHarness(t, config.DispatcherConfig{MaxSteps: 100, ActionTimeout: 150 * time.Millisecond, TransportRetries: 1})
	h.save(t, &models.Workflow{
		ID:      "slow",
		Name:    "slow",
		Start:   "a",
		Actions: []*models.Action{{ID: "a", AppName: "test", ActionName: "slow_once"}},
	})

	st, err := h.controller.Execute(context.Background(), "slow")
	require.NoError(t, err)

	h.awaitState(t, st.ExecutionID, models.WorkflowCompleted)

	// the first attempt reports after the run is over and is discarded
	time.Sleep(400 * time.Millisecond)

	rows := h.actions(t, st.ExecutionID)["a"]
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Attempt)
	assert.Equal(t, models.ActionFailure, rows[0].Status)
	assert.Equal(t, 2, rows[1].Attempt)
	assert.Equal(t, models.ActionSuccess, rows[1].Status)
}

func TestController_TransportExhausted(t *testing.T) {
	h := newHarness(t, config.DispatcherConfig{MaxSteps: 100, ActionTimeout: 50 * time.Millisecond})
	h.save(t, &models.Workflow{
		ID:      "stuck",
		Name:    "stuck",
		Start:   "a",
		Actions: []*models.Action{{ID: "a", AppName: "test", ActionName: "wait"}},
	})

	st, err := h.controller.Execute(context.Background(), "stuck")
	require.NoError(t, err)

	final := h.awaitState(t, st.ExecutionID, models.WorkflowAborted)
	assert.Contains(t, final.Error, ErrTransportExhausted.Error())
}

func TestController_SubmitWithoutRegistration(t *testing.T) {
	h := newHarness(t, config.DispatcherConfig{MaxSteps: 100})

	matched, err := h.controller.SubmitTriggerData(context.Background(), "unknown", map[string]any{"value": 1})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestController_PauseUnknownStates(t *testing.T) {
	h := newHarness(t, config.DispatcherConfig{MaxSteps: 100})
	h.save(t, branchingWorkflow())

	st, err := h.controller.Execute(context.Background(), "branching")
	require.NoError(t, err)

	h.awaitState(t, st.ExecutionID, models.WorkflowCompleted)

	require.Eventually(t, func() bool {
		return len(h.controller.Running()) == 0
	}, waitFor, 10*time.Millisecond)

	_, err = h.controller.Pause(context.Background(), st.ExecutionID)
	assert.ErrorIs(t, err, ErrExecutionNotRunning)

	_, err = h.controller.Abort(context.Background(), st.ExecutionID)
	assert.True(t, status.IsIllegalTransition(err))
}

func TestController_RestoresGatesAfterRestart(t *testing.T) {
	options := config.DispatcherConfig{MaxSteps: 100}
	first := newHarness(t, options)
	first.save(t, &models.Workflow{
		ID:    "gated",
		Name:  "gated",
		Start: "a",
		Actions: []*models.Action{
			echoAction("a", models.Argument{Name: "value", Value: "ready"}),
			{
				ID:         "b",
				AppName:    builtin.Name,
				ActionName: "echo",
				TriggerID:  "t1",
				Arguments:  []models.Argument{{Name: "value", Reference: "t1", Selection: []any{"value"}}},
			},
		},
		Branches: []*models.Branch{{ID: "a-b", SourceID: "a", DestinationID: "b"}},
		Triggers: []*models.Trigger{{ID: "t1", Name: "threshold", Expression: "value > 5"}},
	})

	ctx := context.Background()

	st, err := first.controller.Execute(ctx, "gated")
	require.NoError(t, err)

	first.awaitState(t, st.ExecutionID, models.WorkflowAwaitingData)
	require.Eventually(t, func() bool {
		_, parked := first.gate.Registration(st.ExecutionID)

		return parked
	}, waitFor, 10*time.Millisecond)

	restarted := newHarnessOver(t, options, first.persistence)

	registration, parked := restarted.gate.Registration(st.ExecutionID)
	require.True(t, parked)
	assert.Equal(t, "b", registration.ActionID)
	assert.Equal(t, "t1", registration.TriggerID)

	matched, err := restarted.controller.SubmitTriggerData(ctx, st.ExecutionID, map[string]any{"value": 1.0})
	require.NoError(t, err)
	assert.False(t, matched)

	matched, err = restarted.controller.SubmitTriggerData(ctx, st.ExecutionID, map[string]any{"value": 10.0})
	require.NoError(t, err)
	assert.True(t, matched)

	restarted.awaitState(t, st.ExecutionID, models.WorkflowCompleted)

	rows := restarted.actions(t, st.ExecutionID)
	require.Len(t, rows["b"], 1)
	assert.Equal(t, models.ActionSuccess, rows["b"][0].Status)
	assert.Equal(t, 10.0, rows["b"][0].Result)
}

func TestController_AbortWhilePendingIsNotLaunched(t *testing.T) {
	var (
		controller  atomic.Pointer[Controller]
		executionID atomic.Value
	)

	abortPending := status.WithListener(func(ctx context.Context, transition *models.StatusTransition) {
		if transition.To != string(models.WorkflowPending) {
			return
		}

		executionID.Store(transition.ExecutionID)

		_, err := controller.Load().Abort(ctx, transition.ExecutionID)
		assert.NoError(t, err)
	})

	h := newHarness(t, config.DispatcherConfig{MaxSteps: 100}, abortPending)
	controller.Store(h.controller)
	h.save(t, branchingWorkflow())

	ctx := context.Background()

	_, err := h.controller.Execute(ctx, "branching")
	require.Error(t, err)
	assert.True(t, status.IsIllegalTransition(err))
	assert.Empty(t, h.controller.Running())

	id, ok := executionID.Load().(string)
	require.True(t, ok)

	st, err := h.tracker.Workflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowAborted, st.Status)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, h.actions(t, id))
}

func TestController_RunIsLiveWhenReportedRunning(t *testing.T) {
	var (
		controller atomic.Pointer[Controller]
		live       atomic.Bool
	)

	// Execute holds c.mu while it reports the run as running.
	checkLive := status.WithListener(func(_ context.Context, transition *models.StatusTransition) {
		if transition.To == string(models.WorkflowRunning) && transition.ActionID == "" {
			_, ok := controller.Load().runs[transition.ExecutionID]
			live.Store(ok)
		}
	})

	h := newHarness(t, config.DispatcherConfig{MaxSteps: 100}, checkLive)
	controller.Store(h.controller)
	h.save(t, branchingWorkflow())

	st, err := h.controller.Execute(context.Background(), "branching")
	require.NoError(t, err)

	h.awaitState(t, st.ExecutionID, models.WorkflowCompleted)
	assert.True(t, live.Load())
}
