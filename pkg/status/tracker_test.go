package status_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/dukex/orchestron/pkg/models"
	"github.com/dukex/orchestron/pkg/persistence/file"
	"github.com/dukex/orchestron/pkg/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T, opts ...status.Option) *status.Tracker {
	t.Helper()

	repo := file.NewPersistence(t.TempDir()).StatusRepository()

	return status.NewTracker(repo, slog.New(slog.NewTextHandler(os.Stdout, nil)), opts...)
}

var workflow = &models.Workflow{ID: "wf-1", Name: "pipeline"}

func TestTracker_WorkflowLifecycle(t *testing.T) {
	ctx := context.Background()

	var seen []string

	tracker := newTracker(t, status.WithListener(func(_ context.Context, tr *models.StatusTransition) {
		seen = append(seen, tr.To)
	}))

	created, err := tracker.CreateWorkflow(ctx, "exec-1", workflow)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowPending, created.Status)

	for _, to := range []models.WorkflowState{
		models.WorkflowRunning,
		models.WorkflowPaused,
		models.WorkflowRunning,
		models.WorkflowAwaitingData,
		models.WorkflowRunning,
		models.WorkflowCompleted,
	} {
		_, err := tracker.TransitionWorkflow(ctx, "exec-1", to, "")
		require.NoError(t, err, "transition to %s", to)
	}

	final, err := tracker.Workflow(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowCompleted, final.Status)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.CompletedAt)

	transitions, err := tracker.Transitions(ctx, "exec-1")
	require.NoError(t, err)
	assert.Len(t, transitions, 7)
	assert.Equal(t, []string{"pending", "running", "paused", "running", "awaiting_data", "running", "completed"}, seen)
}

func TestTracker_IllegalWorkflowTransitionIsNoOp(t *testing.T) {
	ctx := context.Background()
	tracker := newTracker(t)

	_, err := tracker.CreateWorkflow(ctx, "exec-1", workflow)
	require.NoError(t, err)

	_, err = tracker.TransitionWorkflow(ctx, "exec-1", models.WorkflowCompleted, "")
	require.Error(t, err)
	assert.True(t, status.IsIllegalTransition(err))

	var transitionErr *status.TransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, "pending", transitionErr.From)
	assert.Equal(t, "completed", transitionErr.To)

	current, err := tracker.Workflow(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowPending, current.Status)
}

func TestTracker_AbortIsTerminal(t *testing.T) {
	ctx := context.Background()
	tracker := newTracker(t)

	_, err := tracker.CreateWorkflow(ctx, "exec-1", workflow)
	require.NoError(t, err)

	aborted, err := tracker.TransitionWorkflow(ctx, "exec-1", models.WorkflowAborted, "operator request")
	require.NoError(t, err)
	assert.Equal(t, "operator request", aborted.Error)

	for _, to := range []models.WorkflowState{models.WorkflowRunning, models.WorkflowAborted, models.WorkflowCompleted} {
		_, err := tracker.TransitionWorkflow(ctx, "exec-1", to, "")
		require.ErrorIs(t, err, status.ErrIllegalTransition)
	}
}

func TestTracker_ActionAttempts(t *testing.T) {
	ctx := context.Background()
	tracker := newTracker(t)

	require.NoError(t, tracker.AppendAction(ctx, &models.ActionStatus{
		ExecutionID: "exec-1", ActionID: "a", Attempt: 1, AppName: "builtin", ActionName: "echo", Status: models.ActionExecuting,
	}))

	done, err := tracker.TransitionAction(ctx, "exec-1", "a", 1, models.ActionSuccess, "ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", done.Result)
	assert.NotNil(t, done.CompletedAt)

	_, err = tracker.TransitionAction(ctx, "exec-1", "a", 1, models.ActionFailure, nil)
	require.ErrorIs(t, err, status.ErrIllegalTransition)

	err = tracker.AppendAction(ctx, &models.ActionStatus{ExecutionID: "exec-1", ActionID: "a", Attempt: 2, Status: models.ActionSuccess})
	require.ErrorIs(t, err, status.ErrIllegalTransition)

	actions, err := tracker.Actions(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionSuccess, actions[0].Status)
}

func TestTracker_AwaitingDataAction(t *testing.T) {
	ctx := context.Background()
	tracker := newTracker(t)

	require.NoError(t, tracker.AppendAction(ctx, &models.ActionStatus{
		ExecutionID: "exec-1", ActionID: "gate", Attempt: 1, Status: models.ActionAwaitingData,
	}))

	_, err := tracker.TransitionAction(ctx, "exec-1", "gate", 1, models.ActionExecuting, nil)
	require.NoError(t, err)

	_, err = tracker.TransitionAction(ctx, "exec-1", "gate", 1, models.ActionAborted, nil)
	require.NoError(t, err)
}

func TestCanTransitionWorkflow(t *testing.T) {
	assert.True(t, status.CanTransitionWorkflow(models.WorkflowPending, models.WorkflowRunning))
	assert.False(t, status.CanTransitionWorkflow(models.WorkflowCompleted, models.WorkflowRunning))
	assert.False(t, status.CanTransitionWorkflow(models.WorkflowPaused, models.WorkflowCompleted))
}
