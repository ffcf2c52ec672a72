// Package status records workflow and action status and enforces their state machines.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/orchestron/pkg/models"
	"github.com/dukex/orchestron/pkg/persistence"
)

// Listener observes every accepted transition.
type Listener func(ctx context.Context, transition *models.StatusTransition)

type Tracker struct {
	repo      persistence.StatusRepository
	logger    *slog.Logger
	listeners []Listener
	now       func() time.Time
	mu        sync.Mutex
}

type Option func(*Tracker)

func WithListener(listener Listener) Option {
	return func(t *Tracker) {
		t.listeners = append(t.listeners, listener)
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

func NewTracker(repo persistence.StatusRepository, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		repo:   repo,
		logger: logger.With("module", "status_tracker"),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// CreateWorkflow records a new execution in the pending state.
func (t *Tracker) CreateWorkflow(ctx context.Context, executionID string, workflow *models.Workflow) (*models.WorkflowStatus, error) {
	status := &models.WorkflowStatus{
		ExecutionID: executionID,
		WorkflowID:  workflow.ID,
		Name:        workflow.Name,
		Status:      models.WorkflowPending,
		UpdatedAt:   t.now(),
	}

	err := t.repo.SaveWorkflowStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow status: %w", err)
	}

	t.record(ctx, &models.StatusTransition{
		ExecutionID: executionID,
		To:          string(models.WorkflowPending),
		At:          status.UpdatedAt,
	})

	return status, nil
}

// TransitionWorkflow moves an execution to state to. An illegal transition is
// logged, returns a *TransitionError and leaves the stored status untouched.
func (t *Tracker) TransitionWorkflow(ctx context.Context, executionID string, to models.WorkflowState, reason string) (*models.WorkflowStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	status, err := t.repo.WorkflowStatus(ctx, executionID)
	if err != nil {
		return nil, err
	}

	from := status.Status
	next := from

	err = newMachine(&next, workflowTransitions).FireCtx(ctx, to)
	if err != nil {
		t.logger.WarnContext(ctx, "Rejected workflow transition",
			"execution_id", executionID, "from", from, "to", to, "error", err)

		return status, &TransitionError{ExecutionID: executionID, From: string(from), To: string(to), Err: ErrIllegalTransition}
	}

	now := t.now()
	updated := *status
	updated.Status = next
	updated.UpdatedAt = now

	switch next {
	case models.WorkflowRunning:
		if updated.StartedAt == nil {
			updated.StartedAt = &now
		}
	case models.WorkflowCompleted, models.WorkflowAborted:
		updated.CompletedAt = &now
		if next == models.WorkflowAborted {
			updated.Error = reason
		}
	}

	err = t.repo.SaveWorkflowStatus(ctx, &updated)
	if err != nil {
		return nil, fmt.Errorf("failed to save workflow status: %w", err)
	}

	t.record(ctx, &models.StatusTransition{
		ExecutionID: executionID,
		From:        string(from),
		To:          string(next),
		Reason:      reason,
		At:          now,
	})

	return &updated, nil
}

// AppendAction records a new attempt. Attempts start executing or awaiting data.
func (t *Tracker) AppendAction(ctx context.Context, action *models.ActionStatus) error {
	if action.Status != models.ActionExecuting && action.Status != models.ActionAwaitingData {
		return &TransitionError{
			ExecutionID: action.ExecutionID,
			ActionID:    action.ActionID,
			To:          string(action.Status),
			Err:         ErrIllegalTransition,
		}
	}

	if action.StartedAt.IsZero() {
		action.StartedAt = t.now()
	}

	err := t.repo.SaveActionStatus(ctx, action)
	if err != nil {
		return fmt.Errorf("failed to append action status: %w", err)
	}

	t.record(ctx, &models.StatusTransition{
		ExecutionID: action.ExecutionID,
		ActionID:    action.ActionID,
		Attempt:     action.Attempt,
		To:          string(action.Status),
		At:          action.StartedAt,
	})

	return nil
}

// TransitionAction moves one attempt to state to, storing result when it is terminal.
func (t *Tracker) TransitionAction(ctx context.Context, executionID, actionID string, attempt int, to models.ActionState, result any) (*models.ActionStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	action, err := t.repo.ActionStatus(ctx, executionID, actionID, attempt)
	if err != nil {
		return nil, err
	}

	from := action.Status
	next := from

	err = newMachine(&next, actionTransitions).FireCtx(ctx, to)
	if err != nil {
		t.logger.WarnContext(ctx, "Rejected action transition",
			"execution_id", executionID, "action_id", actionID, "attempt", attempt, "from", from, "to", to, "error", err)

		return action, &TransitionError{ExecutionID: executionID, ActionID: actionID, From: string(from), To: string(to), Err: ErrIllegalTransition}
	}

	now := t.now()
	updated := *action
	updated.Status = next

	if next.IsTerminal() {
		updated.Result = result
		updated.CompletedAt = &now
	}

	err = t.repo.SaveActionStatus(ctx, &updated)
	if err != nil {
		return nil, fmt.Errorf("failed to save action status: %w", err)
	}

	t.record(ctx, &models.StatusTransition{
		ExecutionID: executionID,
		ActionID:    actionID,
		Attempt:     attempt,
		From:        string(from),
		To:          string(next),
		At:          now,
	})

	return &updated, nil
}

func (t *Tracker) Workflow(ctx context.Context, executionID string) (*models.WorkflowStatus, error) {
	return t.repo.WorkflowStatus(ctx, executionID)
}

// WorkflowsInState lists the executions currently in state.
func (t *Tracker) WorkflowsInState(ctx context.Context, state models.WorkflowState) ([]*models.WorkflowStatus, error) {
	return t.repo.WorkflowStatusesByState(ctx, state)
}

func (t *Tracker) Actions(ctx context.Context, executionID string) ([]*models.ActionStatus, error) {
	return t.repo.ActionStatuses(ctx, executionID)
}

func (t *Tracker) Transitions(ctx context.Context, executionID string) ([]*models.StatusTransition, error) {
	return t.repo.Transitions(ctx, executionID)
}

func (t *Tracker) record(ctx context.Context, transition *models.StatusTransition) {
	err := t.repo.AppendTransition(ctx, transition)
	if err != nil {
		t.logger.ErrorContext(ctx, "Failed to append status transition",
			"execution_id", transition.ExecutionID, "to", transition.To, "error", err)
	}

	for _, listener := range t.listeners {
		listener(ctx, transition)
	}
}
