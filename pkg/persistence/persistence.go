// Package persistence provides the storage contracts of the engine.
package persistence

import (
	"context"

	"github.com/dukex/orchestron/pkg/models"
)

// WorkflowRepository stores workflow graphs. Loads return snapshots the caller may keep.
type WorkflowRepository interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
}

// CheckpointRepository stores SavedWorkflow checkpoints keyed by execution id.
type CheckpointRepository interface {
	SaveCheckpoint(ctx context.Context, saved *models.SavedWorkflow) error
	Checkpoint(ctx context.Context, executionID string) (*models.SavedWorkflow, error)
	DeleteCheckpoint(ctx context.Context, executionID string) error
}

// StatusRepository stores execution status records. Saves are upserts keyed by
// execution id, and by (execution id, action id, attempt) for action rows.
type StatusRepository interface {
	SaveWorkflowStatus(ctx context.Context, status *models.WorkflowStatus) error
	WorkflowStatus(ctx context.Context, executionID string) (*models.WorkflowStatus, error)
	// WorkflowStatusesByState lists the executions currently in state, ordered by execution id.
	WorkflowStatusesByState(ctx context.Context, state models.WorkflowState) ([]*models.WorkflowStatus, error)
	SaveActionStatus(ctx context.Context, status *models.ActionStatus) error
	ActionStatus(ctx context.Context, executionID, actionID string, attempt int) (*models.ActionStatus, error)
	ActionStatuses(ctx context.Context, executionID string) ([]*models.ActionStatus, error)
	AppendTransition(ctx context.Context, transition *models.StatusTransition) error
	Transitions(ctx context.Context, executionID string) ([]*models.StatusTransition, error)
}

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	CheckpointRepository() CheckpointRepository
	StatusRepository() StatusRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
