// Package web provides HTTP request and response types for the control API.
package web

import (
	"context"

	"github.com/dukex/orchestron/pkg/models"
)

// Controller is the part of the dispatcher the API drives.
type Controller interface {
	Execute(ctx context.Context, workflowID string) (*models.WorkflowStatus, error)
	Pause(ctx context.Context, executionID string) (*models.WorkflowStatus, error)
	Resume(ctx context.Context, executionID string) (*models.WorkflowStatus, error)
	Abort(ctx context.Context, executionID string) (*models.WorkflowStatus, error)
	SubmitTriggerData(ctx context.Context, executionID string, data any) (bool, error)
}

// ExecuteRequest starts a run of a stored workflow.
type ExecuteRequest struct {
	WorkflowID string `json:"workflow_id" validate:"required"`
}

// TriggerDataRequest offers data to the trigger gate of a parked execution.
type TriggerDataRequest struct {
	Data any `json:"data" validate:"required"`
}

// ExecutionResponse is the status of one execution with every action attempt.
type ExecutionResponse struct {
	*models.WorkflowStatus

	Actions []*models.ActionStatus `json:"actions"`
}

type TriggerDataResponse struct {
	ExecutionID string `json:"execution_id"`
	Matched     bool   `json:"matched"`
}
