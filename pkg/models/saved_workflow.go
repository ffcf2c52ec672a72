package models

import "time"

// SavedWorkflow captures enough of a paused or parked run to resume it
// in a fresh dispatcher.
type SavedWorkflow struct {
	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	// ActionID is the next action to execute.
	ActionID string        `json:"action_id"`
	Status   WorkflowState `json:"status"`
	// Pending is the rest of the frontier after ActionID.
	Pending      []string       `json:"pending,omitempty"`
	Accumulator  map[string]any `json:"accumulator"`
	AppInstances map[string]any `json:"app_instances"`
	Steps        int            `json:"steps"`
	SavedAt      time.Time      `json:"saved_at"`
}
