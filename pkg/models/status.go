package models

import "time"

// WorkflowState is the lifecycle state of one workflow execution.
type WorkflowState string

const (
	WorkflowPending      WorkflowState = "pending"
	WorkflowRunning      WorkflowState = "running"
	WorkflowPaused       WorkflowState = "paused"
	WorkflowAwaitingData WorkflowState = "awaiting_data"
	WorkflowCompleted    WorkflowState = "completed"
	WorkflowAborted      WorkflowState = "aborted"
)

func (s WorkflowState) IsTerminal() bool {
	return s == WorkflowCompleted || s == WorkflowAborted
}

// ActionState is the state of one action attempt.
type ActionState string

const (
	ActionExecuting    ActionState = "executing"
	ActionAwaitingData ActionState = "awaiting_data"
	ActionSuccess      ActionState = "success"
	ActionFailure      ActionState = "failure"
	ActionAborted      ActionState = "aborted"
)

func (s ActionState) IsTerminal() bool {
	return s == ActionSuccess || s == ActionFailure || s == ActionAborted
}

// WorkflowStatus is the persisted record of one execution.
type WorkflowStatus struct {
	ExecutionID string        `json:"execution_id"`
	WorkflowID  string        `json:"workflow_id"`
	Name        string        `json:"name"`
	Status      WorkflowState `json:"status"`
	Error       string        `json:"error,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// ActionStatus is one attempt of one action inside an execution.
// Attempts are appended; terminal rows never change.
type ActionStatus struct {
	ExecutionID string         `json:"execution_id"`
	ActionID    string         `json:"action_id"`
	Attempt     int            `json:"attempt"`
	Name        string         `json:"name,omitempty"`
	AppName     string         `json:"app_name"`
	ActionName  string         `json:"action_name"`
	Arguments   map[string]any `json:"arguments,omitempty"`
	Result      any            `json:"result,omitempty"`
	Status      ActionState    `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// StatusTransition is an entry of the append-only transition log.
// ActionID is empty for workflow-level transitions.
type StatusTransition struct {
	ExecutionID string    `json:"execution_id"`
	ActionID    string    `json:"action_id,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}
