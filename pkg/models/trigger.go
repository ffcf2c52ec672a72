package models

// Trigger gates an action behind externally submitted data.
type Trigger struct {
	ID         string   `json:"id"               validate:"required"`
	WorkflowID string   `json:"workflow_id"`
	Name       string   `json:"name"             validate:"required"`
	Expression string   `json:"expression"       validate:"required"`
	Errors     []string `json:"errors,omitempty"`
}

// Active reports whether the trigger passed validation.
func (t *Trigger) Active() bool {
	return len(t.Errors) == 0
}
