package models

// Action is one node of a workflow graph bound to an app capability.
type Action struct {
	ID         string     `json:"id"                  validate:"required"`
	WorkflowID string     `json:"workflow_id"`
	Name       string     `json:"name,omitempty"`
	AppName    string     `json:"app_name"            validate:"required"`
	ActionName string     `json:"action_name"         validate:"required"`
	DeviceID   string     `json:"device_id,omitempty"`
	Arguments  []Argument `json:"arguments,omitempty" validate:"dive"`
	Position   *Position  `json:"position,omitempty"`
	// TriggerID gates the action behind a trigger; the run waits for matching data.
	TriggerID string `json:"trigger_id,omitempty"`
}

// InstanceKey identifies the app instance whose state this action shares.
func (a *Action) InstanceKey() string {
	return a.AppName + ":" + a.DeviceID
}

// Position is presentation-only metadata.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Argument is a named input. Exactly one of Value, Reference or Variable is set.
type Argument struct {
	Name string `json:"name"                validate:"required"`
	// Value is a literal.
	Value any `json:"value,omitempty"`
	// Reference names a prior action (by id or name) whose result is used.
	Reference string `json:"reference,omitempty"`
	// Selection walks into the referenced result: string keys and integer indices.
	Selection []any `json:"selection,omitempty"`
	// Variable is the id of a workflow environment variable.
	Variable string `json:"variable,omitempty"`
}

func (a Argument) IsReference() bool {
	return a.Reference != ""
}

func (a Argument) IsVariable() bool {
	return a.Variable != ""
}
