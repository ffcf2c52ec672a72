// Package events defines the messages exchanged between controller and workers.
package events

import (
	"time"

	"github.com/dukex/orchestron/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topics. Dispatch carries work to workers, results carries it back,
// communication carries control commands and the status topic feeds observers.
const (
	DispatchTopic      = "orchestron.dispatch"
	ResultsTopic       = "orchestron.results"
	CommunicationTopic = "orchestron.communication"
	StatusTopic        = "orchestron.events"
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	DispatchEvent              EventType = "action.dispatch"
	ResultEvent                EventType = "action.result"
	ControlEvent               EventType = "execution.control"
	WorkflowStatusChangedEvent EventType = "workflow.status.changed"
	ActionStatusChangedEvent   EventType = "action.status.changed"
)

// Topic returns the topic a message of type t travels on.
func Topic(t EventType) string {
	switch t {
	case DispatchEvent:
		return DispatchTopic
	case ResultEvent:
		return ResultsTopic
	case ControlEvent:
		return CommunicationTopic
	default:
		return StatusTopic
	}
}

type BaseEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	ExecutionID string    `json:"execution_id"`
}

func NewBaseEvent(eventType EventType, executionID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		ExecutionID: executionID,
	}
}

// Dispatch asks a worker to run one attempt of one action.
type Dispatch struct {
	BaseEvent

	WorkflowID string         `json:"workflow_id"`
	ActionID   string         `json:"action_id"`
	Attempt    int            `json:"attempt"`
	AppName    string         `json:"app_name"`
	ActionName string         `json:"action_name"`
	DeviceID   string         `json:"device_id,omitempty"`
	Arguments  map[string]any `json:"arguments"`
	// Instance is the current app instance state for AppName and DeviceID.
	Instance any `json:"instance,omitempty"`
}

func (Dispatch) GetType() EventType {
	return DispatchEvent
}

// Result reports the outcome of one attempt. Partial results precede the final one.
type Result struct {
	BaseEvent

	ActionID  string             `json:"action_id"`
	Attempt   int                `json:"attempt"`
	Status    models.ActionState `json:"status"`
	Payload   any                `json:"payload,omitempty"`
	Error     string             `json:"error,omitempty"`
	Partial   bool               `json:"partial,omitempty"`
	Sequence  int                `json:"sequence,omitempty"`
	Truncated bool               `json:"truncated,omitempty"`
	Instance  any                `json:"instance,omitempty"`
}

func (Result) GetType() EventType {
	return ResultEvent
}

type Command string

const (
	CommandPause  Command = "pause"
	CommandResume Command = "resume"
	CommandAbort  Command = "abort"
)

// Control is an out-of-band command addressed to one execution.
type Control struct {
	BaseEvent

	Command Command `json:"command"`
}

func (Control) GetType() EventType {
	return ControlEvent
}

// WorkflowStatusChanged mirrors an accepted workflow transition for observers.
type WorkflowStatusChanged struct {
	BaseEvent

	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

func (WorkflowStatusChanged) GetType() EventType {
	return WorkflowStatusChangedEvent
}

// ActionStatusChanged mirrors an accepted action transition for observers.
type ActionStatusChanged struct {
	BaseEvent

	ActionID string `json:"action_id"`
	Attempt  int    `json:"attempt"`
	From     string `json:"from"`
	To       string `json:"to"`
}

func (ActionStatusChanged) GetType() EventType {
	return ActionStatusChangedEvent
}

// FromTransition converts a tracker transition into the matching status event.
func FromTransition(transition *models.StatusTransition) any {
	if transition.ActionID == "" {
		event := WorkflowStatusChanged{
			BaseEvent: NewBaseEvent(WorkflowStatusChangedEvent, transition.ExecutionID),
			From:      transition.From,
			To:        transition.To,
			Reason:    transition.Reason,
		}
		event.Timestamp = transition.At

		return event
	}

	event := ActionStatusChanged{
		BaseEvent: NewBaseEvent(ActionStatusChangedEvent, transition.ExecutionID),
		ActionID:  transition.ActionID,
		Attempt:   transition.Attempt,
		From:      transition.From,
		To:        transition.To,
	}
	event.Timestamp = transition.At

	return event
}
