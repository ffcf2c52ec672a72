package events

import (
	"testing"
	"time"

	"github.com/dukex/orchestron/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestTopic(t *testing.T) {
	assert.Equal(t, DispatchTopic, Topic(DispatchEvent))
	assert.Equal(t, ResultsTopic, Topic(ResultEvent))
	assert.Equal(t, CommunicationTopic, Topic(ControlEvent))
	assert.Equal(t, StatusTopic, Topic(WorkflowStatusChangedEvent))
}

func TestFromTransition(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	workflowEvent, ok := FromTransition(&models.StatusTransition{
		ExecutionID: "exec-1", From: "running", To: "paused", At: at,
	}).(WorkflowStatusChanged)
	assert.True(t, ok)
	assert.Equal(t, "paused", workflowEvent.To)
	assert.Equal(t, at, workflowEvent.Timestamp)
	assert.Equal(t, WorkflowStatusChangedEvent, workflowEvent.GetType())

	actionEvent, ok := FromTransition(&models.StatusTransition{
		ExecutionID: "exec-1", ActionID: "a", Attempt: 2, From: "executing", To: "success", At: at,
	}).(ActionStatusChanged)
	assert.True(t, ok)
	assert.Equal(t, 2, actionEvent.Attempt)
	assert.NotEmpty(t, actionEvent.ID)
}
