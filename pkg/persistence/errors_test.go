package persistence_test

import (
	"errors"
	"testing"

	"github.com/dukex/orchestron/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		workflowErr := persistence.NewWorkflowError("WorkflowByID", "workflow-123", persistence.ErrWorkflowNotFound)
		checkpointErr := persistence.NewExecutionError("Checkpoint", "exec-1", persistence.ErrCheckpointNotFound)
		statusErr := persistence.NewExecutionError("WorkflowStatus", "exec-1", persistence.ErrExecutionNotFound)

		assert.True(t, persistence.IsWorkflowNotFound(workflowErr))
		assert.True(t, persistence.IsCheckpointNotFound(checkpointErr))
		assert.True(t, persistence.IsExecutionNotFound(statusErr))
		assert.False(t, persistence.IsCheckpointNotFound(statusErr))

		assert.True(t, errors.Is(workflowErr, persistence.ErrWorkflowNotFound))
	})

	t.Run("errors contain context", func(t *testing.T) {
		err := persistence.NewExecutionError("SaveCheckpoint", "exec-9", persistence.ErrInvalidID)

		assert.Contains(t, err.Error(), "SaveCheckpoint")
		assert.Contains(t, err.Error(), "exec-9")
		assert.Contains(t, err.Error(), "invalid identifier")
	})
}
