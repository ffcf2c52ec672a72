package checkpoint

import (
	"testing"
	"time"

	"github.com/dukex/orchestron/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	saved := &models.SavedWorkflow{
		ExecutionID:  "exec-1",
		WorkflowID:   "wf-1",
		ActionID:     "b",
		Status:       models.WorkflowPaused,
		Pending:      []string{"c"},
		Accumulator:  map[string]any{"a": map[string]any{"value": 1.5}},
		AppInstances: map[string]any{"builtin:": 2.0},
		Steps:        3,
		SavedAt:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	data, err := Encode(saved)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version":1`)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, saved, decoded)
}

func TestDecode_UnsupportedVersion(t *testing.T) {
	_, err := Decode([]byte(`{"version": 7, "checkpoint": {}}`))
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecode_SchemaViolation(t *testing.T) {
	_, err := Decode([]byte(`{"version": 1, "checkpoint": {"execution_id": "e", "workflow_id": "w", "status": "running"}}`))
	require.ErrorIs(t, err, ErrInvalidCheckpoint)
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	require.ErrorIs(t, err, ErrInvalidCheckpoint)
}

func TestDecode_NullMapsBecomeEmpty(t *testing.T) {
	data := []byte(`{"version":1,"checkpoint":{"execution_id":"e","workflow_id":"w","action_id":"a","status":"awaiting_data","accumulator":null,"app_instances":null,"steps":0}}`)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.NotNil(t, decoded.Accumulator)
	assert.NotNil(t, decoded.AppInstances)
}
