package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/orchestron/pkg/checkpoint"
	"github.com/dukex/orchestron/pkg/models"
	"github.com/dukex/orchestron/pkg/persistence"
)

// CheckpointRepository stores encoded checkpoints in the saved_workflow table.
type CheckpointRepository struct {
	db *sql.DB
}

func NewCheckpointRepository(db *sql.DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

func (r *CheckpointRepository) SaveCheckpoint(ctx context.Context, saved *models.SavedWorkflow) error {
	data, err := checkpoint.Encode(saved)
	if err != nil {
		return err
	}

	savedAt := saved.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO saved_workflow (execution_id, workflow_id, checkpoint, saved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (execution_id) DO UPDATE SET
			workflow_id = EXCLUDED.workflow_id,
			checkpoint = EXCLUDED.checkpoint,
			saved_at = EXCLUDED.saved_at
	`

	_, err = r.db.ExecContext(ctx, query, saved.ExecutionID, saved.WorkflowID, data, savedAt)
	if err != nil {
		return persistence.NewExecutionError("SaveCheckpoint", saved.ExecutionID, err)
	}

	return nil
}

func (r *CheckpointRepository) Checkpoint(ctx context.Context, executionID string) (*models.SavedWorkflow, error) {
	var data []byte

	err := r.db.QueryRowContext(ctx, `SELECT checkpoint FROM saved_workflow WHERE execution_id = $1`, executionID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("Checkpoint", executionID, persistence.ErrCheckpointNotFound)
		}

		return nil, fmt.Errorf("failed to read checkpoint %s: %w", executionID, err)
	}

	return checkpoint.Decode(data)
}

// DeleteCheckpoint removes the checkpoint of executionID. A missing checkpoint is not an error.
func (r *CheckpointRepository) DeleteCheckpoint(ctx context.Context, executionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM saved_workflow WHERE execution_id = $1`, executionID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", executionID, err)
	}

	return nil
}
