package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dukex/orchestron/pkg/checkpoint"
	"github.com/dukex/orchestron/pkg/models"
	"github.com/dukex/orchestron/pkg/persistence"
)

// CheckpointRepository stores one encoded checkpoint file per execution.
type CheckpointRepository struct {
	root string
}

func NewCheckpointRepository(root string) *CheckpointRepository {
	return &CheckpointRepository{root: root}
}

func (cr *CheckpointRepository) path(executionID string) string {
	return filepath.Join(cr.root, "checkpoints", executionID+".json")
}

func (cr *CheckpointRepository) SaveCheckpoint(_ context.Context, saved *models.SavedWorkflow) error {
	err := validateID(saved.ExecutionID)
	if err != nil {
		return persistence.NewExecutionError("SaveCheckpoint", saved.ExecutionID, err)
	}

	data, err := checkpoint.Encode(saved)
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Join(cr.root, "checkpoints"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create checkpoints directory: %w", err)
	}

	return writeFile(cr.path(saved.ExecutionID), data)
}

func (cr *CheckpointRepository) Checkpoint(_ context.Context, executionID string) (*models.SavedWorkflow, error) {
	err := validateID(executionID)
	if err != nil {
		return nil, persistence.NewExecutionError("Checkpoint", executionID, err)
	}

	data, err := os.ReadFile(cr.path(executionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewExecutionError("Checkpoint", executionID, persistence.ErrCheckpointNotFound)
		}

		return nil, fmt.Errorf("failed to read checkpoint %s: %w", executionID, err)
	}

	return checkpoint.Decode(data)
}

func (cr *CheckpointRepository) DeleteCheckpoint(_ context.Context, executionID string) error {
	err := validateID(executionID)
	if err != nil {
		return persistence.NewExecutionError("DeleteCheckpoint", executionID, err)
	}

	err = os.Remove(cr.path(executionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint %s: %w", executionID, err)
	}

	return nil
}
