// Package redis keeps execution checkpoints in Redis so any controller replica
// can resume a paused or parked run.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/orchestron/pkg/checkpoint"
	"github.com/dukex/orchestron/pkg/models"
	"github.com/dukex/orchestron/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "orchestron:checkpoint:"

type CheckpointRepository struct {
	client    *redis.Client
	keyPrefix string
	logger    *slog.Logger
}

// NewCheckpointRepository connects to url (redis://...) and pings the server.
func NewCheckpointRepository(ctx context.Context, logger *slog.Logger, url string) (*CheckpointRepository, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewCheckpointRepositoryWithClient(client, logger), nil
}

func NewCheckpointRepositoryWithClient(client *redis.Client, logger *slog.Logger) *CheckpointRepository {
	return &CheckpointRepository{
		client:    client,
		keyPrefix: DefaultKeyPrefix,
		logger:    logger.With("module", "redis_checkpoints"),
	}
}

func (r *CheckpointRepository) key(executionID string) string {
	return r.keyPrefix + executionID
}

func (r *CheckpointRepository) SaveCheckpoint(ctx context.Context, saved *models.SavedWorkflow) error {
	data, err := checkpoint.Encode(saved)
	if err != nil {
		return err
	}

	err = r.client.Set(ctx, r.key(saved.ExecutionID), data, 0).Err()
	if err != nil {
		return persistence.NewExecutionError("SaveCheckpoint", saved.ExecutionID, err)
	}

	r.logger.DebugContext(ctx, "Checkpoint saved", "execution_id", saved.ExecutionID, "action_id", saved.ActionID)

	return nil
}

func (r *CheckpointRepository) Checkpoint(ctx context.Context, executionID string) (*models.SavedWorkflow, error) {
	data, err := r.client.Get(ctx, r.key(executionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewExecutionError("Checkpoint", executionID, persistence.ErrCheckpointNotFound)
		}

		return nil, fmt.Errorf("failed to read checkpoint %s: %w", executionID, err)
	}

	return checkpoint.Decode(data)
}

// DeleteCheckpoint removes the checkpoint of executionID. A missing checkpoint is not an error.
func (r *CheckpointRepository) DeleteCheckpoint(ctx context.Context, executionID string) error {
	err := r.client.Del(ctx, r.key(executionID)).Err()
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", executionID, err)
	}

	return nil
}

// Ping checks the connection.
func (r *CheckpointRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *CheckpointRepository) Close() error {
	return r.client.Close()
}

// overlay serves checkpoints from Redis and everything else from base.
type overlay struct {
	persistence.Persistence

	checkpoints *CheckpointRepository
}

// WithCheckpoints returns base with its checkpoint repository replaced by checkpoints.
func WithCheckpoints(base persistence.Persistence, checkpoints *CheckpointRepository) persistence.Persistence {
	return &overlay{Persistence: base, checkpoints: checkpoints}
}

func (o *overlay) CheckpointRepository() persistence.CheckpointRepository {
	return o.checkpoints
}

func (o *overlay) HealthCheck(ctx context.Context) error {
	err := o.Persistence.HealthCheck(ctx)
	if err != nil {
		return err
	}

	err = o.checkpoints.Ping(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (o *overlay) Close(ctx context.Context) error {
	return errors.Join(o.Persistence.Close(ctx), o.checkpoints.Close())
}
