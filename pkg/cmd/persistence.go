package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/orchestron/pkg/persistence"
	"github.com/dukex/orchestron/pkg/persistence/file"
	"github.com/dukex/orchestron/pkg/persistence/postgresql"
	"github.com/dukex/orchestron/pkg/persistence/redis"
)

// NewPersistence opens the store named by databaseURL and, when checkpointURL
// is set, moves checkpoints to Redis.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL, checkpointURL string) (persistence.Persistence, error) {
	base, err := newBasePersistence(ctx, logger, databaseURL)
	if err != nil {
		return nil, err
	}

	if checkpointURL == "" {
		return base, nil
	}

	checkpoints, err := redis.NewCheckpointRepository(ctx, logger, checkpointURL)
	if err != nil {
		_ = base.Close(ctx)

		return nil, err
	}

	return redis.WithCheckpoints(base, checkpoints), nil
}

func newBasePersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "file":
		return file.NewPersistence(databaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported persistence provider in %q", databaseURL)
	}
}

// parsePersistenceProvider treats a URL without a scheme as a directory.
func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
