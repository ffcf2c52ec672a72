package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dukex/orchestron/pkg/apps/builtin"
	httpapp "github.com/dukex/orchestron/pkg/apps/http"
	"github.com/dukex/orchestron/pkg/registry"
)

// NewRegistry registers the native apps and every app plugin under pluginsPath.
func NewRegistry(log *slog.Logger, pluginsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(log)

	for _, app := range []registry.App{builtin.New(log), httpapp.New(log)} {
		err := reg.Register(app)
		if err != nil {
			return nil, fmt.Errorf("failed to register %s app: %w", app.Name(), err)
		}
	}

	if pluginsPath == "" {
		return reg, nil
	}

	err := reg.LoadPlugins(pluginsPath)
	if err != nil {
		return nil, err
	}

	return reg, nil
}
