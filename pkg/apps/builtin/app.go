// Package builtin provides the app every orchestron process registers natively.
package builtin

import (
	"log/slog"

	"github.com/dukex/orchestron/pkg/registry"
)

const Name = "builtin"

type App struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *App {
	return &App{logger: logger.With("app", Name)}
}

func (*App) Name() string {
	return Name
}

func (a *App) Capabilities() []*registry.Capability {
	capabilities := a.actions()
	capabilities = append(capabilities, conditions()...)
	capabilities = append(capabilities, transforms()...)

	return capabilities
}
