// Package http provides the app that calls external HTTP endpoints.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/orchestron/pkg/registry"
)

const (
	Name = "http"

	defaultTimeout = 30 * time.Second
)

type App struct {
	logger *slog.Logger
	client *http.Client
}

type Option func(*App)

// WithClient replaces the client used for every request.
func WithClient(client *http.Client) Option {
	return func(a *App) {
		a.client = client
	}
}

func New(logger *slog.Logger, opts ...Option) *App {
	a := &App{
		logger: logger.With("app", Name),
		client: &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

func (*App) Name() string {
	return Name
}

func (a *App) Capabilities() []*registry.Capability {
	return []*registry.Capability{
		{
			Name: "request",
			Kind: registry.KindAction,
			Schema: map[string]any{
				"type":     "object",
				"required": []any{"url"},
				"properties": map[string]any{
					"url":    map[string]any{"type": "string", "minLength": 1},
					"method": map[string]any{"type": "string"},
					"headers": map[string]any{
						"type":                 "object",
						"additionalProperties": map[string]any{"type": "string"},
					},
					"body":           map[string]any{},
					"retry_attempts": map[string]any{"type": "integer", "minimum": 1},
					"retry_delay_ms": map[string]any{"type": "number", "minimum": 0},
				},
			},
			Action: a.request,
		},
	}
}
