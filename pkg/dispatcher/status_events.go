package dispatcher

import (
	"context"
	"log/slog"

	"github.com/dukex/orchestron/pkg/eventbus"
	"github.com/dukex/orchestron/pkg/events"
	"github.com/dukex/orchestron/pkg/metrics"
	"github.com/dukex/orchestron/pkg/models"
	"github.com/dukex/orchestron/pkg/status"
)

// StatusPublisher returns a tracker listener that publishes every recorded
// transition on the status topic and counts workflow transitions.
func StatusPublisher(bus eventbus.EventPublisher, collector *metrics.Collector, logger *slog.Logger) status.Listener {
	logger = logger.With("module", "status_publisher")

	return func(ctx context.Context, transition *models.StatusTransition) {
		if transition.ActionID == "" {
			collector.WorkflowTransition(transition.To)
		}

		event, ok := events.FromTransition(transition).(eventbus.Event)
		if !ok {
			return
		}

		// A cancelled run still reports how it ended.
		err := bus.Publish(context.WithoutCancel(ctx), transition.ExecutionID, event)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to publish status change",
				"execution_id", transition.ExecutionID, "action_id", transition.ActionID, "to", transition.To, "error", err)
		}
	}
}
