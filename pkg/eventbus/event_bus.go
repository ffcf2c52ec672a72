// Package eventbus carries engine messages over watermill publishers and subscribers.
package eventbus

import (
	"context"

	"github.com/dukex/orchestron/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	// Publish sends event on its topic. key orders messages, use the execution id.
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	// Subscribe starts consuming every topic that has a registered handler.
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded event. Returning an error
// asks the transport to redeliver the message.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
