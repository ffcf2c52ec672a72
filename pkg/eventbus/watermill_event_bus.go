package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/orchestron/pkg/events"
)

var ErrAlreadySubscribed = errors.New("event bus already subscribed")

type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	// broadcast receives the communication topic. Every consumer must see
	// every control message, so it may not share a consumer group.
	broadcast message.Subscriber
	logger    *slog.Logger

	mu            sync.Mutex
	subscribed    bool
	subscriptions map[events.EventType]EventHandler
}

type Option func(*WatermillEventBus)

// WithBroadcastSubscriber sets the subscriber used for the communication topic.
func WithBroadcastSubscriber(sub message.Subscriber) Option {
	return func(eb *WatermillEventBus) {
		eb.broadcast = sub
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(eb *WatermillEventBus) {
		eb.logger = logger
	}
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, opts ...Option) *WatermillEventBus {
	eb := &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		logger:        slog.Default(),
		subscriptions: make(map[events.EventType]EventHandler),
	}

	for _, opt := range opts {
		opt(eb)
	}

	eb.logger = eb.logger.With("module", "eventbus")

	return eb
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.GetType(), err)
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))
	msg.SetContext(ctx)

	return eb.publisher.Publish(events.Topic(event.GetType()), msg)
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.subscribed {
		return ErrAlreadySubscribed
	}

	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.subscribed {
		return ErrAlreadySubscribed
	}

	topics := make(map[string]bool)
	for eventType := range eb.subscriptions {
		topics[events.Topic(eventType)] = true
	}

	for topic := range topics {
		subscriber := eb.subscriber
		if topic == events.CommunicationTopic && eb.broadcast != nil {
			subscriber = eb.broadcast
		}

		messages, err := subscriber.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}

		go eb.consume(ctx, topic, messages)
	}

	eb.subscribed = true

	return nil
}

func (eb *WatermillEventBus) consume(ctx context.Context, topic string, messages <-chan *message.Message) {
	for msg := range messages {
		eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

		eb.mu.Lock()
		handler, exists := eb.subscriptions[eventType]
		eb.mu.Unlock()

		if !exists {
			msg.Ack()

			continue
		}

		event, err := decode(eventType, msg.Payload)
		if err != nil {
			// redelivery cannot fix a malformed payload
			eb.logger.ErrorContext(ctx, "Dropping undecodable message",
				"topic", topic, "event_type", eventType, "message_id", msg.UUID, "error", err)
			msg.Ack()

			continue
		}

		err = handler(ctx, event)
		if err != nil {
			eb.logger.WarnContext(ctx, "Handler failed, message will be redelivered",
				"topic", topic, "event_type", eventType, "message_id", msg.UUID, "error", err)
			msg.Nack()

			continue
		}

		msg.Ack()
	}
}

func decode(eventType events.EventType, payload []byte) (any, error) {
	var event any

	switch eventType {
	case events.DispatchEvent:
		event = &events.Dispatch{}
	case events.ResultEvent:
		event = &events.Result{}
	case events.ControlEvent:
		event = &events.Control{}
	case events.WorkflowStatusChangedEvent:
		event = &events.WorkflowStatusChanged{}
	case events.ActionStatusChangedEvent:
		event = &events.ActionStatusChanged{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	err := json.Unmarshal(payload, event)
	if err != nil {
		return nil, err
	}

	return event, nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	err = eb.subscriber.Close()
	if err != nil {
		return err
	}

	if eb.broadcast != nil {
		return eb.broadcast.Close()
	}

	return nil
}
