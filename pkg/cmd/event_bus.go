// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/orchestron/pkg/channels/gochannel"
	"github.com/dukex/orchestron/pkg/channels/kafka"
	"github.com/dukex/orchestron/pkg/config"
	"github.com/dukex/orchestron/pkg/eventbus"
)

// Transport is the message channel shared by every event bus of one process.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	// Broadcast is nil when Subscriber already delivers every message to every consumer.
	Broadcast message.Subscriber
}

func NewTransport(cfg config.Config, logger *slog.Logger) (*Transport, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch cfg.EventBus {
	case config.EventBusKafka:
		channel, err := kafka.CreateChannel(wmLogger, cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return &Transport{
			Publisher:  channel.Publisher,
			Subscriber: channel.Subscriber,
			Broadcast:  channel.Broadcast,
		}, nil
	case config.EventBusGoChannel, "":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process pub/sub: %w", err)
		}

		return &Transport{Publisher: pub, Subscriber: sub}, nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", cfg.EventBus)
	}
}

// NewEventBus returns a bus over t. Every component that subscribes needs its own bus.
func (t *Transport) NewEventBus(logger *slog.Logger) *eventbus.WatermillEventBus {
	opts := []eventbus.Option{eventbus.WithLogger(logger)}
	if t.Broadcast != nil {
		opts = append(opts, eventbus.WithBroadcastSubscriber(t.Broadcast))
	}

	return eventbus.NewWatermillEventBus(t.Publisher, t.Subscriber, opts...)
}

func (t *Transport) Close() error {
	errs := []error{t.Publisher.Close()}

	if any(t.Subscriber) != any(t.Publisher) {
		errs = append(errs, t.Subscriber.Close())
	}

	if t.Broadcast != nil {
		errs = append(errs, t.Broadcast.Close())
	}

	return errors.Join(errs...)
}
