// Package kafka provides the distributed transport over Kafka.
package kafka

import (
	"errors"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/orchestron/pkg/events"
	"github.com/google/uuid"
)

var ErrNoBrokers = errors.New("kafka brokers are not configured")

type Channel struct {
	Publisher  *kafka.Publisher
	Subscriber *kafka.Subscriber
	// Broadcast uses a consumer group unique to this process.
	Broadcast *kafka.Subscriber
}

// partitionByKey keeps every message of one execution on one partition.
func partitionByKey(_ string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(events.EventMetadataKey), nil
}

func CreateChannel(logger watermill.LoggerAdapter, brokers []string, consumerGroup string) (*Channel, error) {
	brokers = cleanBrokers(brokers)
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}

	marshaler := kafka.NewWithPartitioningMarshaler(partitionByKey)

	subscriber, err := newSubscriber(logger, brokers, marshaler, consumerGroup, sarama.OffsetOldest)
	if err != nil {
		return nil, err
	}

	broadcast, err := newSubscriber(logger, brokers, marshaler, consumerGroup+"-"+uuid.NewString(), sarama.OffsetNewest)
	if err != nil {
		return nil, err
	}

	saramaPublisherConfig := kafka.DefaultSaramaSyncPublisherConfig()
	saramaPublisherConfig.Producer.Return.Successes = true
	saramaPublisherConfig.Producer.Partitioner = sarama.NewHashPartitioner

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             marshaler,
			OverwriteSaramaConfig: saramaPublisherConfig,
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	return &Channel{Publisher: publisher, Subscriber: subscriber, Broadcast: broadcast}, nil
}

func newSubscriber(
	logger watermill.LoggerAdapter,
	brokers []string,
	unmarshaler kafka.Unmarshaler,
	consumerGroup string,
	initialOffset int64,
) (*kafka.Subscriber, error) {
	saramaSubscriberConfig := kafka.DefaultSaramaSubscriberConfig()
	saramaSubscriberConfig.Consumer.Offsets.Initial = initialOffset

	return kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           unmarshaler,
			OverwriteSaramaConfig: saramaSubscriberConfig,
			ConsumerGroup:         consumerGroup,
			OTELEnabled:           true,
		},
		logger,
	)
}

func cleanBrokers(brokers []string) []string {
	cleaned := make([]string, 0, len(brokers))

	for _, broker := range brokers {
		for _, part := range strings.Split(broker, ",") {
			if part = strings.TrimSpace(part); part != "" {
				cleaned = append(cleaned, part)
			}
		}
	}

	return cleaned
}
