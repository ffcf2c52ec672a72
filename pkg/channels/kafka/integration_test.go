package kafka_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/orchestron/pkg/channels/kafka"
	"github.com/dukex/orchestron/pkg/eventbus"
	"github.com/dukex/orchestron/pkg/events"
	"github.com/dukex/orchestron/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaTc "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func startKafka(t *testing.T) []string {
	t.Helper()

	if os.Getenv("ORCHESTRON_INTEGRATION") != "1" {
		t.Skip("set ORCHESTRON_INTEGRATION=1 to run Kafka integration tests")
	}

	ctx := context.Background()

	container, err := kafkaTc.Run(ctx, "confluentinc/confluent-local:7.7.0", testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	createTopics(t, brokers)

	return brokers
}

func createTopics(t *testing.T, brokers []string) {
	t.Helper()

	admin, err := sarama.NewClusterAdmin(brokers, sarama.NewConfig())
	require.NoError(t, err)

	defer admin.Close()

	for _, topic := range []string{events.DispatchTopic, events.ResultsTopic, events.CommunicationTopic, events.StatusTopic} {
		err := admin.CreateTopic(topic, &sarama.TopicDetail{NumPartitions: 3, ReplicationFactor: 1}, false)
		if !errors.Is(err, sarama.ErrTopicAlreadyExists) {
			require.NoError(t, err)
		}
	}
}

func newBus(t *testing.T, brokers []string, consumerGroup string) *eventbus.WatermillEventBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	channel, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), brokers, consumerGroup)
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(channel.Publisher, channel.Subscriber,
		eventbus.WithBroadcastSubscriber(channel.Broadcast),
		eventbus.WithLogger(logger),
	)

	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestKafkaIntegration_ResultsAndBroadcast(t *testing.T) {
	brokers := startKafka(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	controller := newBus(t, brokers, "controller")
	workerA := newBus(t, brokers, "workers")
	workerB := newBus(t, brokers, "workers")

	results := make(chan *events.Result, 1)

	require.NoError(t, controller.Handle(events.ResultEvent, func(_ context.Context, event any) error {
		results <- event.(*events.Result)

		return nil
	}))
	require.NoError(t, controller.Subscribe(ctx))

	var controlsA, controlsB atomic.Int32

	require.NoError(t, workerA.Handle(events.ControlEvent, func(context.Context, any) error {
		controlsA.Add(1)

		return nil
	}))
	require.NoError(t, workerB.Handle(events.ControlEvent, func(context.Context, any) error {
		controlsB.Add(1)

		return nil
	}))
	require.NoError(t, workerA.Subscribe(ctx))
	require.NoError(t, workerB.Subscribe(ctx))

	require.NoError(t, workerA.Publish(ctx, "exec-1", events.Result{
		BaseEvent: events.NewBaseEvent(events.ResultEvent, "exec-1"),
		ActionID:  "a",
		Attempt:   1,
		Status:    models.ActionSuccess,
		Payload:   "done",
	}))

	select {
	case got := <-results:
		assert.Equal(t, "exec-1", got.ExecutionID)
		assert.Equal(t, "done", got.Payload)
	case <-ctx.Done():
		t.Fatal("result not delivered")
	}

	// Broadcast consumers start at the newest offset, so keep publishing until both have joined.
	require.Eventually(t, func() bool {
		_ = controller.Publish(ctx, "exec-1", events.Control{
			BaseEvent: events.NewBaseEvent(events.ControlEvent, "exec-1"),
			Command:   events.CommandAbort,
		})

		return controlsA.Load() > 0 && controlsB.Load() > 0
	}, time.Minute, time.Second)
}
