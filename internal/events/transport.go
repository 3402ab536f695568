package events

import (
	"context"
	"encoding/json"
	"strconv"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/hotel-booking-core/internal/amqpx"
	kafkax "github.com/ariefcatur/hotel-booking-core/internal/kafka"
)

type KafkaPublisher struct {
	Producer *kafkax.Producer
}

func (p KafkaPublisher) Publish(_ context.Context, topic string, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	p.Producer.Publish(topic, PartitionKey(env.CorrelationID), value,
		kafkago.Header{Key: "x-event-type", Value: []byte(env.EventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	)
	return nil
}

// AMQPPublisher routes by topic name on a topic exchange.
type AMQPPublisher struct {
	Publisher *amqpx.Publisher
}

func (p AMQPPublisher) Publish(ctx context.Context, topic string, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.Publisher.Publish(ctx, topic, value, map[string]any{
		"x-event-type":    env.EventType,
		"x-event-version": env.EventVersion,
	})
}
