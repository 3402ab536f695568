package amqpx

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Handler returns nil when the delivery may be acked.
type Handler func(ctx context.Context, body []byte) error

// Consumer reads a durable queue bound to the topic exchange.
type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	logger *zap.Logger
}

func NewConsumer(url, exchange, queue string, keys []string, prefetch int, logger *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	fail := func(step string, err error) (*Consumer, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fail("declare exchange", err)
	}
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fail("declare queue", err)
	}
	for _, k := range keys {
		if err := ch.QueueBind(q.Name, k, exchange, false, nil); err != nil {
			return fail("bind "+k, err)
		}
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return fail("set qos", err)
		}
	}
	return &Consumer{conn: conn, ch: ch, queue: q.Name, logger: logger}, nil
}

// Start blocks until ctx is done or the delivery channel closes. Failed
// deliveries are requeued.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("consume %s: delivery channel closed", c.queue)
			}
			if err := h(ctx, d.Body); err != nil {
				c.logger.Warn("handler failed, requeueing", zap.String("routing_key", d.RoutingKey), zap.Error(err))
				_ = d.Nack(false, true)
				continue
			}
			if err := d.Ack(false); err != nil {
				c.logger.Warn("ack failed", zap.Error(err))
			}
		}
	}
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
