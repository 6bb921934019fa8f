package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume reads the queue until the context is canceled. A dropped broker
// channel restarts the consume loop with backoff.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	wait := initialBackoff
	for ctx.Err() == nil {
		err := c.drainQueue(ctx, queue, handler)
		if ctx.Err() != nil {
			break
		}
		if err == nil {
			wait = initialBackoff
			continue
		}

		c.logger.Warn("queue consume interrupted, retrying",
			zap.String("queue", queue),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
		case <-time.After(wait):
			wait = nextBackoff(wait)
		}
	}

	return nil
}

// drainQueue runs one consume session over a fresh broker channel.
func (c *RabbitMQConsumer) drainQueue(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.openChannel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.dispatch(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

// dispatch decodes a delivery and settles it: bad payloads are rejected to
// the dlq, handler failures are requeued, successes are acked.
func (c *RabbitMQConsumer) dispatch(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	msg, decodeErr := decodeDispatchMessage(d.Body)
	if decodeErr != nil {
		c.logger.Warn("rejecting undeliverable message",
			zap.String("queue", d.RoutingKey),
			zap.Error(decodeErr),
		)
		if err := d.Reject(false); err != nil {
			return fmt.Errorf("failed to reject message: %w", err)
		}
		return nil
	}

	if err := handler(ctx, msg); err != nil {
		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
		return nil
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}

	return nil
}

func decodeDispatchMessage(body []byte) (DispatchMessage, error) {
	var msg DispatchMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return DispatchMessage{}, fmt.Errorf("invalid message body: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return DispatchMessage{}, err
	}
	return msg, nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
