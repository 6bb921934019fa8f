package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

// Publish hands one notification to a channel's work queue. Messages are
// persistent; the notification ID doubles as the broker message ID so
// redeliveries can be traced.
func (p *RabbitMQPublisher) Publish(ctx context.Context, queue string, msg DispatchMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}

	publishing, err := encodeDispatchMessage(msg)
	if err != nil {
		return err
	}

	ch, err := p.client.openChannel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish to queue %q: %w", queue, err)
	}

	return nil
}

func encodeDispatchMessage(msg DispatchMessage) (amqp.Publishing, error) {
	if err := msg.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid dispatch message: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal dispatch message: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     msg.NotificationID,
		CorrelationId: msg.PassID,
		Body:          payload,
	}, nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
