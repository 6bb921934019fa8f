// Package queue carries the RabbitMQ hand-off between the dispatcher and the
// delivery workers: one durable work queue per channel, each backed by a
// dead-letter queue for poisoned payloads.
package queue

import (
	"context"
	"fmt"

	"notification-engine/internal/domain"
)

// Publisher publishes dispatch messages to a work queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg DispatchMessage) error
	Close() error
}

// MessageHandler handles a consumed dispatch message.
type MessageHandler func(ctx context.Context, msg DispatchMessage) error

// Consumer consumes dispatch messages from a work queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// WorkQueueName returns the channel work queue name, e.g. email.
func WorkQueueName(channel domain.Channel) string {
	return channel.Key()
}

// DLQName returns the dead-letter queue name for a channel, e.g. dlq.email.
func DLQName(channel domain.Channel) string {
	return fmt.Sprintf("dlq.%s", WorkQueueName(channel))
}

// WorkQueueNames returns the work queues for every supported channel.
func WorkQueueNames() []string {
	channels := domain.Channels()
	queues := make([]string, 0, len(channels))
	for _, channel := range channels {
		queues = append(queues, WorkQueueName(channel))
	}
	return queues
}

// DLQNames returns the dead-letter queues for every supported channel.
func DLQNames() []string {
	channels := domain.Channels()
	queues := make([]string, 0, len(channels))
	for _, channel := range channels {
		queues = append(queues, DLQName(channel))
	}
	return queues
}
