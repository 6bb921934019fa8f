package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"notification-engine/internal/domain"
)

const (
	dlxExchangeName = "notifications.dlx"
	initialBackoff  = time.Second
	maxBackoff      = 30 * time.Second
	dialTimeout     = 15 * time.Second
)

// RabbitMQ owns one broker connection shared by publishers and consumers.
// Dialing retries with exponential backoff, and topology is re-declared on
// every channel open so a freshly restarted broker ends up with the full
// layout.
type RabbitMQ struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

// connection returns a live connection, dialing with backoff when the
// current one is gone. Dialing happens under the lock so concurrent callers
// share one reconnect attempt.
func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}

	wait := initialBackoff
	for {
		conn, err := amqp.Dial(r.url)
		if err == nil {
			r.conn = conn
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq dial gave up: %w", ctx.Err())
		case <-time.After(wait):
		}

		wait = nextBackoff(wait)
	}
}

func (r *RabbitMQ) openChannel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		// The connection may have died between the liveness check and the
		// channel open; drop it and dial once more.
		r.mu.Lock()
		if r.conn == conn {
			r.conn = nil
		}
		r.mu.Unlock()

		if conn, err = r.connection(ctx); err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
		}
	}

	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}

	return ch, nil
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	for _, channel := range domain.Channels() {
		if err := declareChannelQueues(ch, channel); err != nil {
			return err
		}
	}

	return nil
}

// declareChannelQueues sets up one channel's pair: a durable work queue that
// dead-letters into its dlq through the shared exchange.
func declareChannelQueues(ch *amqp.Channel, channel domain.Channel) error {
	dlqName := DLQName(channel)
	routingKey := channel.Key()

	if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlq %q: %w", dlqName, err)
	}
	if err := ch.QueueBind(dlqName, routingKey, dlxExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind dlq %q: %w", dlqName, err)
	}

	workQueue := WorkQueueName(channel)
	_, err := ch.QueueDeclare(workQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlxExchangeName,
		"x-dead-letter-routing-key": routingKey,
	})
	if err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", workQueue, err)
	}

	return nil
}
