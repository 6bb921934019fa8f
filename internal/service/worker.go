package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"notification-engine/internal/channel"
	"notification-engine/internal/domain"
	"notification-engine/internal/observability"
	"notification-engine/internal/queue"
	"notification-engine/internal/ratelimit"
	"notification-engine/internal/repository"
)

const minWorkerConcurrency = 1

// Worker drains the channel work queues and runs the same handler contract
// the in-process dispatch pass uses. Returning an error from a message
// requeues it; absorbing one acks it.
type Worker struct {
	notifications repository.NotificationRepository
	registry      *channel.Registry
	consumer      queue.Consumer
	limiter       ratelimit.RateLimiter
	logger        *zap.Logger
	metrics       *observability.Metrics
	concurrency   int
	sendTimeout   time.Duration
	now           func() time.Time
}

func NewWorker(
	notifications repository.NotificationRepository,
	registry *channel.Registry,
	consumer queue.Consumer,
	limiter ratelimit.RateLimiter,
	concurrency int,
	sendTimeout time.Duration,
	logger *zap.Logger,
) (*Worker, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("channel registry is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("queue consumer is required")
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Worker{
		notifications: notifications,
		registry:      registry,
		consumer:      consumer,
		limiter:       limiter,
		logger:        logger,
		concurrency:   concurrency,
		sendTimeout:   sendTimeout,
		now:           time.Now,
	}, nil
}

func (w *Worker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start consumes the work queues of the registered channels until the
// context is canceled. Every queue gets at least one consumer regardless of
// the configured concurrency, so no registered channel's backlog sits idle.
func (w *Worker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := w.workQueues()
	if len(queueNames) == 0 {
		return fmt.Errorf("no channel handlers registered to consume for")
	}

	consumers := w.concurrency
	if consumers < len(queueNames) {
		consumers = len(queueNames)
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < consumers; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			if err := w.consumer.Consume(groupCtx, queueName, w.processMessage); err != nil {
				w.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

// workQueues lists the work queues whose channel has a registered handler.
// Queues for other channels belong to instances that carry those
// integrations; consuming them here would only bounce their messages.
func (w *Worker) workQueues() []string {
	names := make([]string, 0, len(w.registry.Keys()))
	for _, key := range w.registry.Keys() {
		ch, err := domain.ParseChannelFromString(key)
		if err != nil {
			w.logger.Warn("skipping work queue for unknown channel key", zap.String("channel", key))
			continue
		}
		names = append(names, queue.WorkQueueName(ch))
	}
	return names
}

func (w *Worker) processMessage(ctx context.Context, msg queue.DispatchMessage) error {
	if msg.PassID != "" {
		ctx = observability.WithPassID(ctx, msg.PassID)
	}
	logger := observability.WithContextLogger(w.logger, ctx)

	n, err := w.notifications.GetByID(ctx, msg.NotificationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("queued notification no longer exists, dropping",
				zap.String("notificationId", msg.NotificationID),
			)
			return nil
		}
		return fmt.Errorf("failed to load queued notification: %w", err)
	}

	// Only rows still parked in the queued state are processed; anything
	// else was handled elsewhere and the message is stale.
	if n.Status != domain.StatusAsyncQueued {
		logger.Info("queued notification already resolved, dropping",
			zap.String("notificationId", n.ID),
			zap.String("status", string(n.Status)),
		)
		return nil
	}

	if n.TargetUserRecord == nil || n.TargetUserRecord.Target == nil {
		logger.Error("queued notification is missing its target user record",
			zap.String("notificationId", n.ID),
		)
		return nil
	}

	channelKey := n.TargetUserRecord.Target.ChannelKey
	if !n.TargetUserRecord.Active {
		if _, err := w.notifications.MarkInactiveDevice(ctx, n.ID); err != nil {
			return fmt.Errorf("failed to mark notification inactive: %w", err)
		}
		w.metrics.IncInactiveDevice(channelKey.Key())
		return nil
	}

	handler, ok := w.registry.Resolve(channelKey.Key())
	if !ok {
		// Requeue so an instance with the integration configured picks
		// it up.
		return fmt.Errorf("%w: %q", domain.ErrUnknownChannel, channelKey.Key())
	}

	if err := w.limiter.Wait(ctx, channelKey.Key()); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	w.metrics.IncDispatchInFlight(channelKey.Key())
	defer w.metrics.DecDispatchInFlight(channelKey.Key())

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	defer cancel()

	sendStart := w.now()
	outcome, err := handler.Send(sendCtx, n)
	w.metrics.ObserveNotificationSendDuration(channelKey.Key(), w.now().Sub(sendStart))
	if err != nil {
		return fmt.Errorf("handler failed: %w", err)
	}

	logger.Info("queued notification processed",
		zap.String("notificationId", n.ID),
		zap.String("channel", channelKey.Key()),
		zap.String("status", string(n.Status)),
		zap.String("outcome", outcome),
	)
	return nil
}
