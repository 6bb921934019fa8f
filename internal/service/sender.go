package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"notification-engine/internal/channel"
	"notification-engine/internal/domain"
	"notification-engine/internal/observability"
	"notification-engine/internal/queue"
	"notification-engine/internal/ratelimit"
	"notification-engine/internal/repository"
)

const (
	defaultBatchLimit  = 200
	defaultConcurrency = 8
	defaultSendTimeout = 30 * time.Second
	defaultClaimTTL    = 10 * time.Minute
)

// PassStats summarizes one dispatch pass.
type PassStats struct {
	Due            int
	Claimed        int
	Sent           int
	Queued         int
	InactiveDevice int
	Skipped        int
	Failed         int
}

// SenderOptions tune a Sender. Zero values fall back to defaults.
type SenderOptions struct {
	BatchLimit  int
	Concurrency int
	SendTimeout time.Duration
	ClaimTTL    time.Duration

	// Async switches the pass from in-process delivery to enqueueing work
	// for the queue workers. Requires a publisher.
	Async     bool
	Publisher queue.Publisher
}

// Sender runs dispatch passes: it loads due notifications, claims each row,
// and either delivers in-process through the channel registry or hands the
// work to the broker.
type Sender struct {
	notifications repository.NotificationRepository
	registry      *channel.Registry
	limiter       ratelimit.RateLimiter
	logger        *zap.Logger
	metrics       *observability.Metrics
	opts          SenderOptions
	now           func() time.Time
}

func NewSender(
	notifications repository.NotificationRepository,
	registry *channel.Registry,
	limiter ratelimit.RateLimiter,
	opts SenderOptions,
	logger *zap.Logger,
) (*Sender, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("channel registry is required")
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = defaultBatchLimit
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = defaultClaimTTL
	}
	if opts.Async && opts.Publisher == nil {
		return nil, fmt.Errorf("async dispatch requires a queue publisher")
	}

	return &Sender{
		notifications: notifications,
		registry:      registry,
		limiter:       limiter,
		logger:        logger,
		opts:          opts,
		now:           time.Now,
	}, nil
}

func (s *Sender) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// DispatchPass processes one batch of due notifications and returns the pass
// summary. Individual notification failures are absorbed into the stats;
// only listing failures abort the pass.
func (s *Sender) DispatchPass(ctx context.Context) (*PassStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	passID := uuid.NewString()
	ctx = observability.WithPassID(ctx, passID)
	logger := observability.WithContextLogger(s.logger, ctx)

	passStart := s.now()
	now := passStart.UTC()

	due, err := s.notifications.ListDue(ctx, now, now.Add(-s.opts.ClaimTTL), s.opts.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due notifications: %w", err)
	}

	stats := &PassStats{Due: len(due)}
	if len(due) == 0 {
		return stats, nil
	}

	var mu sync.Mutex
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	for i := range due {
		n := due[i]
		g.Go(func() error {
			outcome := s.process(groupCtx, logger, &n, passID)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeSent:
				stats.Claimed++
				stats.Sent++
			case outcomeQueued:
				stats.Claimed++
				stats.Queued++
			case outcomeInactive:
				stats.Claimed++
				stats.InactiveDevice++
			case outcomeSkipped:
				stats.Skipped++
			case outcomeFailed:
				stats.Claimed++
				stats.Failed++
			}
			return nil
		})
	}

	// Goroutines swallow their own failures, so the only wait error is
	// context cancellation.
	if err := g.Wait(); err != nil {
		return stats, err
	}

	s.metrics.ObserveDispatchPassDuration(s.now().Sub(passStart))

	logger.Info("dispatch pass completed",
		zap.Int("due", stats.Due),
		zap.Int("claimed", stats.Claimed),
		zap.Int("sent", stats.Sent),
		zap.Int("queued", stats.Queued),
		zap.Int("inactiveDevice", stats.InactiveDevice),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", s.now().Sub(passStart)),
	)

	return stats, nil
}

type passOutcome int

const (
	outcomeSent passOutcome = iota
	outcomeQueued
	outcomeInactive
	outcomeSkipped
	outcomeFailed
)

func (s *Sender) process(ctx context.Context, logger *zap.Logger, n *domain.Notification, passID string) passOutcome {
	now := s.now().UTC()

	claimed, err := s.notifications.Claim(ctx, n.ID, now, now.Add(-s.opts.ClaimTTL))
	if err != nil {
		logger.Error("failed to claim notification",
			zap.String("notificationId", n.ID),
			zap.Error(err),
		)
		return outcomeFailed
	}
	if !claimed {
		return outcomeSkipped
	}

	if n.TargetUserRecord == nil || n.TargetUserRecord.Target == nil {
		logger.Error("due notification is missing its target user record",
			zap.String("notificationId", n.ID),
		)
		s.releaseClaim(ctx, logger, n.ID)
		return outcomeFailed
	}

	channelKey := n.TargetUserRecord.Target.ChannelKey

	// A record deactivated after scheduling resolves without a provider
	// call.
	if !n.TargetUserRecord.Active {
		return s.markInactive(ctx, logger, n, channelKey)
	}

	if s.opts.Async {
		return s.enqueue(ctx, logger, n, channelKey, passID)
	}

	return s.deliver(ctx, logger, n, channelKey)
}

func (s *Sender) deliver(ctx context.Context, logger *zap.Logger, n *domain.Notification, channelKey domain.Channel) passOutcome {
	handler, ok := s.registry.Resolve(channelKey.Key())
	if !ok {
		logger.Warn("no handler registered for channel, leaving notification for a configured instance",
			zap.String("notificationId", n.ID),
			zap.String("channel", channelKey.Key()),
		)
		s.releaseClaim(ctx, logger, n.ID)
		return outcomeSkipped
	}

	if err := s.limiter.Wait(ctx, channelKey.Key()); err != nil {
		logger.Error("rate limiter wait failed",
			zap.String("notificationId", n.ID),
			zap.String("channel", channelKey.Key()),
			zap.Error(err),
		)
		s.releaseClaim(ctx, logger, n.ID)
		return outcomeFailed
	}

	s.metrics.IncDispatchInFlight(channelKey.Key())
	defer s.metrics.DecDispatchInFlight(channelKey.Key())

	sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()

	sendStart := s.now()
	outcome, err := handler.Send(sendCtx, n)
	s.metrics.ObserveNotificationSendDuration(channelKey.Key(), s.now().Sub(sendStart))

	if err != nil {
		logger.Error("handler failed",
			zap.String("notificationId", n.ID),
			zap.String("channel", channelKey.Key()),
			zap.Error(err),
		)
		s.releaseClaim(ctx, logger, n.ID)
		return outcomeFailed
	}

	logger.Info("notification processed",
		zap.String("notificationId", n.ID),
		zap.String("channel", channelKey.Key()),
		zap.String("status", string(n.Status)),
		zap.String("outcome", outcome),
	)
	return outcomeSent
}

func (s *Sender) enqueue(ctx context.Context, logger *zap.Logger, n *domain.Notification, channelKey domain.Channel, passID string) passOutcome {
	msg := queue.DispatchMessage{
		NotificationID: n.ID,
		Channel:        channelKey,
		PassID:         passID,
	}

	if err := s.opts.Publisher.Publish(ctx, queue.WorkQueueName(channelKey), msg); err != nil {
		logger.Error("failed to enqueue notification",
			zap.String("notificationId", n.ID),
			zap.String("channel", channelKey.Key()),
			zap.Error(err),
		)
		s.releaseClaim(ctx, logger, n.ID)
		return outcomeFailed
	}

	updated, err := s.notifications.MarkAsyncQueued(ctx, n.ID)
	if err != nil || !updated {
		logger.Error("failed to mark notification as queued",
			zap.String("notificationId", n.ID),
			zap.Error(err),
		)
		return outcomeFailed
	}

	return outcomeQueued
}

func (s *Sender) markInactive(ctx context.Context, logger *zap.Logger, n *domain.Notification, channelKey domain.Channel) passOutcome {
	updated, err := s.notifications.MarkInactiveDevice(ctx, n.ID)
	if err != nil || !updated {
		logger.Error("failed to mark notification inactive",
			zap.String("notificationId", n.ID),
			zap.Error(err),
		)
		return outcomeFailed
	}

	s.metrics.IncInactiveDevice(channelKey.Key())
	logger.Info("notification target record is inactive",
		zap.String("notificationId", n.ID),
		zap.String("channel", channelKey.Key()),
	)
	return outcomeInactive
}

func (s *Sender) releaseClaim(ctx context.Context, logger *zap.Logger, id string) {
	if err := s.notifications.ReleaseClaim(ctx, id); err != nil {
		logger.Error("failed to release claim",
			zap.String("notificationId", id),
			zap.Error(err),
		)
	}
}
