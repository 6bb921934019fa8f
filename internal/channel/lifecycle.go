package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notification-engine/internal/domain"
	"notification-engine/internal/observability"
	"notification-engine/internal/provider"
	"notification-engine/internal/repository"
)

// Attempt outcomes recorded in the delivery audit trail.
const (
	OutcomeDelivered       = "DELIVERED"
	OutcomeRetryScheduled  = "RETRY_SCHEDULED"
	OutcomeDeliveryFailure = "DELIVERY_FAILURE"
	OutcomeTargetGone      = "TARGET_GONE"
)

// Lifecycle applies delivery outcomes to notifications: the DELIVERED
// transition, the retry/backoff policy, and target deactivation on permanent
// failures. Handlers delegate to it so every channel shares one policy.
type Lifecycle struct {
	notifications repository.NotificationRepository
	targets       repository.TargetRepository
	attempts      repository.AttemptRepository
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

func NewLifecycle(
	notifications repository.NotificationRepository,
	targets repository.TargetRepository,
	attempts repository.AttemptRepository,
	logger *zap.Logger,
) (*Lifecycle, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if targets == nil {
		return nil, fmt.Errorf("target repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Lifecycle{
		notifications: notifications,
		targets:       targets,
		attempts:      attempts,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (l *Lifecycle) SetMetrics(metrics *observability.Metrics) {
	if l == nil {
		return
	}
	l.metrics = metrics
}

// Resolve maps a provider send result to the matching transition and applies
// it. It returns the human-readable outcome message the handler contract
// requires.
func (l *Lifecycle) Resolve(ctx context.Context, ch domain.Channel, n *domain.Notification, sendErr error) (string, error) {
	switch {
	case sendErr == nil:
		return l.delivered(ctx, ch, n)
	case provider.IsTargetGone(sendErr):
		return l.targetGone(ctx, ch, n, sendErr)
	default:
		return l.retryableFailure(ctx, ch, n, sendErr)
	}
}

func (l *Lifecycle) delivered(ctx context.Context, ch domain.Channel, n *domain.Notification) (string, error) {
	attemptedAt := l.now().UTC()
	updated, err := l.notifications.MarkDelivered(ctx, n.ID, attemptedAt)
	if err != nil {
		return "", fmt.Errorf("failed to mark notification delivered: %w", err)
	}
	if !updated {
		// The row moved elsewhere (opt-out cascade won the race). The send
		// happened; keep the audit row so the race is visible.
		l.logger.Warn("delivered notification was transitioned concurrently",
			zap.String("notificationId", n.ID),
		)
	}

	n.Status = domain.StatusDelivered
	n.AttemptedDelivery = &attemptedAt

	l.recordAttempt(ctx, n, n.RetryAttempts+1, OutcomeDelivered, "delivered", nil)
	l.metrics.IncNotificationDelivered(ch.Key())

	return fmt.Sprintf("%s notification delivered", ch.Key()), nil
}

func (l *Lifecycle) retryableFailure(ctx context.Context, ch domain.Channel, n *domain.Notification, sendErr error) (string, error) {
	attemptedAt := l.now().UTC()
	attemptNumber := n.RetryAttempts + 1

	if n.RetryAttempts < n.MaxRetries {
		interval := n.RetryTimeInterval
		if override := provider.RetryOverrideMinutes(sendErr); override > 0 {
			interval = override
		}
		nextDelivery := attemptedAt.Add(time.Duration(interval) * time.Minute)

		updated, err := l.notifications.MarkRetry(ctx, n.ID, attemptedAt, nextDelivery)
		if err != nil {
			return "", fmt.Errorf("failed to schedule retry: %w", err)
		}
		if updated {
			n.Status = domain.StatusRetry
			n.RetryAttempts++
			n.AttemptedDelivery = &attemptedAt
			n.ScheduledDelivery = nextDelivery
		}

		l.recordAttempt(ctx, n, attemptNumber, OutcomeRetryScheduled, sendErr.Error(), sendErr)
		l.metrics.IncRetryScheduled(ch.Key())

		return fmt.Sprintf("%s delivery failed, retry %d/%d scheduled for %s",
			ch.Key(), n.RetryAttempts, n.MaxRetries, nextDelivery.Format(time.RFC3339)), nil
	}

	updated, err := l.notifications.MarkDeliveryFailure(ctx, n.ID, attemptedAt)
	if err != nil {
		return "", fmt.Errorf("failed to mark delivery failure: %w", err)
	}
	if updated {
		n.Status = domain.StatusDeliveryFailure
		n.AttemptedDelivery = &attemptedAt
	}

	l.recordAttempt(ctx, n, attemptNumber, OutcomeDeliveryFailure, sendErr.Error(), sendErr)
	l.metrics.IncNotificationFailed(ch.Key(), "retries_exhausted")

	return fmt.Sprintf("%s delivery failed permanently after %d retries", ch.Key(), n.RetryAttempts), nil
}

func (l *Lifecycle) targetGone(ctx context.Context, ch domain.Channel, n *domain.Notification, sendErr error) (string, error) {
	// Deactivate the target record first; if the process dies before the
	// claim is released, the next pass still short-circuits the notification
	// to INACTIVE_DEVICE instead of re-sending to a dead address.
	if err := l.targets.Deactivate(ctx, n.TargetUserRecordID); err != nil {
		return "", fmt.Errorf("failed to deactivate target user record: %w", err)
	}

	// A queued row is invisible to the dispatch pass, so it is closed out
	// here; a due row is left as-is and the next pass observes the inactive
	// record and emits INACTIVE_DEVICE without a handler call.
	if n.Status == domain.StatusAsyncQueued {
		updated, err := l.notifications.MarkInactiveDevice(ctx, n.ID)
		if err != nil {
			return "", fmt.Errorf("failed to close out queued notification: %w", err)
		}
		if updated {
			n.Status = domain.StatusInactiveDevice
		}
		l.metrics.IncInactiveDevice(ch.Key())
	} else if err := l.notifications.ReleaseClaim(ctx, n.ID); err != nil {
		return "", fmt.Errorf("failed to release claim after target deactivation: %w", err)
	}

	l.recordAttempt(ctx, n, n.RetryAttempts+1, OutcomeTargetGone, sendErr.Error(), sendErr)
	l.metrics.IncNotificationFailed(ch.Key(), "target_gone")

	return fmt.Sprintf("%s target is permanently unreachable, record deactivated", ch.Key()), nil
}

// recordAttempt writes the audit row for a handler invocation. Audit failures
// are logged, not propagated: the status transition already happened and is
// the source of truth.
func (l *Lifecycle) recordAttempt(ctx context.Context, n *domain.Notification, attemptNumber int, outcome, message string, sendErr error) {
	var attemptErr *string
	if sendErr != nil {
		value := sendErr.Error()
		attemptErr = &value
	}

	attempt := &domain.DeliveryAttempt{
		ID:             uuid.NewString(),
		NotificationID: n.ID,
		AttemptNumber:  attemptNumber,
		Outcome:        outcome,
		Message:        message,
		Error:          attemptErr,
		CreatedAt:      l.now().UTC(),
	}

	if err := l.attempts.Create(ctx, attempt); err != nil {
		l.logger.Error("failed to record delivery attempt",
			zap.String("notificationId", n.ID),
			zap.Error(err),
		)
	}
}
