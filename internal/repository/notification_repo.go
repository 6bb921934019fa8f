package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"notification-engine/internal/domain"
)

// notOptedOutCondition excludes notifications whose user has an active opt-out.
// The opt-out cascade should already have transitioned such rows; the condition
// guards against ordering races regardless.
const notOptedOutCondition = `NOT EXISTS (
	SELECT 1 FROM opt_outs o
	JOIN target_user_records r ON r.user_id = o.user_id
	WHERE r.id = notifications.target_user_record_id AND o.active
)`

const optedOutByRecordQuery = `SELECT EXISTS (
	SELECT 1 FROM opt_outs o
	JOIN target_user_records r ON r.user_id = o.user_id
	WHERE r.id = ? AND o.active
)`

var dueStatuses = []domain.Status{domain.StatusScheduled, domain.StatusRetry}

// processableStatuses are the pre-states an outcome transition may move from:
// the due pair plus the async hand-off state consumed by out-of-process workers.
var processableStatuses = []domain.Status{
	domain.StatusScheduled,
	domain.StatusRetry,
	domain.StatusAsyncQueued,
}

type NotificationRepository interface {
	// GetOrCreate creates n unless a row with the same idempotency key
	// (target_user_record, scheduled_delivery, title, extra) already exists.
	// It reports whether a row was newly created.
	GetOrCreate(ctx context.Context, n *domain.Notification) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	// ListDue returns SCHEDULED/RETRY notifications whose scheduled delivery
	// is at or before now, excluding opted-out users and rows claimed since
	// staleBefore, with the owning target user record and target hydrated.
	ListDue(ctx context.Context, now time.Time, staleBefore time.Time, limit int) ([]domain.Notification, error)
	// Claim atomically marks a due notification as owned by the calling pass.
	// A claim held since before staleBefore is considered abandoned and may be
	// taken over. Reports whether the claim succeeded.
	Claim(ctx context.Context, id string, now time.Time, staleBefore time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, id string) error

	MarkDelivered(ctx context.Context, id string, attemptedAt time.Time) (bool, error)
	// MarkRetry increments retry_attempts and pushes scheduled_delivery to
	// nextDelivery in one conditional write.
	MarkRetry(ctx context.Context, id string, attemptedAt, nextDelivery time.Time) (bool, error)
	MarkDeliveryFailure(ctx context.Context, id string, attemptedAt time.Time) (bool, error)
	MarkInactiveDevice(ctx context.Context, id string) (bool, error)
	MarkAsyncQueued(ctx context.Context, id string) (bool, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) GetOrCreate(ctx context.Context, n *domain.Notification) (bool, error) {
	if n == nil {
		return false, fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}
	if err := n.Validate(); err != nil {
		return false, err
	}

	// Writes for opted-out users are rejected outright; the creators check the
	// gate first, so hitting this means a contract violation upstream.
	var optedOut bool
	if err := r.db.WithContext(ctx).Raw(optedOutByRecordQuery, n.TargetUserRecordID).Scan(&optedOut).Error; err != nil {
		return false, fmt.Errorf("failed to check opt-out state: %w", err)
	}
	if optedOut {
		return false, fmt.Errorf("%w: cannot write notification for an opted-out user", domain.ErrValidation)
	}

	model := notificationModelFromDomain(n)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "target_user_record_id"},
				{Name: "scheduled_delivery"},
				{Name: "title"},
				{Name: "extra"},
			},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		return false, result.Error
	}

	*n = *notificationModelToDomain(model)
	return result.RowsAffected > 0, nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).
		Preload("TargetUserRecord").
		Preload("TargetUserRecord.Target").
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) ListDue(ctx context.Context, now time.Time, staleBefore time.Time, limit int) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Preload("TargetUserRecord").
		Preload("TargetUserRecord.Target").
		Where("status IN ?", dueStatuses).
		Where("scheduled_delivery <= ?", now).
		Where("claimed_at IS NULL OR claimed_at < ?", staleBefore).
		Where(notOptedOutCondition).
		Order("scheduled_delivery ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, nil
}

func (r *GormNotificationRepo) Claim(ctx context.Context, id string, now time.Time, staleBefore time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status IN ? AND (claimed_at IS NULL OR claimed_at < ?)", id, dueStatuses, staleBefore).
		Update("claimed_at", now)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormNotificationRepo) ReleaseClaim(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Update("claimed_at", nil).Error
}

func (r *GormNotificationRepo) MarkDelivered(ctx context.Context, id string, attemptedAt time.Time) (bool, error) {
	return r.transition(ctx, id, map[string]any{
		"status":             domain.StatusDelivered,
		"attempted_delivery": attemptedAt,
		"claimed_at":         nil,
	})
}

func (r *GormNotificationRepo) MarkRetry(ctx context.Context, id string, attemptedAt, nextDelivery time.Time) (bool, error) {
	return r.transition(ctx, id, map[string]any{
		"status":             domain.StatusRetry,
		"attempted_delivery": attemptedAt,
		"scheduled_delivery": nextDelivery,
		"retry_attempts":     gorm.Expr("retry_attempts + 1"),
		"claimed_at":         nil,
	})
}

func (r *GormNotificationRepo) MarkDeliveryFailure(ctx context.Context, id string, attemptedAt time.Time) (bool, error) {
	return r.transition(ctx, id, map[string]any{
		"status":             domain.StatusDeliveryFailure,
		"attempted_delivery": attemptedAt,
		"claimed_at":         nil,
	})
}

func (r *GormNotificationRepo) MarkInactiveDevice(ctx context.Context, id string) (bool, error) {
	// No handler ran, so attempted_delivery stays null.
	return r.transition(ctx, id, map[string]any{
		"status":     domain.StatusInactiveDevice,
		"claimed_at": nil,
	})
}

func (r *GormNotificationRepo) MarkAsyncQueued(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, id, map[string]any{
		"status": domain.StatusAsyncQueued,
	})
}

// transition applies a conditional status write. The status guard means a row
// already moved elsewhere (opt-out cascade, concurrent pass) is left alone,
// which the caller observes as updated == false.
func (r *GormNotificationRepo) transition(ctx context.Context, id string, updates map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status IN ?", id, processableStatuses).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
