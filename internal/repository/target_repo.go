package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"notification-engine/internal/domain"
)

type TargetRepository interface {
	GetTargetByChannel(ctx context.Context, channel domain.Channel) (*domain.NotificationTarget, error)
	// EnsureTarget creates the target descriptor if it does not exist yet.
	// Safe to call on every startup.
	EnsureTarget(ctx context.Context, t *domain.NotificationTarget) error
	// ActiveRecords returns the user's active delivery records on a channel.
	ActiveRecords(ctx context.Context, userID string, channel domain.Channel) ([]domain.TargetUserRecord, error)
	// Deactivate flips a record to inactive. Records are never hard-deleted.
	Deactivate(ctx context.Context, recordID string) error
	// ResetEmailRecord deactivates every email record the user has and
	// creates or reactivates the one for the given address, atomically.
	ResetEmailRecord(ctx context.Context, userID, email, description string) (*domain.TargetUserRecord, error)
}

type GormTargetRepo struct {
	db *gorm.DB
}

func NewGormTargetRepo(db *gorm.DB) *GormTargetRepo {
	return &GormTargetRepo{db: db}
}

func (r *GormTargetRepo) GetTargetByChannel(ctx context.Context, channel domain.Channel) (*domain.NotificationTarget, error) {
	var model TargetModel
	err := r.db.WithContext(ctx).First(&model, "channel_key = ?", channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return targetModelToDomain(&model), nil
}

func (r *GormTargetRepo) EnsureTarget(ctx context.Context, t *domain.NotificationTarget) error {
	if t == nil {
		return fmt.Errorf("%w: target is required", domain.ErrValidation)
	}
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	model := targetModelFromDomain(t)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel_key"}},
			DoNothing: true,
		}).
		Create(model).Error
	if err != nil {
		return err
	}

	// Re-read so callers get the persisted id when the row already existed.
	existing, err := r.GetTargetByChannel(ctx, t.ChannelKey)
	if err != nil {
		return err
	}
	*t = *existing
	return nil
}

func (r *GormTargetRepo) ActiveRecords(ctx context.Context, userID string, channel domain.Channel) ([]domain.TargetUserRecord, error) {
	var models []TargetUserRecordModel
	err := r.db.WithContext(ctx).
		Preload("Target").
		Joins("JOIN notification_targets t ON t.id = target_user_records.target_id").
		Where("target_user_records.user_id = ? AND t.channel_key = ? AND target_user_records.active", userID, channel).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.TargetUserRecord, 0, len(models))
	for i := range models {
		records = append(records, *targetUserRecordModelToDomain(&models[i]))
	}

	return records, nil
}

func (r *GormTargetRepo) Deactivate(ctx context.Context, recordID string) error {
	result := r.db.WithContext(ctx).
		Model(&TargetUserRecordModel{}).
		Where("id = ?", recordID).
		Update("active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormTargetRepo) ResetEmailRecord(ctx context.Context, userID, email, description string) (*domain.TargetUserRecord, error) {
	email = strings.TrimSpace(email)
	if userID == "" || email == "" {
		return nil, fmt.Errorf("%w: user id and email are required", domain.ErrValidation)
	}

	var record TargetUserRecordModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target TargetModel
		if err := tx.First(&target, "channel_key = ?", domain.ChannelEmail).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}

		if err := tx.Model(&TargetUserRecordModel{}).
			Where("user_id = ? AND target_id = ?", userID, target.ID).
			Update("active", false).Error; err != nil {
			return err
		}

		record = TargetUserRecordModel{
			ID:           uuid.NewString(),
			UserID:       userID,
			TargetID:     target.ID,
			TargetUserID: email,
			Description:  description,
			Active:       true,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"},
				{Name: "target_id"},
				{Name: "target_user_id"},
			},
			DoUpdates: clause.Assignments(map[string]any{
				"active":      true,
				"description": description,
				"updated_at":  time.Now().UTC(),
			}),
		}).Create(&record).Error; err != nil {
			return err
		}

		// The upsert may have revived an existing row; read back its identity.
		return tx.First(&record, "user_id = ? AND target_id = ? AND target_user_id = ?",
			userID, target.ID, email).Error
	})
	if err != nil {
		return nil, err
	}

	return targetUserRecordModelToDomain(&record), nil
}
