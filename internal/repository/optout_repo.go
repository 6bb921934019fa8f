package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"notification-engine/internal/domain"
)

type OptOutRepository interface {
	// Find returns the user's opt-out record, or domain.ErrNotFound when the
	// user never opted out. Absence means "not opted out".
	Find(ctx context.Context, userID string) (*domain.OptOut, error)
	IsOptedOut(ctx context.Context, userID string) (bool, error)
	// SetActive upserts the opt-out flag. Activating it transitions every
	// SCHEDULED or RETRY notification owned by the user to OPTED_OUT in the
	// same transaction; the returned count is the number of rows cascaded.
	SetActive(ctx context.Context, userID string, active bool) (*domain.OptOut, int64, error)
}

type GormOptOutRepo struct {
	db *gorm.DB
}

func NewGormOptOutRepo(db *gorm.DB) *GormOptOutRepo {
	return &GormOptOutRepo{db: db}
}

func (r *GormOptOutRepo) Find(ctx context.Context, userID string) (*domain.OptOut, error) {
	var model OptOutModel
	err := r.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return optOutModelToDomain(&model), nil
}

func (r *GormOptOutRepo) IsOptedOut(ctx context.Context, userID string) (bool, error) {
	optOut, err := r.Find(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return optOut.Active, nil
}

func (r *GormOptOutRepo) SetActive(ctx context.Context, userID string, active bool) (*domain.OptOut, int64, error) {
	if userID == "" {
		return nil, 0, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	model := OptOutModel{
		ID:     uuid.NewString(),
		UserID: userID,
		Active: active,
	}

	var cascaded int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"active", "updated_at"}),
		}).Create(&model).Error; err != nil {
			return err
		}

		if !active {
			return nil
		}

		// Cascade inside the same transaction as the flag write. Rows already
		// claimed by an in-flight dispatch pass are skipped: the claimant won
		// the race and its outcome stands.
		result := tx.Model(&NotificationModel{}).
			Where("status IN ? AND claimed_at IS NULL", dueStatuses).
			Where("target_user_record_id IN (SELECT id FROM target_user_records WHERE user_id = ?)", userID).
			Update("status", domain.StatusOptedOut)
		if result.Error != nil {
			return result.Error
		}
		cascaded = result.RowsAffected

		return tx.First(&model, "user_id = ?", userID).Error
	})
	if err != nil {
		return nil, 0, err
	}

	return optOutModelToDomain(&model), cascaded, nil
}
