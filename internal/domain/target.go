package domain

import (
	"fmt"
	"strings"
	"time"
)

// NotificationTarget describes one delivery integration (email, push, sms).
// Created once per integration, rarely mutated, never deleted while
// referenced by target user records.
type NotificationTarget struct {
	ID         string  `gorm:"type:uuid;primaryKey"`
	Name       string  `gorm:"type:varchar(50);not null;unique"`
	ChannelKey Channel `gorm:"type:varchar(10);not null;unique"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (t *NotificationTarget) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: target name is required", ErrValidation)
	}
	if !t.ChannelKey.IsValid() {
		return fmt.Errorf("%w: invalid channel key %q", ErrValidation, t.ChannelKey)
	}
	return nil
}

// TargetUserRecord binds a user to their address on one target: an email
// address, a device push token, a phone number. The tuple
// (user, target, target_user_id) is unique. Records are deactivated, never
// hard-deleted, when a provider reports the address permanently invalid.
type TargetUserRecord struct {
	ID           string              `gorm:"type:uuid;primaryKey"`
	UserID       string              `gorm:"type:uuid;not null"`
	TargetID     string              `gorm:"type:uuid;not null"`
	Target       *NotificationTarget `gorm:"-"`
	TargetUserID string              `gorm:"type:varchar(200);not null"` // channel-specific address
	Description  string              `gorm:"type:varchar(200)"`
	Active       bool                `gorm:"not null;default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (r *TargetUserRecord) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user is required", ErrValidation)
	}
	if r.TargetID == "" {
		return fmt.Errorf("%w: target is required", ErrValidation)
	}
	if strings.TrimSpace(r.TargetUserID) == "" {
		return fmt.Errorf("%w: target user id is required", ErrValidation)
	}
	return nil
}
