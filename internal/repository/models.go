package repository

import (
	"time"

	"notification-engine/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID                 string `gorm:"type:uuid;primaryKey"`
	TargetUserRecordID string `gorm:"type:uuid;not null;index"`
	TargetUserRecord   *TargetUserRecordModel
	Title              string         `gorm:"type:varchar(100);not null"`
	Body               string         `gorm:"type:text;not null"`
	Extra              domain.Extra   `gorm:"type:jsonb;not null;default:'{}'"`
	Status             domain.Status  `gorm:"type:varchar(20);not null"`
	ScheduledDelivery  time.Time      `gorm:"not null"`
	AttemptedDelivery  *time.Time
	RetryTimeInterval  int `gorm:"not null;default:0"`
	RetryAttempts      int `gorm:"not null;default:0"`
	MaxRetries         int `gorm:"not null;default:3"`
	ClaimedAt          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// TargetModel is the persistence model for notification_targets.
type TargetModel struct {
	ID         string         `gorm:"type:uuid;primaryKey"`
	Name       string         `gorm:"type:varchar(50);not null;unique"`
	ChannelKey domain.Channel `gorm:"type:varchar(10);not null;unique"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (TargetModel) TableName() string {
	return "notification_targets"
}

// TargetUserRecordModel is the persistence model for target_user_records.
type TargetUserRecordModel struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	UserID       string `gorm:"type:uuid;not null;index"`
	TargetID     string `gorm:"type:uuid;not null"`
	Target       *TargetModel
	TargetUserID string `gorm:"type:varchar(200);not null"`
	Description  string `gorm:"type:varchar(200)"`
	Active       bool   `gorm:"not null;default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (TargetUserRecordModel) TableName() string {
	return "target_user_records"
}

// OptOutModel is the persistence model for opt_outs.
type OptOutModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	UserID    string `gorm:"type:uuid;not null;unique"`
	Active    bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (OptOutModel) TableName() string {
	return "opt_outs"
}

// DeliveryAttemptModel is the persistence model for delivery_attempts.
type DeliveryAttemptModel struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	NotificationID string  `gorm:"type:uuid;not null;index"`
	AttemptNumber  int     `gorm:"not null"`
	Outcome        string  `gorm:"type:varchar(30);not null"`
	Message        string  `gorm:"type:text"`
	Error          *string `gorm:"type:text"`
	CreatedAt      time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	extra := n.Extra
	if extra == nil {
		extra = domain.Extra{}
	}

	return &NotificationModel{
		ID:                 n.ID,
		TargetUserRecordID: n.TargetUserRecordID,
		Title:              n.Title,
		Body:               n.Body,
		Extra:              extra,
		Status:             n.Status,
		ScheduledDelivery:  n.ScheduledDelivery,
		AttemptedDelivery:  n.AttemptedDelivery,
		RetryTimeInterval:  n.RetryTimeInterval,
		RetryAttempts:      n.RetryAttempts,
		MaxRetries:         n.MaxRetries,
		ClaimedAt:          n.ClaimedAt,
		CreatedAt:          n.CreatedAt,
		UpdatedAt:          n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:                 m.ID,
		TargetUserRecordID: m.TargetUserRecordID,
		TargetUserRecord:   targetUserRecordModelToDomain(m.TargetUserRecord),
		Title:              m.Title,
		Body:               m.Body,
		Extra:              m.Extra,
		Status:             m.Status,
		ScheduledDelivery:  m.ScheduledDelivery,
		AttemptedDelivery:  m.AttemptedDelivery,
		RetryTimeInterval:  m.RetryTimeInterval,
		RetryAttempts:      m.RetryAttempts,
		MaxRetries:         m.MaxRetries,
		ClaimedAt:          m.ClaimedAt,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func targetModelFromDomain(t *domain.NotificationTarget) *TargetModel {
	if t == nil {
		return nil
	}

	return &TargetModel{
		ID:         t.ID,
		Name:       t.Name,
		ChannelKey: t.ChannelKey,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

func targetModelToDomain(m *TargetModel) *domain.NotificationTarget {
	if m == nil {
		return nil
	}

	return &domain.NotificationTarget{
		ID:         m.ID,
		Name:       m.Name,
		ChannelKey: m.ChannelKey,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func targetUserRecordModelFromDomain(r *domain.TargetUserRecord) *TargetUserRecordModel {
	if r == nil {
		return nil
	}

	return &TargetUserRecordModel{
		ID:           r.ID,
		UserID:       r.UserID,
		TargetID:     r.TargetID,
		TargetUserID: r.TargetUserID,
		Description:  r.Description,
		Active:       r.Active,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func targetUserRecordModelToDomain(m *TargetUserRecordModel) *domain.TargetUserRecord {
	if m == nil {
		return nil
	}

	return &domain.TargetUserRecord{
		ID:           m.ID,
		UserID:       m.UserID,
		TargetID:     m.TargetID,
		Target:       targetModelToDomain(m.Target),
		TargetUserID: m.TargetUserID,
		Description:  m.Description,
		Active:       m.Active,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func optOutModelToDomain(m *OptOutModel) *domain.OptOut {
	if m == nil {
		return nil
	}

	return &domain.OptOut{
		ID:        m.ID,
		UserID:    m.UserID,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:             a.ID,
		NotificationID: a.NotificationID,
		AttemptNumber:  a.AttemptNumber,
		Outcome:        a.Outcome,
		Message:        a.Message,
		Error:          a.Error,
		CreatedAt:      a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		AttemptNumber:  m.AttemptNumber,
		Outcome:        m.Outcome,
		Message:        m.Message,
		Error:          m.Error,
		CreatedAt:      m.CreatedAt,
	}
}
