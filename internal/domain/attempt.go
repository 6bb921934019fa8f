package domain

import "time"

// DeliveryAttempt records a single handler invocation for a notification,
// keeping the provider outcome for operational audit.
type DeliveryAttempt struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	NotificationID string  `gorm:"type:uuid;not null"`
	AttemptNumber  int     `gorm:"not null"`
	Outcome        string  `gorm:"type:varchar(30);not null"`
	Message        string  `gorm:"type:text"`
	Error          *string `gorm:"type:text"`
	CreatedAt      time.Time
}
