package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusScheduled       Status = "SCHEDULED"
	StatusRetry           Status = "RETRY"
	StatusDelivered       Status = "DELIVERED"
	StatusDeliveryFailure Status = "DELIVERY_FAILURE"
	StatusInactiveDevice  Status = "INACTIVE_DEVICE"
	StatusOptedOut        Status = "OPTED_OUT"
	StatusAsyncQueued     Status = "ASYNC_QUEUED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusScheduled, StatusRetry, StatusDelivered, StatusDeliveryFailure,
		StatusInactiveDevice, StatusOptedOut, StatusAsyncQueued:
		return true
	}
	return false
}

// IsDue reports whether the dispatch loop should consider this status.
func (s Status) IsDue() bool {
	return s == StatusScheduled || s == StatusRetry
}

// IsTerminal reports whether the dispatch loop will never touch this status again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusDeliveryFailure, StatusInactiveDevice, StatusOptedOut:
		return true
	}
	return false
}

// AllowsNilAttempt reports whether attempted_delivery may be null for this
// status. A scheduled or opted-out notification has never been attempted; an
// inactive-device short-circuit and an async hand-off skip the handler
// entirely, so no attempt timestamp exists for them either.
func (s Status) AllowsNilAttempt() bool {
	switch s {
	case StatusScheduled, StatusOptedOut, StatusInactiveDevice, StatusAsyncQueued:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Channel represents the delivery channel and doubles as the handler lookup key.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelPush  Channel = "PUSH"
	ChannelSMS   Channel = "SMS"
)

func (c Channel) String() string { return string(c) }

// Key is the lowercase registry key, e.g. "email".
func (c Channel) Key() string { return strings.ToLower(string(c)) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelPush, ChannelSMS:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Channels lists every supported delivery channel.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelPush, ChannelSMS}
}

// Extra is the opaque channel-specific payload attached to a notification.
// It persists as jsonb; a nil map persists as {} so the idempotency unique
// index treats "no extra" consistently.
type Extra map[string]any

func (e Extra) Value() (driver.Value, error) {
	if e == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extra payload: %w", err)
	}
	return string(raw), nil
}

func (e *Extra) Scan(value any) error {
	if value == nil {
		*e = Extra{}
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported extra column type %T", value)
	}

	if len(raw) == 0 {
		*e = Extra{}
		return nil
	}
	return json.Unmarshal(raw, e)
}

// MaxTitleLength bounds notification titles (email subject, push title).
const MaxTitleLength = 100

// Notification is the unit of work: one message destined for one delivery
// target record, with status and retry bookkeeping. The tuple
// (target_user_record, scheduled_delivery, title, extra) is unique and acts
// as the idempotency key for creators.
type Notification struct {
	ID                 string            `gorm:"type:uuid;primaryKey"`
	TargetUserRecordID string            `gorm:"type:uuid;not null"`
	TargetUserRecord   *TargetUserRecord `gorm:"-"`
	Title              string            `gorm:"type:varchar(100);not null"`
	Body               string            `gorm:"type:text;not null"`
	Extra              Extra             `gorm:"type:jsonb;not null;default:'{}'"`
	Status             Status            `gorm:"type:varchar(20);not null"`
	ScheduledDelivery  time.Time         `gorm:"not null"`
	AttemptedDelivery  *time.Time
	RetryTimeInterval  int `gorm:"not null;default:0"` // minutes to wait before a retry
	RetryAttempts      int `gorm:"not null;default:0"`
	MaxRetries         int `gorm:"not null;default:3"`
	ClaimedAt          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (n *Notification) Validate() error {
	if n.TargetUserRecordID == "" {
		return fmt.Errorf("%w: target user record is required", ErrValidation)
	}
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if titleLen := len([]rune(n.Title)); titleLen > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters (got %d)", ErrValidation, MaxTitleLength, titleLen)
	}
	if strings.TrimSpace(n.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if !n.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, n.Status)
	}
	if n.ScheduledDelivery.IsZero() {
		return fmt.Errorf("%w: scheduled delivery is required", ErrValidation)
	}

	if n.AttemptedDelivery != nil && n.Status == StatusScheduled {
		return fmt.Errorf("%w: status cannot be %s once delivery has been attempted", ErrValidation, StatusScheduled)
	}
	if n.AttemptedDelivery == nil && !n.Status.AllowsNilAttempt() {
		return fmt.Errorf("%w: attempted delivery must be set when status is %s", ErrValidation, n.Status)
	}

	if n.RetryTimeInterval < 0 {
		return fmt.Errorf("%w: retry time interval cannot be negative", ErrValidation)
	}
	if n.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries cannot be negative", ErrValidation)
	}
	if n.RetryAttempts > n.MaxRetries {
		return fmt.Errorf("%w: retry attempts %d exceed max retries %d", ErrValidation, n.RetryAttempts, n.MaxRetries)
	}

	return nil
}
