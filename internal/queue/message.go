package queue

import (
	"fmt"
	"strings"

	"notification-engine/internal/domain"
)

// DispatchMessage is the broker payload for an asynchronous delivery hand-off.
// The dispatcher enqueues it after moving the notification to ASYNC_QUEUED;
// workers load the row by id and run the channel handler.
type DispatchMessage struct {
	NotificationID string         `json:"notificationId"`
	Channel        domain.Channel `json:"channel"`
	PassID         string         `json:"passId,omitempty"`
}

func (m DispatchMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if !m.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	return nil
}
