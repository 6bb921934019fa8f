package channel

import (
	"context"
	"fmt"
	"strings"

	"notification-engine/internal/domain"
	"notification-engine/internal/provider"
)

// SMSHandler delivers notifications to phone numbers. Title and body are
// folded into a single message since SMS has no subject line.
type SMSHandler struct {
	client    provider.SMSClient
	lifecycle *Lifecycle
}

func NewSMSHandler(client provider.SMSClient, lifecycle *Lifecycle) (*SMSHandler, error) {
	if client == nil {
		return nil, fmt.Errorf("sms client is required")
	}
	if lifecycle == nil {
		return nil, fmt.Errorf("lifecycle is required")
	}

	return &SMSHandler{client: client, lifecycle: lifecycle}, nil
}

func (h *SMSHandler) Send(ctx context.Context, n *domain.Notification) (string, error) {
	if n == nil || n.TargetUserRecord == nil {
		return "", fmt.Errorf("notification is missing its target user record")
	}

	msg := provider.SMSMessage{
		To:   n.TargetUserRecord.TargetUserID,
		Body: smsBody(n),
	}

	sendErr := h.client.Send(ctx, msg)

	return h.lifecycle.Resolve(ctx, domain.ChannelSMS, n, sendErr)
}

func smsBody(n *domain.Notification) string {
	body := strings.TrimSpace(n.Body)
	title := strings.TrimSpace(n.Title)
	if body == "" {
		return title
	}
	if title == "" {
		return body
	}
	return title + "\n" + body
}
