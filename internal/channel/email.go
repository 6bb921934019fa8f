package channel

import (
	"context"
	"fmt"

	"notification-engine/internal/domain"
	"notification-engine/internal/provider"
)

// EmailHandler delivers notifications to email target user records. The
// notification body is expected to be a rendered HTML document; an optional
// "textBody" extra carries the plain-text alternative.
type EmailHandler struct {
	client    provider.EmailClient
	lifecycle *Lifecycle
}

func NewEmailHandler(client provider.EmailClient, lifecycle *Lifecycle) (*EmailHandler, error) {
	if client == nil {
		return nil, fmt.Errorf("email client is required")
	}
	if lifecycle == nil {
		return nil, fmt.Errorf("lifecycle is required")
	}

	return &EmailHandler{client: client, lifecycle: lifecycle}, nil
}

func (h *EmailHandler) Send(ctx context.Context, n *domain.Notification) (string, error) {
	if n == nil || n.TargetUserRecord == nil {
		return "", fmt.Errorf("notification is missing its target user record")
	}

	msg := provider.EmailMessage{
		To:       n.TargetUserRecord.TargetUserID,
		Subject:  n.Title,
		HTMLBody: n.Body,
	}
	if text, ok := n.Extra["textBody"].(string); ok {
		msg.TextBody = text
	}

	sendErr := h.client.Send(ctx, msg)

	return h.lifecycle.Resolve(ctx, domain.ChannelEmail, n, sendErr)
}
