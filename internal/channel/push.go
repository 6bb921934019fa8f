package channel

import (
	"context"
	"fmt"

	"notification-engine/internal/domain"
	"notification-engine/internal/provider"
)

// PushHandler delivers notifications to Expo push tokens. Delivery options
// ride in the notification extras and are coerced tolerantly: values of the
// wrong type fall back to the provider defaults rather than failing the send.
type PushHandler struct {
	client    provider.PushClient
	lifecycle *Lifecycle
}

func NewPushHandler(client provider.PushClient, lifecycle *Lifecycle) (*PushHandler, error) {
	if client == nil {
		return nil, fmt.Errorf("push client is required")
	}
	if lifecycle == nil {
		return nil, fmt.Errorf("lifecycle is required")
	}

	return &PushHandler{client: client, lifecycle: lifecycle}, nil
}

func (h *PushHandler) Send(ctx context.Context, n *domain.Notification) (string, error) {
	if n == nil || n.TargetUserRecord == nil {
		return "", fmt.Errorf("notification is missing its target user record")
	}

	msg := provider.PushMessage{
		To:    n.TargetUserRecord.TargetUserID,
		Title: n.Title,
		Body:  n.Body,
	}
	applyPushExtras(&msg, n.Extra)

	_, sendErr := h.client.Publish(ctx, msg)

	return h.lifecycle.Resolve(ctx, domain.ChannelPush, n, sendErr)
}

func applyPushExtras(msg *provider.PushMessage, extra domain.Extra) {
	if len(extra) == 0 {
		return
	}

	if data, ok := extra["data"].(map[string]any); ok {
		msg.Data = data
	}
	if sound, ok := extra["sound"].(string); ok {
		msg.Sound = sound
	}
	if ttl, ok := extraInt(extra["ttl"]); ok {
		msg.TTL = ttl
	}
	if expiration, ok := extraInt(extra["expiration"]); ok {
		msg.Expiration = expiration
	}
	if priority, ok := extra["priority"].(string); ok {
		msg.Priority = priority
	}
	if badge, ok := extraInt(extra["badge"]); ok {
		msg.Badge = &badge
	}
	if channelID, ok := extra["channelId"].(string); ok {
		msg.ChannelID = channelID
	}
}

// extraInt accepts the numeric shapes a JSON round trip can produce.
func extraInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
