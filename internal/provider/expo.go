package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultExpoPushURL is Expo's push gateway endpoint.
	DefaultExpoPushURL = "https://exp.host/--/api/v2/push/send"

	defaultPushTimeout = 10 * time.Second

	// expoDeviceNotRegistered is the details.error value Expo returns when a
	// push token is no longer valid.
	expoDeviceNotRegistered = "DeviceNotRegistered"
)

// PushMessage mirrors the options Expo accepts. Zero values are omitted from
// the request, which is Expo's neutral default for each option.
type PushMessage struct {
	To         string         `json:"to"`
	Title      string         `json:"title,omitempty"`
	Body       string         `json:"body,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Sound      string         `json:"sound,omitempty"`
	TTL        int            `json:"ttl,omitempty"`
	Expiration int            `json:"expiration,omitempty"`
	Priority   string         `json:"priority,omitempty"`
	Badge      *int           `json:"badge,omitempty"`
	ChannelID  string         `json:"channelId,omitempty"`
}

// PushReceipt is the per-message ticket Expo returns.
type PushReceipt struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// PushClient is the outbound push delivery port.
type PushClient interface {
	Publish(ctx context.Context, msg PushMessage) (*PushReceipt, error)
}

type expoPushResponse struct {
	Data []struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Message string `json:"message"`
		Details struct {
			Error string `json:"error"`
		} `json:"details"`
	} `json:"data"`
}

// ExpoPushClient delivers push notifications through Expo's HTTP gateway.
type ExpoPushClient struct {
	client   *resty.Client
	endpoint string
}

func NewExpoPushClient(endpoint, accessToken string) (*ExpoPushClient, error) {
	client := resty.New()
	client.SetTimeout(defaultPushTimeout)
	client.SetRetryCount(0)
	if strings.TrimSpace(accessToken) != "" {
		client.SetAuthToken(accessToken)
	}

	return NewExpoPushClientWithClient(endpoint, client)
}

func NewExpoPushClientWithClient(endpoint string, client *resty.Client) (*ExpoPushClient, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		trimmedEndpoint = DefaultExpoPushURL
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid expo push endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultPushTimeout)
	}
	client.SetRetryCount(0)

	return &ExpoPushClient{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (c *ExpoPushClient) Publish(ctx context.Context, msg PushMessage) (*PushReceipt, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("push client is not initialized")
	}
	if strings.TrimSpace(msg.To) == "" {
		return nil, &ProviderError{Message: "push token is required"}
	}

	var parsed expoPushResponse
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(msg).
		SetResult(&parsed).
		Post(c.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "push request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode < 200 || statusCode >= 300 {
		return nil, &ProviderError{
			StatusCode: statusCode,
			Message:    fmt.Sprintf("expo returned status %d", statusCode),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	if len(parsed.Data) == 0 {
		return nil, &ProviderError{
			StatusCode: statusCode,
			Message:    "expo returned no push tickets",
			Transient:  true,
		}
	}

	ticket := parsed.Data[0]
	if ticket.Status == "error" {
		if ticket.Details.Error == expoDeviceNotRegistered {
			return nil, &ProviderError{
				StatusCode: statusCode,
				Message:    ticket.Message,
				TargetGone: true,
			}
		}
		return nil, &ProviderError{
			StatusCode: statusCode,
			Message:    ticket.Message,
			Transient:  true,
		}
	}

	return &PushReceipt{ID: ticket.ID, Status: ticket.Status}, nil
}
