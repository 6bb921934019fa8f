package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/mrz1836/postmark"
)

// Postmark API error codes that identify a permanently bad address.
const (
	postmarkErrInvalidEmail      = 300
	postmarkErrInactiveRecipient = 406
)

// transportRetryMinutes is the retry override for transport-level send
// failures. They are rare and sporadic but usually resolve quickly, so they
// get a fixed delay instead of the notification's own interval.
const transportRetryMinutes = 90

// EmailMessage is the payload an email send needs.
type EmailMessage struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// EmailClient is the outbound email delivery port.
type EmailClient interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// PostmarkEmailClient delivers email through the Postmark transactional API.
type PostmarkEmailClient struct {
	client *postmark.Client
	from   string
}

func NewPostmarkEmailClient(serverToken, accountToken, from string) (*PostmarkEmailClient, error) {
	if strings.TrimSpace(serverToken) == "" {
		return nil, fmt.Errorf("postmark server token is required")
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("sender email is required")
	}

	return &PostmarkEmailClient{
		client: postmark.NewClient(serverToken, accountToken),
		from:   from,
	}, nil
}

func (c *PostmarkEmailClient) Send(ctx context.Context, msg EmailMessage) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("email client is not initialized")
	}

	resp, err := c.client.SendEmail(ctx, postmark.Email{
		From:     c.from,
		To:       msg.To,
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
		TextBody: msg.TextBody,
	})
	if err != nil {
		return &ProviderError{
			Message:           "email request failed",
			Transient:         true,
			RetryAfterMinutes: transportRetryMinutes,
			Cause:             err,
		}
	}

	switch resp.ErrorCode {
	case 0:
		return nil
	case postmarkErrInvalidEmail, postmarkErrInactiveRecipient:
		return &ProviderError{
			StatusCode: int(resp.ErrorCode),
			Message:    resp.Message,
			TargetGone: true,
		}
	default:
		// Quota and server-side errors are expected to clear up; retry at the
		// notification's own interval.
		return &ProviderError{
			StatusCode: int(resp.ErrorCode),
			Message:    resp.Message,
			Transient:  true,
		}
	}
}
