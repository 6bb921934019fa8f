package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	twilioAPIBase     = "https://api.twilio.com/2010-04-01"
	defaultSMSTimeout = 10 * time.Second
)

// Twilio error codes that identify a permanently undeliverable number.
var twilioTargetGoneCodes = map[int]bool{
	21211: true, // invalid 'To' number
	21610: true, // recipient unsubscribed
	21614: true, // not a mobile number
}

// SMSMessage is the payload an SMS send needs.
type SMSMessage struct {
	To   string
	Body string
}

// SMSClient is the outbound SMS delivery port.
type SMSClient interface {
	Send(ctx context.Context, msg SMSMessage) error
}

type twilioAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// TwilioSMSClient delivers SMS through the Twilio Messages API.
type TwilioSMSClient struct {
	client     *resty.Client
	accountSID string
	sender     string
}

func NewTwilioSMSClient(accountSID, authToken, sender string) (*TwilioSMSClient, error) {
	if strings.TrimSpace(accountSID) == "" || strings.TrimSpace(authToken) == "" {
		return nil, fmt.Errorf("twilio credentials are required")
	}
	if strings.TrimSpace(sender) == "" {
		return nil, fmt.Errorf("twilio sender number is required")
	}

	client := resty.New()
	client.SetTimeout(defaultSMSTimeout)
	client.SetRetryCount(0)
	client.SetBasicAuth(accountSID, authToken)
	client.SetBaseURL(twilioAPIBase)

	return &TwilioSMSClient{
		client:     client,
		accountSID: accountSID,
		sender:     sender,
	}, nil
}

func (c *TwilioSMSClient) Send(ctx context.Context, msg SMSMessage) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("sms client is not initialized")
	}
	if strings.TrimSpace(msg.To) == "" {
		return &ProviderError{Message: "recipient number is required"}
	}

	var apiErr twilioAPIError
	response, err := c.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"From": c.sender,
			"To":   msg.To,
			"Body": msg.Body,
		}).
		SetError(&apiErr).
		Post(fmt.Sprintf("/Accounts/%s/Messages.json", c.accountSID))
	if err != nil {
		return &ProviderError{
			Message:   "sms request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	if twilioTargetGoneCodes[apiErr.Code] {
		return &ProviderError{
			StatusCode: statusCode,
			Message:    apiErr.Message,
			TargetGone: true,
		}
	}

	return &ProviderError{
		StatusCode: statusCode,
		Message:    twilioErrorMessage(statusCode, apiErr),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func twilioErrorMessage(statusCode int, apiErr twilioAPIError) string {
	base := fmt.Sprintf("twilio returned status %d", statusCode)
	if apiErr.Message == "" {
		return base
	}
	return fmt.Sprintf("%s: code %d: %s", base, apiErr.Code, apiErr.Message)
}
