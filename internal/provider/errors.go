package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ProviderError classifies a provider call failure. Transient failures are
// retried by the lifecycle policy; TargetGone failures mean the address or
// device token is permanently invalid and the owning target user record must
// be deactivated.
type ProviderError struct {
	StatusCode int
	Message    string
	Transient  bool
	TargetGone bool
	// RetryAfterMinutes overrides the notification's own retry interval when
	// set, e.g. transport-level failures back off longer than application
	// errors.
	RetryAfterMinutes int
	Cause             error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "provider error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether an error should go through the retry policy.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// IsTargetGone reports whether the provider confirmed the address or token is
// permanently invalid.
func IsTargetGone(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr) && providerErr.TargetGone
}

// RetryOverrideMinutes returns the failure-supplied retry interval override,
// or 0 when the notification's own interval applies.
func RetryOverrideMinutes(err error) int {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.RetryAfterMinutes
	}
	return 0
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == 429 || (statusCode >= 500 && statusCode <= 599)
}
