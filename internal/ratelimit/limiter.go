package ratelimit

import "context"

// RateLimiter bounds outbound provider calls per channel.
type RateLimiter interface {
	Allow(ctx context.Context, channel string) (bool, error)
	Wait(ctx context.Context, channel string) error
}

// Unlimited is a no-op limiter for tests and single-process setups.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }
func (Unlimited) Wait(context.Context, string) error          { return nil }
