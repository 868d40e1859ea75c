package ratelimit

import "context"

// RateLimiter bounds how many sends a single subscription may submit per second.
type RateLimiter interface {
	Allow(ctx context.Context, subscriptionID int) (bool, error)
}
