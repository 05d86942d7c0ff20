package ratelimit

import "context"

// RateLimiter paces queued request replays per target host, so a flush pass
// cannot hammer the API right after a reconnect.
type RateLimiter interface {
	Allow(ctx context.Context, host string) (bool, error)
	Wait(ctx context.Context, host string) error
}
