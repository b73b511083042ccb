package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polysnap/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

const (
	minWaitPoll = 10 * time.Millisecond
	maxWaitPoll = time.Second
)

// RateLimiter implements domain.RateLimiter with a sliding window kept in a
// sorted set and updated by one atomic Lua script.
type RateLimiter struct {
	client        *Client
	slidingWindow *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		client:        c,
		slidingWindow: redis.NewScript(slidingWindowLua),
	}
}

// take runs the window script and returns whether the request was counted
// and, if not, how long until a slot frees up.
func (rl *RateLimiter) take(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	result, err := rl.slidingWindow.Run(
		ctx,
		rl.client.Underlying(),
		[]string{rl.client.key("ratelimit", key)},
		time.Now().UnixMicro(),
		window.Microseconds(),
		limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(result) < 2 {
		return false, 0, fmt.Errorf("redis: rate limit %s: unexpected result length %d", key, len(result))
	}
	return result[0] == 1, time.Duration(result[1]) * time.Microsecond, nil
}

// Allow reports whether a request for key fits in the window, counting it
// when it does.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	allowed, _, err := rl.take(ctx, key, limit, window)
	return allowed, err
}

// Wait blocks until a request for key is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	for {
		allowed, retry, err := rl.take(ctx, key, limit, window)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(min(max(retry, minWaitPoll), maxWaitPoll))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
