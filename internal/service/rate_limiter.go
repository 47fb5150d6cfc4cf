package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitWindow = time.Hour

// Counter is the increment-with-TTL surface the limiter counts against.
// Redis satisfies it through redisCounter.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, window time.Duration) error
}

type redisCounter struct {
	client *redis.Client
}

func (c redisCounter) Incr(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, key).Result()
}

func (c redisCounter) Expire(ctx context.Context, key string, window time.Duration) error {
	return c.client.Expire(ctx, key, window).Err()
}

// RateLimiter enforces the per-author request quota against a counter.
// When the counter is unavailable the limiter fails open: an infrastructure
// outage must not block legitimate traffic.
type RateLimiter struct {
	counter Counter // nil when no backing store is configured
	max     int
}

// NewRateLimiter wires the limiter to Redis. A nil client disables limiting.
func NewRateLimiter(client *redis.Client, maxPerHour int) *RateLimiter {
	var counter Counter
	if client != nil {
		counter = redisCounter{client: client}
	}
	return NewCountingRateLimiter(counter, maxPerHour)
}

// NewCountingRateLimiter builds the limiter on any Counter. A nil counter or
// non-positive quota disables limiting.
func NewCountingRateLimiter(counter Counter, maxPerHour int) *RateLimiter {
	return &RateLimiter{counter: counter, max: maxPerHour}
}

// Allow increments the author's hourly counter and reports whether the
// request is within quota.
func (l *RateLimiter) Allow(ctx context.Context, author string) bool {
	if l.max <= 0 || l.counter == nil {
		return true
	}

	key := fmt.Sprintf("ratelimit:github:%s", author)
	count, err := l.counter.Incr(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "rate limit counter unavailable, failing open",
			"error", err, "author", author)
		return true
	}

	if count == 1 {
		if err := l.counter.Expire(ctx, key, rateLimitWindow); err != nil {
			slog.WarnContext(ctx, "failed to set rate limit TTL", "error", err, "key", key)
		}
	}

	return count <= int64(l.max)
}
