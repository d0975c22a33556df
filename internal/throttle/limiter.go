// Package throttle implements a fixed-window request limiter shared
// through Redis, so every replica counts against the same budget.
package throttle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
	Hits       int64
}

// Limiter is satisfied by RedisLimiter and by test doubles.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

type RedisLimiter struct {
	client *redis.Client
	prefix string
	max    int64
	window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		max:    int64(max),
		window: window,
		now:    time.Now,
	}
}

func (l *RedisLimiter) windowKey(key string, at time.Time) string {
	start := at.UTC().Truncate(l.window)
	return fmt.Sprintf("%s%s:%d", l.prefix, strings.ReplaceAll(key, " ", "_"), start.Unix())
}

// Allow counts one hit for key in the current window (INCR + EXPIRE).
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	redisKey := l.windowKey(key, l.now())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit %s: %w", key, err)
	}

	window := ttl.Val()
	// set expiry on first hit
	if incr.Val() == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return Result{}, fmt.Errorf("rate limit expire %s: %w", key, err)
		}
		window = l.window
	}

	return l.result(incr.Val(), window), nil
}

func (l *RedisLimiter) result(hits int64, ttl time.Duration) Result {
	res := Result{
		Allowed:   hits <= l.max,
		Remaining: max(l.max-hits, 0),
		Hits:      hits,
	}
	if !res.Allowed {
		res.RetryAfter = ttl
		if res.RetryAfter <= 0 {
			res.RetryAfter = l.window
		}
	}
	return res
}
