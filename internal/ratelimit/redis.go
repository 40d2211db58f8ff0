package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amirk1998/login-gatekeeper/internal/logging"
)

// RedisLimiter is a fixed-window counter shared by every gatekeeper
// instance using the same Redis. Redis failures let the request through.
type RedisLimiter struct {
	client  redis.UniversalClient
	log     logging.Logger
	prefix  string
	limit   int
	window  time.Duration
	timeout time.Duration
}

func NewRedisLimiter(client redis.UniversalClient, limit int, window time.Duration, log logging.Logger) *RedisLimiter {
	if window <= 0 {
		window = time.Second
	}
	if log == nil {
		log = logging.Discard()
	}
	return &RedisLimiter{
		client:  client,
		log:     log,
		prefix:  "gatekeeper:ratelimit:",
		limit:   limit,
		window:  window,
		timeout: 250 * time.Millisecond,
	}
}

func (rl *RedisLimiter) Allow(ctx context.Context, key string) bool {
	if rl.limit <= 0 {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, rl.timeout)
	defer cancel()

	redisKey := rl.prefix + key
	counter, err := rl.client.Incr(ctx, redisKey).Result()
	if err != nil {
		rl.log.Error(ctx, "redis rate limiter error", "op", "incr", "error", err)
		return true
	}
	if counter == 1 {
		if err := rl.client.Expire(ctx, redisKey, rl.window).Err(); err != nil {
			rl.log.Error(ctx, "redis rate limiter error", "op", "expire", "error", err)
		}
	}

	return int(counter) <= rl.limit
}
