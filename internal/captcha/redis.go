package captcha

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "gatekeeper:captcha:"

// RedisStore keeps challenges in Redis so several gatekeeper instances can
// share them. Expiry is delegated to the key TTL.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, sessionID, answer string) error {
	if err := s.client.Set(ctx, redisKeyPrefix+sessionID, answer, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Consume reads and deletes the answer in a single GETDEL.
func (s *RedisStore) Consume(ctx context.Context, sessionID, candidate string) (Result, error) {
	answer, err := s.client.GetDel(ctx, redisKeyPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return NoChallenge, nil
	}
	if err != nil {
		return NoChallenge, fmt.Errorf("redis getdel: %w", err)
	}

	return compare(answer, candidate), nil
}
