package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSingleFlightStore backs the job lock and result cache with Redis. All
// operations are single atomic commands so peers on other hosts agree.
type RedisSingleFlightStore struct {
	client redis.Cmdable
}

func NewRedisSingleFlightStore(client redis.Cmdable) *RedisSingleFlightStore {
	return &RedisSingleFlightStore{client: client}
}

// Acquire sets key to token only if key is absent (SET NX PX).
func (s *RedisSingleFlightStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// ReleaseIfOwned deletes key when it still stores token. A lock that expired
// and was taken by another job is left alone.
func (s *RedisSingleFlightStore) ReleaseIfOwned(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}

func (s *RedisSingleFlightStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, true, nil
}

func (s *RedisSingleFlightStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
