package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWithExpiryScript increments KEYS[1] and sets its expiry (ARGV[1], ms)
// only when this call created the key.
const incrWithExpiryScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`

var incrWithExpiryLua = redis.NewScript(incrWithExpiryScript)

// RedisCounter is a CounterStore backed by Redis. It is safe to share one
// Redis deployment between any number of gateway processes.
type RedisCounter struct {
	redis redis.UniversalClient
}

// NewRedisCounter creates a [RedisCounter] over the given client.
func NewRedisCounter(client redis.UniversalClient) *RedisCounter {
	return &RedisCounter{redis: client}
}

// NewRedisCounterFromURL parses a redis:// or rediss:// URL and returns a
// counter together with the client so the caller can close it.
func NewRedisCounterFromURL(url string) (*RedisCounter, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return NewRedisCounter(client), client, nil
}

func (c *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ms := ttl.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	count, err := incrWithExpiryLua.Run(ctx, c.redis, []string{key}, ms).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCounterStoreUnavailable, err)
	}
	return count, nil
}

func (c *RedisCounter) Get(ctx context.Context, key string) (int64, error) {
	count, err := c.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrCounterStoreUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return count, nil
}

func (c *RedisCounter) Ping(ctx context.Context) error {
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCounterStoreUnavailable, err)
	}
	return nil
}
