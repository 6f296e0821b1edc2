package ratelimit

import (
	"context"
	"time"
)

// CounterStore is the shared, atomic increment-with-expiry primitive every
// gateway instance talks to.
type CounterStore interface {
	// Incr increments key and returns the post-increment value. When the
	// increment creates the key, ttl is attached in the same atomic step.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns the current value of key, or zero if it does not exist.
	Get(ctx context.Context, key string) (int64, error)
	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
