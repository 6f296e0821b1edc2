package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounter is an in-process CounterStore for single-instance
// deployments and tests. Each instance is independent; it must be injected,
// never shared through a package variable.
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryCounter creates an empty [MemoryCounter] using the wall clock.
func NewMemoryCounter() *MemoryCounter {
	return NewMemoryCounterWithClock(time.Now)
}

// NewMemoryCounterWithClock creates a [MemoryCounter] whose expiry checks use now.
func NewMemoryCounterWithClock(now func() time.Time) *MemoryCounter {
	return &MemoryCounter{
		entries: make(map[string]*memoryEntry),
		now:     now,
	}
}

func (c *MemoryCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		e = &memoryEntry{expiresAt: now.Add(ttl)}
		c.entries[key] = e
	}
	e.count++
	return e.count, nil
}

func (c *MemoryCounter) Get(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		return 0, nil
	}
	return e.count, nil
}

func (c *MemoryCounter) Ping(context.Context) error { return nil }

// Sweep removes entries whose TTL has elapsed and returns how many were removed.
func (c *MemoryCounter) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// StartSweeper evicts expired entries every interval until ctx is cancelled.
func (c *MemoryCounter) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				c.Sweep(now)
			}
		}
	}()
}

// Len returns the number of tracked counters, expired or not.
func (c *MemoryCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
