package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/keygate/keygate/internal/model"
)

// Config holds the system defaults applied to keys without their own limits.
type Config struct {
	DefaultLimit  int
	DefaultWindow time.Duration
	// Timeout bounds each counter store call; zero means no extra deadline.
	Timeout time.Duration
}

// DefaultConfig returns 60 requests per 60 seconds with a 500ms store timeout.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:  60,
		DefaultWindow: time.Minute,
		Timeout:       500 * time.Millisecond,
	}
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is set only when Allowed is false.
	RetryAfter time.Duration
	// Degraded reports that the counter store could not be consulted and
	// the decision failed open.
	Degraded bool
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	secs := d.RetryAfter / time.Second
	if d.RetryAfter%time.Second != 0 {
		secs++
	}
	return int(secs)
}

// Status converts the decision into its client-visible form.
func (d Decision) Status(keyID, endpoint string) model.RateLimitStatus {
	return model.RateLimitStatus{
		APIKeyID:   keyID,
		Endpoint:   endpoint,
		Limit:      d.Limit,
		Remaining:  d.Remaining,
		Reset:      d.ResetAt.Unix(),
		RetryAfter: d.RetryAfterSeconds(),
		Degraded:   d.Degraded,
	}
}

// Limiter enforces per-key, per-endpoint fixed-window limits.
type Limiter struct {
	store  CounterStore
	cfg    Config
	logger *slog.Logger
}

// New creates a [Limiter] over store. Non-positive defaults fall back to
// [DefaultConfig].
func New(store CounterStore, cfg Config, logger *slog.Logger) *Limiter {
	def := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.DefaultWindow < time.Second {
		cfg.DefaultWindow = def.DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, cfg: cfg, logger: logger}
}

// Store returns the counter store the limiter increments.
func (l *Limiter) Store() CounterStore {
	return l.store
}

// window describes the fixed window that now falls into for key.
type window struct {
	seconds int64
	index   int64
	limit   int
	resetAt time.Time
}

func (l *Limiter) windowFor(key *model.APIKey, now time.Time) window {
	seconds := int64(l.cfg.DefaultWindow / time.Second)
	if key.WindowSeconds != nil && *key.WindowSeconds > 0 {
		seconds = int64(*key.WindowSeconds)
	}
	limit := l.cfg.DefaultLimit
	if key.RateLimit != nil && *key.RateLimit > 0 {
		limit = *key.RateLimit
	}
	index := floorDiv(now.Unix(), seconds)
	return window{
		seconds: seconds,
		index:   index,
		limit:   limit,
		resetAt: time.Unix((index+1)*seconds, 0).UTC(),
	}
}

// CounterKey returns the counter store key for a key, endpoint and window index.
func CounterKey(keyID, endpoint string, windowIndex int64) string {
	return "rl:" + keyID + ":" + endpoint + ":" + strconv.FormatInt(windowIndex, 10)
}

// Check counts one request for key on endpoint at now and decides whether it
// is admitted. The count happens before the comparison, so a denied request
// still uses up a slot. Counter store failures fail open.
func (l *Limiter) Check(ctx context.Context, key *model.APIKey, endpoint string, now time.Time) Decision {
	w := l.windowFor(key, now)

	callCtx, cancel := l.withTimeout(ctx)
	defer cancel()

	count, err := l.store.Incr(callCtx, CounterKey(key.ID, endpoint, w.index), 2*time.Duration(w.seconds)*time.Second)
	if err != nil {
		l.logger.Warn("rate limiter degraded, failing open",
			"api_key_id", key.ID,
			"endpoint", endpoint,
			"error", err,
		)
		return Decision{
			Allowed:   true,
			Limit:     w.limit,
			Remaining: w.limit,
			ResetAt:   w.resetAt,
			Degraded:  true,
		}
	}

	d := Decision{
		Allowed:   count <= int64(w.limit),
		Limit:     w.limit,
		Remaining: max(0, w.limit-int(min(count, int64(w.limit)))),
		ResetAt:   w.resetAt,
	}
	if !d.Allowed {
		d.RetryAfter = w.resetAt.Sub(now)
	}
	return d
}

// Snapshot reports the current window for key on endpoint without counting
// a request. Allowed reports whether the next request would be admitted.
func (l *Limiter) Snapshot(ctx context.Context, key *model.APIKey, endpoint string, now time.Time) (Decision, error) {
	w := l.windowFor(key, now)

	callCtx, cancel := l.withTimeout(ctx)
	defer cancel()

	count, err := l.store.Get(callCtx, CounterKey(key.ID, endpoint, w.index))
	if err != nil {
		return Decision{
			Allowed:   true,
			Limit:     w.limit,
			Remaining: w.limit,
			ResetAt:   w.resetAt,
			Degraded:  true,
		}, fmt.Errorf("rate limit snapshot: %w", err)
	}

	d := Decision{
		Allowed:   count < int64(w.limit),
		Limit:     w.limit,
		Remaining: max(0, w.limit-int(min(count, int64(w.limit)))),
		ResetAt:   w.resetAt,
	}
	if !d.Allowed {
		d.RetryAfter = w.resetAt.Sub(now)
	}
	return d, nil
}

func (l *Limiter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, l.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
