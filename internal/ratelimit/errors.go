package ratelimit

import "errors"

// ErrCounterStoreUnavailable wraps any failure talking to the counter store.
// It never reaches API callers; the limiter absorbs it by failing open.
var ErrCounterStoreUnavailable = errors.New("counter store unavailable")
