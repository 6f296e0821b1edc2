// Package ratelimit implements per-credential fixed-window rate limiting on
// top of a shared counter store.
//
// # Window semantics
//
// A window is identified by floor(unix / windowSeconds). Each (key, endpoint,
// window) triple owns one counter under "rl:{keyID}:{endpoint}:{window}".
// The counter is incremented and, on its first hit, given a TTL of twice the
// window in one atomic step, so no caller can observe a counter without an
// expiry. Rollover happens implicitly through the next window's fresh key.
//
// Requests are counted before they are checked: a denied request still
// consumes a slot in its window.
//
// When the counter store is unreachable the limiter fails open and reports
// the decision as degraded.
package ratelimit
