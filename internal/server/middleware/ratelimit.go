package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// AdminRateLimit limits requests per client IP to requestsPerMinute using a
// sliding window. It guards the admin API against token guessing; API key
// traffic is governed by the Gate instead.
func AdminRateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "Too many requests", nil)
		}),
	)
}
