package handler

import (
	"net/http"
	"time"

	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/server/middleware"
)

// CallerHandler serves the built-in gated endpoints that describe the
// calling key to itself.
type CallerHandler struct {
	limiter *ratelimit.Limiter
	now     func() time.Time
}

func NewCallerHandler(limiter *ratelimit.Limiter) *CallerHandler {
	return &CallerHandler{limiter: limiter, now: time.Now}
}

// WhoAmI returns the metadata of the verified key.
// GET /v1/whoami
func (h *CallerHandler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	key := middleware.GetAPIKey(r.Context())
	if key == nil {
		writeError(w, http.StatusUnauthorized, "Invalid API key")
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// RateLimit reports the caller's current window on an endpoint.
// GET /v1/rate-limit?endpoint=
func (h *CallerHandler) RateLimit(w http.ResponseWriter, r *http.Request) {
	key := middleware.GetAPIKey(r.Context())
	if key == nil {
		writeError(w, http.StatusUnauthorized, "Invalid API key")
		return
	}

	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		endpoint = "/"
	}
	d, _ := h.limiter.Snapshot(r.Context(), key, endpoint, h.now())
	writeJSON(w, http.StatusOK, d.Status(key.ID, endpoint))
}
