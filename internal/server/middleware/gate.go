package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/service"
)

// APIKeyHeader is always accepted as an alternative credential header.
const APIKeyHeader = "X-API-Key"

// Client facing messages. Malformed and invalid credentials share one
// message so callers cannot tell which check failed.
const (
	msgInvalidAPIKey     = "Invalid API key"
	msgAuthUnavailable   = "Authentication temporarily unavailable"
	msgInsufficientScope = "Insufficient scope"
	msgRateLimited       = "Rate limit exceeded"
)

// RoutePolicy is the access rule for one gated route.
type RoutePolicy struct {
	// RequiredScope must be carried by the key; empty means any verified key.
	RequiredScope string
	// Endpoint names the rate limit bucket. Empty uses the request path.
	Endpoint string
}

// Gate composes credential verification, scope checks, rate limiting and
// usage recording in front of a handler.
type Gate struct {
	verifier *service.Verifier
	limiter  *ratelimit.Limiter
	recorder *service.UsageRecorder
	header   string
	logger   *slog.Logger
	now      func() time.Time
}

// NewGate creates a [Gate]. header names the credential header; when it is
// Authorization the value must use the Bearer scheme.
func NewGate(verifier *service.Verifier, limiter *ratelimit.Limiter, recorder *service.UsageRecorder, header string, logger *slog.Logger) *Gate {
	if header == "" {
		header = "Authorization"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		verifier: verifier,
		limiter:  limiter,
		recorder: recorder,
		header:   http.CanonicalHeaderKey(header),
		logger:   logger,
		now:      time.Now,
	}
}

// Handler returns middleware enforcing policy. Requests move through
// verification, scope check and rate limiting in that order; every request
// that passes verification is recorded exactly once.
func (g *Gate) Handler(policy RoutePolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := g.now()
			ctx := r.Context()

			key, err := g.verifier.Verify(ctx, g.credential(r))
			if err != nil {
				if errors.Is(err, service.ErrCredentialStoreUnavailable) {
					g.logger.Error("credential store unavailable", "path", r.URL.Path, "error", err)
					writeError(w, http.StatusServiceUnavailable, msgAuthUnavailable, nil)
					return
				}
				g.logger.Debug("credential rejected", "path", r.URL.Path, "reason", err)
				writeError(w, http.StatusUnauthorized, msgInvalidAPIKey, nil)
				return
			}
			setLogAPIKeyID(ctx, key.ID)

			req := g.requestMeta(r, start)

			if !key.HasScope(policy.RequiredScope) {
				writeError(w, http.StatusForbidden, msgInsufficientScope, map[string]any{
					"required_scope": policy.RequiredScope,
				})
				g.record(ctx, key, req, http.StatusForbidden, service.ErrInsufficientScope.Error())
				return
			}

			endpoint := policy.Endpoint
			if endpoint == "" {
				endpoint = r.URL.Path
			}
			d := g.limiter.Check(ctx, key, endpoint, start)
			setRateLimitHeaders(w.Header(), d)
			if !d.Allowed {
				retryAfter := d.RetryAfterSeconds()
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, msgRateLimited, map[string]any{
					"limit":       d.Limit,
					"remaining":   d.Remaining,
					"reset":       d.ResetAt.Unix(),
					"retry_after": retryAfter,
				})
				g.record(ctx, key, req, http.StatusTooManyRequests, service.ErrRateLimitExceeded.Error())
				return
			}

			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				// Record the failed request before the panic reaches the
				// recoverer, then let it continue unwinding.
				if p := recover(); p != nil {
					status := http.StatusInternalServerError
					if ww.wroteHeader {
						status = ww.status
					}
					g.record(ctx, key, req, status, fmt.Sprint("panic: ", p))
					panic(p)
				}
			}()
			next.ServeHTTP(ww, r.WithContext(context.WithValue(ctx, apiKeyKey, key)))

			var errText string
			if ww.status >= http.StatusBadRequest {
				errText = http.StatusText(ww.status)
			}
			g.record(ctx, key, req, ww.status, errText)
		})
	}
}

// credential returns the presented token, or "" when none was sent.
func (g *Gate) credential(r *http.Request) string {
	if v := r.Header.Get(g.header); v != "" {
		if g.header != "Authorization" {
			return strings.TrimSpace(v)
		}
		// A non-Bearer Authorization header may belong to another scheme;
		// fall back to X-API-Key.
		if token, ok := bearerToken(v); ok {
			return token
		}
	}
	return strings.TrimSpace(r.Header.Get(APIKeyHeader))
}

// CredentialHeader returns the configured credential header in canonical form.
func (g *Gate) CredentialHeader() string {
	return g.header
}

func (g *Gate) requestMeta(r *http.Request, start time.Time) service.RequestMeta {
	return service.RequestMeta{
		RequestID: GetRequestID(r.Context()),
		Endpoint:  r.URL.Path,
		Method:    r.Method,
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
		StartedAt: start,
	}
}

func (g *Gate) record(ctx context.Context, key *model.APIKey, req service.RequestMeta, status int, errText string) {
	g.recorder.Record(ctx, key, req, service.ResponseMeta{
		StatusCode: status,
		Duration:   g.now().Sub(req.StartedAt),
		Error:      errText,
	})
}

// GetAPIKey returns the verified API key attached by the Gate, or nil.
func GetAPIKey(ctx context.Context) *model.APIKey {
	if k, ok := ctx.Value(apiKeyKey).(*model.APIKey); ok {
		return k
	}
	return nil
}

func setRateLimitHeaders(h http.Header, d ratelimit.Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// clientIP strips the port from RemoteAddr. chi's RealIP middleware has
// already applied any trusted forwarding headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
