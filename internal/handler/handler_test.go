package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/service"
)

const testHashSecret = "test-hash-secret-for-handlers"

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store   *config.Store
	keys    *service.KeyService
	limiter *ratelimit.Limiter
	router  chi.Router
}

// newTestEnv creates a fresh test environment with an in-memory credential
// store and a Chi router with the admin routes mounted (no auth middleware).
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := config.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hasher, err := service.NewSecretHasher(testHashSecret)
	if err != nil {
		t.Fatalf("NewSecretHasher: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := ratelimit.New(ratelimit.NewMemoryCounter(), ratelimit.Config{DefaultLimit: 10, DefaultWindow: time.Minute}, logger)
	keys := service.NewKeyService(store, service.NewKeyIssuer(store, hasher), limiter)
	h := NewKeysHandler(keys)

	r := chi.NewRouter()
	r.Route("/api/v1/system", func(r chi.Router) {
		r.Get("/api-key", h.ListAPIKeys)
		r.Post("/api-key", h.CreateAPIKey)
		r.Get("/api-key/{keyId}", h.GetAPIKey)
		r.Patch("/api-key/{keyId}", h.UpdateAPIKey)
		r.Delete("/api-key/{keyId}", h.DeleteAPIKey)
		r.Post("/api-key/{keyId}/revoke", h.RevokeAPIKey)
		r.Get("/api-key/{keyId}/usage", h.ListUsage)
		r.Get("/api-key/{keyId}/rate-limit", h.RateLimitStatus)
	})

	return &testEnv{
		store:   store,
		keys:    keys,
		limiter: limiter,
		router:  r,
	}
}

// seedKey issues a key directly through the service.
func (e *testEnv) seedKey(t *testing.T, owner, name string) *service.IssuedKey {
	t.Helper()
	issued, err := e.keys.Create(context.Background(), service.IssueParams{OwnerID: owner, Name: name})
	if err != nil {
		t.Fatalf("seedKey: %v", err)
	}
	return issued
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}
