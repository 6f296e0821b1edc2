package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/keygate/keygate/internal/model"
)

// ---------------------------------------------------------------------------
// Create / List / Get
// ---------------------------------------------------------------------------

func TestCreateAPIKey_ReturnsCredentialOnce(t *testing.T) {
	env := newTestEnv(t)

	body := toJSON(t, map[string]any{
		"owner_id":   "user-1",
		"name":       "deploy bot",
		"scopes":     []string{"notes:read"},
		"rate_limit": 30,
	})
	rr := env.do(t, "POST", "/api/v1/system/api-key", body)
	assertStatus(t, rr, http.StatusCreated)

	var resp struct {
		APIKey string         `json:"api_key"`
		Key    map[string]any `json:"key"`
	}
	decodeJSON(t, rr, &resp)

	if !strings.HasPrefix(resp.APIKey, "key_") || !strings.Contains(resp.APIKey, ".") {
		t.Errorf("api_key = %q, want key_<id>.<secret>", resp.APIKey)
	}
	if _, ok := resp.Key["secret_hash"]; ok {
		t.Error("response leaks secret_hash")
	}
	if resp.Key["rate_limit"] != float64(30) {
		t.Errorf("rate_limit = %v, want 30", resp.Key["rate_limit"])
	}

	// Subsequent reads never show the secret.
	id := resp.Key["id"].(string)
	rr = env.do(t, "GET", "/api/v1/system/api-key/"+id, nil)
	assertStatus(t, rr, http.StatusOK)
	secret := strings.SplitN(resp.APIKey, ".", 2)[1]
	if strings.Contains(rr.Body.String(), secret) {
		t.Error("GET response contains the plaintext secret")
	}
	if strings.Contains(rr.Body.String(), "secret_hash") {
		t.Error("GET response contains the secret hash")
	}
}

func TestCreateAPIKey_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing owner", map[string]any{"name": "x"}},
		{"missing name", map[string]any{"owner_id": "u"}},
		{"zero rate limit", map[string]any{"owner_id": "u", "name": "x", "rate_limit": 0}},
		{"unknown field", map[string]any{"owner_id": "u", "name": "x", "secret": "mine"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/api/v1/system/api-key", toJSON(t, tt.body))
			assertStatus(t, rr, http.StatusBadRequest)
		})
	}

	rr := env.do(t, "POST", "/api/v1/system/api-key", strings.NewReader("{not json"))
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestListAPIKeys_FilterByOwner(t *testing.T) {
	env := newTestEnv(t)
	env.seedKey(t, "alice", "a1")
	env.seedKey(t, "alice", "a2")
	env.seedKey(t, "bob", "b1")

	rr := env.do(t, "GET", "/api/v1/system/api-key?owner_id=alice", nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Resource []map[string]any   `json:"resource"`
		Meta     model.ResponseMeta `json:"meta"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Meta.Count != 2 || len(resp.Resource) != 2 {
		t.Errorf("count = %d, len = %d, want 2", resp.Meta.Count, len(resp.Resource))
	}
	for _, k := range resp.Resource {
		if k["owner_id"] != "alice" {
			t.Errorf("owner_id = %v, want alice", k["owner_id"])
		}
	}

	rr = env.do(t, "GET", "/api/v1/system/api-key", nil)
	decodeJSON(t, rr, &resp)
	if resp.Meta.Count != 3 {
		t.Errorf("unfiltered count = %d, want 3", resp.Meta.Count)
	}
}

func TestGetAPIKey_NotFound(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/api/v1/system/api-key/key_missing", nil)
	assertStatus(t, rr, http.StatusNotFound)
}

// ---------------------------------------------------------------------------
// Update / Revoke / Delete
// ---------------------------------------------------------------------------

func TestUpdateAPIKey(t *testing.T) {
	env := newTestEnv(t)
	issued := env.seedKey(t, "alice", "old")

	body := toJSON(t, map[string]any{
		"name":           "new",
		"scopes":         []string{"notes:write"},
		"window_seconds": 120,
	})
	rr := env.do(t, "PATCH", "/api/v1/system/api-key/"+issued.Key.ID, body)
	assertStatus(t, rr, http.StatusOK)

	var key model.APIKey
	decodeJSON(t, rr, &key)
	if key.Name != "new" || !key.HasScope("notes:write") || key.WindowSeconds == nil || *key.WindowSeconds != 120 {
		t.Errorf("updated key = %+v", key)
	}

	rr = env.do(t, "PATCH", "/api/v1/system/api-key/"+issued.Key.ID, toJSON(t, map[string]any{"clear_window_seconds": true}))
	assertStatus(t, rr, http.StatusOK)
	key = model.APIKey{}
	decodeJSON(t, rr, &key)
	if key.WindowSeconds != nil {
		t.Errorf("window_seconds = %v, want cleared", *key.WindowSeconds)
	}

	rr = env.do(t, "PATCH", "/api/v1/system/api-key/"+issued.Key.ID, toJSON(t, map[string]any{"name": ""}))
	assertStatus(t, rr, http.StatusBadRequest)

	rr = env.do(t, "PATCH", "/api/v1/system/api-key/key_missing", toJSON(t, map[string]any{"name": "x"}))
	assertStatus(t, rr, http.StatusNotFound)
}

func TestRevokeAPIKey(t *testing.T) {
	env := newTestEnv(t)
	issued := env.seedKey(t, "alice", "k")

	rr := env.do(t, "POST", "/api/v1/system/api-key/"+issued.Key.ID+"/revoke", nil)
	assertStatus(t, rr, http.StatusOK)

	stored, err := env.store.GetAPIKey(context.Background(), issued.Key.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if stored.IsActive {
		t.Error("key still active after revoke")
	}
}

func TestDeleteAPIKey_KeepsUsage(t *testing.T) {
	env := newTestEnv(t)
	issued := env.seedKey(t, "alice", "k")
	seedUsage(t, env, issued.Key.ID, time.Now().Add(-time.Minute), 2)

	rr := env.do(t, "DELETE", "/api/v1/system/api-key/"+issued.Key.ID, nil)
	assertStatus(t, rr, http.StatusOK)

	rr = env.do(t, "DELETE", "/api/v1/system/api-key/"+issued.Key.ID, nil)
	assertStatus(t, rr, http.StatusNotFound)

	rr = env.do(t, "GET", "/api/v1/system/api-key/"+issued.Key.ID+"/usage", nil)
	assertStatus(t, rr, http.StatusOK)
	var resp struct {
		Meta model.ResponseMeta `json:"meta"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Meta.Total == nil || *resp.Meta.Total != 2 {
		t.Errorf("usage total after delete = %v, want 2", resp.Meta.Total)
	}
}

// ---------------------------------------------------------------------------
// Usage / rate limit snapshot
// ---------------------------------------------------------------------------

func seedUsage(t *testing.T, env *testEnv, keyID string, start time.Time, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		u := &model.APIKeyUsage{
			ID:         uuid.NewString(),
			APIKeyID:   keyID,
			Timestamp:  start.Add(time.Duration(i) * time.Second),
			Endpoint:   "/v1/notes",
			Method:     "GET",
			StatusCode: 200,
		}
		if err := env.store.InsertUsage(context.Background(), u); err != nil {
			t.Fatalf("InsertUsage: %v", err)
		}
	}
}

func TestListUsage_Pagination(t *testing.T) {
	env := newTestEnv(t)
	issued := env.seedKey(t, "alice", "k")
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedUsage(t, env, issued.Key.ID, start, 5)

	path := fmt.Sprintf("/api/v1/system/api-key/%s/usage?limit=2&offset=1", issued.Key.ID)
	rr := env.do(t, "GET", path, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Resource []model.APIKeyUsage `json:"resource"`
		Meta     model.ResponseMeta  `json:"meta"`
	}
	decodeJSON(t, rr, &resp)
	if len(resp.Resource) != 2 || resp.Meta.Count != 2 {
		t.Fatalf("page size = %d, want 2", len(resp.Resource))
	}
	if resp.Meta.Total == nil || *resp.Meta.Total != 5 {
		t.Errorf("total = %v, want 5", resp.Meta.Total)
	}
	// Newest first, skipping the newest row.
	if want := start.Add(3 * time.Second); !resp.Resource[0].Timestamp.Equal(want) {
		t.Errorf("first timestamp = %v, want %v", resp.Resource[0].Timestamp, want)
	}

	from := start.Add(time.Second).Format(time.RFC3339)
	to := start.Add(3 * time.Second).Format(time.RFC3339)
	rr = env.do(t, "GET", fmt.Sprintf("/api/v1/system/api-key/%s/usage?from=%s&to=%s", issued.Key.ID, from, to), nil)
	assertStatus(t, rr, http.StatusOK)
	resp.Resource = nil
	decodeJSON(t, rr, &resp)
	if len(resp.Resource) != 2 {
		t.Errorf("range rows = %d, want 2", len(resp.Resource))
	}
}

func TestListUsage_BadQuery(t *testing.T) {
	env := newTestEnv(t)
	for _, q := range []string{"limit=abc", "offset=-1", "from=yesterday", "limit=100000"} {
		rr := env.do(t, "GET", "/api/v1/system/api-key/key_x/usage?"+q, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rr.Code)
		}
	}
}

func TestRateLimitStatus(t *testing.T) {
	env := newTestEnv(t)
	issued := env.seedKey(t, "alice", "k")
	env.limiter.Check(context.Background(), issued.Key, "/v1/notes", time.Now())

	rr := env.do(t, "GET", "/api/v1/system/api-key/"+issued.Key.ID+"/rate-limit?endpoint=/v1/notes", nil)
	assertStatus(t, rr, http.StatusOK)

	var status model.RateLimitStatus
	decodeJSON(t, rr, &status)
	if status.Limit != 10 || status.Remaining != 9 || status.Endpoint != "/v1/notes" {
		t.Errorf("status = %+v, want limit 10 remaining 9", status)
	}

	rr = env.do(t, "GET", "/api/v1/system/api-key/key_missing/rate-limit", nil)
	assertStatus(t, rr, http.StatusNotFound)
}
