package model

import (
	"encoding/json"
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func TestAPIKeyJSONOmitsSecretHash(t *testing.T) {
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	k := APIKey{
		ID:         "key_0123456789abcdef0123456789abcdef",
		SecretHash: "deadbeef",
		OwnerID:    "acct_1",
		Name:       "ci",
		Scopes:     []string{"notes:read"},
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	b, err := json.Marshal(k)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if _, ok := m["secret_hash"]; ok {
		t.Error("secret_hash must never be serialized")
	}
	if _, ok := m["SecretHash"]; ok {
		t.Error("SecretHash must never be serialized")
	}
	// Nullable fields are omitted when unset
	for _, key := range []string{"rate_limit", "window_seconds", "expires_at", "last_used_at"} {
		if _, ok := m[key]; ok {
			t.Errorf("expected %q to be omitted when nil", key)
		}
	}
	if m["owner_id"] != "acct_1" {
		t.Errorf("owner_id = %v, want %q", m["owner_id"], "acct_1")
	}
}

func TestAPIKeyHasScope(t *testing.T) {
	k := &APIKey{Scopes: []string{"notes:read", "tasks:write"}}

	tests := []struct {
		scope string
		want  bool
	}{
		{"", true},
		{"notes:read", true},
		{"tasks:write", true},
		{"tasks:read", false},
		{"notes", false},
	}
	for _, tt := range tests {
		if got := k.HasScope(tt.scope); got != tt.want {
			t.Errorf("HasScope(%q) = %v, want %v", tt.scope, got, tt.want)
		}
	}
}

func TestAPIKeyIsExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	if (&APIKey{}).IsExpired(now) {
		t.Error("key without expiry must not be expired")
	}
	if !(&APIKey{ExpiresAt: &past}).IsExpired(now) {
		t.Error("key with past expiry must be expired")
	}
	if !(&APIKey{ExpiresAt: &now}).IsExpired(now) {
		t.Error("key expiring exactly now must be expired")
	}
	if (&APIKey{ExpiresAt: &future}).IsExpired(now) {
		t.Error("key with future expiry must not be expired")
	}
}

func TestAPIKeyUpdateApply(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	k := &APIKey{
		Name:          "old",
		Scopes:        []string{"a"},
		RateLimit:     intPtr(10),
		WindowSeconds: intPtr(60),
		ExpiresAt:     &exp,
		IsActive:      true,
	}

	name := "new"
	scopes := []string{"b", "c"}
	inactive := false
	APIKeyUpdate{
		Name:        &name,
		Scopes:      &scopes,
		RateLimit:   intPtr(99),
		IsActive:    &inactive,
		ClearExpiry: true,
		ClearWindow: true,
	}.Apply(k)

	if k.Name != "new" {
		t.Errorf("Name = %q, want %q", k.Name, "new")
	}
	if len(k.Scopes) != 2 || k.Scopes[0] != "b" {
		t.Errorf("Scopes = %v, want [b c]", k.Scopes)
	}
	if k.RateLimit == nil || *k.RateLimit != 99 {
		t.Errorf("RateLimit = %v, want 99", k.RateLimit)
	}
	if k.WindowSeconds != nil {
		t.Errorf("WindowSeconds = %v, want nil", *k.WindowSeconds)
	}
	if k.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, want nil", k.ExpiresAt)
	}
	if k.IsActive {
		t.Error("IsActive = true, want false")
	}

	// Mutating the caller's slice must not leak into the key.
	scopes[0] = "z"
	if k.Scopes[0] != "b" {
		t.Errorf("Scopes aliased caller slice: %v", k.Scopes)
	}
}

func TestErrorResponseJSON(t *testing.T) {
	resp := ErrorResponse{Error: ErrorDetail{Code: 429, Message: "Rate limit exceeded"}}

	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	want := `{"error":{"code":429,"message":"Rate limit exceeded"}}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}
