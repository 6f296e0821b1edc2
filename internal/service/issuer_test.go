package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"
)

var keyIDPattern = regexp.MustCompile(`^key_[0-9a-f]{32}$`)

func TestIssueCreatesKeyAndReturnsCredentialOnce(t *testing.T) {
	store := newTestStore(t)
	hasher := newTestHasher(t)
	issuer := NewKeyIssuer(store, hasher)
	ctx := context.Background()

	issued, err := issuer.Issue(ctx, IssueParams{
		OwnerID:       "user-1",
		Name:          "ci",
		Scopes:        []string{"notes:read", " notes:read ", "notes:write"},
		RateLimit:     intPtr(100),
		ExpiresInDays: intPtr(30),
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	id, secret, ok := strings.Cut(issued.Credential, ".")
	if !ok {
		t.Fatalf("credential %q has no separator", issued.Credential)
	}
	if !keyIDPattern.MatchString(id) {
		t.Errorf("id %q does not match key_<32 hex>", id)
	}
	if len(secret) != 43 || strings.Contains(secret, ".") {
		t.Errorf("secret %q: want 43 base64url chars without dots", secret)
	}
	if issued.Key.ID != id {
		t.Errorf("key id = %q, want %q", issued.Key.ID, id)
	}
	if got := issued.Key.Scopes; len(got) != 2 || got[0] != "notes:read" || got[1] != "notes:write" {
		t.Errorf("scopes = %v, want [notes:read notes:write]", got)
	}
	if issued.Key.ExpiresAt == nil {
		t.Fatal("expected expiry")
	}
	if d := issued.Key.ExpiresAt.Sub(issued.Key.CreatedAt); d != 30*24*time.Hour {
		t.Errorf("expiry offset = %v, want 30 days", d)
	}

	stored, err := store.GetAPIKey(ctx, id)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if stored.SecretHash == secret || strings.Contains(stored.SecretHash, secret) {
		t.Error("plaintext secret persisted")
	}
	if !hasher.Verify(secret, stored.SecretHash) {
		t.Error("stored hash does not match issued secret")
	}
	if !stored.IsActive {
		t.Error("new key should be active")
	}
}

func TestIssueGeneratesDistinctCredentials(t *testing.T) {
	issuer := NewKeyIssuer(newTestStore(t), newTestHasher(t))
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		issued, err := issuer.Issue(context.Background(), IssueParams{OwnerID: "u", Name: "k"})
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if seen[issued.Key.ID] {
			t.Fatalf("duplicate id %s", issued.Key.ID)
		}
		seen[issued.Key.ID] = true
	}
}

func TestIssueValidation(t *testing.T) {
	store := newTestStore(t)
	issuer := NewKeyIssuer(store, newTestHasher(t))

	tests := []struct {
		name string
		p    IssueParams
	}{
		{"missing owner", IssueParams{Name: "k"}},
		{"blank name", IssueParams{OwnerID: "u", Name: "  "}},
		{"zero rate limit", IssueParams{OwnerID: "u", Name: "k", RateLimit: intPtr(0)}},
		{"negative window", IssueParams{OwnerID: "u", Name: "k", WindowSeconds: intPtr(-5)}},
		{"zero expiry days", IssueParams{OwnerID: "u", Name: "k", ExpiresInDays: intPtr(0)}},
		{"empty scope", IssueParams{OwnerID: "u", Name: "k", Scopes: []string{""}}},
		{"scope with space", IssueParams{OwnerID: "u", Name: "k", Scopes: []string{"notes read"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Issue(context.Background(), tt.p)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}

	keys, err := store.ListAPIKeys(context.Background(), "")
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("validation failures wrote %d keys", len(keys))
	}
}
