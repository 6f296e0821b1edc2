package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/ratelimit"
)

func newTestKeyService(t *testing.T) *KeyService {
	t.Helper()
	store := newTestStore(t)
	limiter := ratelimit.New(ratelimit.NewMemoryCounter(), ratelimit.Config{DefaultLimit: 10, DefaultWindow: time.Minute}, discardLogger())
	return NewKeyService(store, NewKeyIssuer(store, newTestHasher(t)), limiter)
}

func TestKeyServiceLifecycle(t *testing.T) {
	svc := newTestKeyService(t)
	ctx := context.Background()

	issued, err := svc.Create(ctx, IssueParams{OwnerID: "alice", Name: "first"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Create(ctx, IssueParams{OwnerID: "bob", Name: "other"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	keys, err := svc.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 1 || keys[0].ID != issued.Key.ID {
		t.Errorf("List(alice) = %v", keys)
	}

	name := "renamed"
	scopes := []string{"notes:read"}
	updated, err := svc.Update(ctx, issued.Key.ID, model.APIKeyUpdate{
		Name:      &name,
		Scopes:    &scopes,
		RateLimit: intPtr(5),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "renamed" || !updated.HasScope("notes:read") || *updated.RateLimit != 5 {
		t.Errorf("updated = %+v", updated)
	}
	if updated.SecretHash != issued.Key.SecretHash {
		t.Error("update changed the secret hash")
	}

	revoked, err := svc.Revoke(ctx, issued.Key.ID)
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if revoked.IsActive {
		t.Error("revoked key still active")
	}

	if err := svc.Delete(ctx, issued.Key.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, issued.Key.ID); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get after delete err = %v, want ErrKeyNotFound", err)
	}
	if err := svc.Delete(ctx, issued.Key.ID); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("second Delete err = %v, want ErrKeyNotFound", err)
	}
}

func TestKeyServiceUpdateValidation(t *testing.T) {
	svc := newTestKeyService(t)
	ctx := context.Background()
	issued, err := svc.Create(ctx, IssueParams{OwnerID: "alice", Name: "k"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	blank := " "
	badScopes := []string{"has space"}
	tests := []struct {
		name string
		u    model.APIKeyUpdate
	}{
		{"blank name", model.APIKeyUpdate{Name: &blank}},
		{"bad scope", model.APIKeyUpdate{Scopes: &badScopes}},
		{"zero rate", model.APIKeyUpdate{RateLimit: intPtr(0)}},
		{"negative window", model.APIKeyUpdate{WindowSeconds: intPtr(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Update(ctx, issued.Key.ID, tt.u); !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}

	if _, err := svc.Update(ctx, "key_missing", model.APIKeyUpdate{}); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("missing key err = %v, want ErrKeyNotFound", err)
	}
}

func TestKeyServiceUsageValidation(t *testing.T) {
	svc := newTestKeyService(t)
	ctx := context.Background()
	now := time.Now()

	tests := []struct {
		name string
		f    model.UsageFilter
	}{
		{"missing key", model.UsageFilter{}},
		{"limit too large", model.UsageFilter{APIKeyID: "key_x", Limit: MaxUsageLimit + 1}},
		{"negative offset", model.UsageFilter{APIKeyID: "key_x", Offset: -1}},
		{"inverted range", model.UsageFilter{APIKeyID: "key_x", From: now, To: now.Add(-time.Hour)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Usage(ctx, tt.f); !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}

	page, err := svc.Usage(ctx, model.UsageFilter{APIKeyID: "key_deleted_long_ago"})
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if page.Total != 0 || len(page.Items) != 0 {
		t.Errorf("page = %+v, want empty", page)
	}
}

func TestKeyServicePruneUsage(t *testing.T) {
	svc := newTestKeyService(t)
	ctx := context.Background()

	old := &model.APIKeyUsage{ID: newUsageID(), APIKeyID: "key_x", Timestamp: time.Now().Add(-48 * time.Hour), StatusCode: 200}
	fresh := &model.APIKeyUsage{ID: newUsageID(), APIKeyID: "key_x", Timestamp: time.Now(), StatusCode: 200}
	for _, u := range []*model.APIKeyUsage{old, fresh} {
		if err := svc.store.InsertUsage(ctx, u); err != nil {
			t.Fatalf("InsertUsage: %v", err)
		}
	}

	if _, err := svc.PruneUsage(ctx, 0); !errors.Is(err, ErrValidation) {
		t.Errorf("zero retention err = %v, want ErrValidation", err)
	}
	n, err := svc.PruneUsage(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneUsage: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
}

func TestKeyServiceRateLimitStatus(t *testing.T) {
	svc := newTestKeyService(t)
	ctx := context.Background()
	issued, err := svc.Create(ctx, IssueParams{OwnerID: "alice", Name: "k", RateLimit: intPtr(3)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	now := time.Now()
	svc.now = func() time.Time { return now }
	svc.limiter.Check(ctx, issued.Key, "/v1/notes", now)

	status, err := svc.RateLimitStatus(ctx, issued.Key.ID, "/v1/notes")
	if err != nil {
		t.Fatalf("RateLimitStatus: %v", err)
	}
	if status.Limit != 3 || status.Remaining != 2 {
		t.Errorf("status = %+v, want limit 3 remaining 2", status)
	}

	if _, err := svc.RateLimitStatus(ctx, "key_missing", "/"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("err = %v, want ErrKeyNotFound", err)
	}
}
