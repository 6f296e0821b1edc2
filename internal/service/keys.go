package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/ratelimit"
)

// Usage pagination bounds.
const (
	DefaultUsageLimit = 50
	MaxUsageLimit     = 500
)

// KeyService implements the administrative operations on API keys shared by
// the admin HTTP API and the CLI.
type KeyService struct {
	store   *config.Store
	issuer  *KeyIssuer
	limiter *ratelimit.Limiter
	now     func() time.Time
}

// NewKeyService wires the admin operations. limiter may be nil when the
// caller never asks for rate limit snapshots (the CLI).
func NewKeyService(store *config.Store, issuer *KeyIssuer, limiter *ratelimit.Limiter) *KeyService {
	return &KeyService{store: store, issuer: issuer, limiter: limiter, now: time.Now}
}

func (s *KeyService) Create(ctx context.Context, p IssueParams) (*IssuedKey, error) {
	return s.issuer.Issue(ctx, p)
}

func (s *KeyService) List(ctx context.Context, ownerID string) ([]model.APIKey, error) {
	return s.store.ListAPIKeys(ctx, strings.TrimSpace(ownerID))
}

func (s *KeyService) Get(ctx context.Context, id string) (*model.APIKey, error) {
	key, err := s.store.GetAPIKey(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return key, nil
}

// Update applies a partial update after validating it. Identity fields (id,
// owner, secret hash) are immutable.
func (s *KeyService) Update(ctx context.Context, id string, u model.APIKeyUpdate) (*model.APIKey, error) {
	if err := validateUpdate(&u); err != nil {
		return nil, err
	}
	key, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Apply(key)
	if err := s.store.UpdateAPIKey(ctx, key); err != nil {
		return nil, mapNotFound(err)
	}
	return key, nil
}

// Revoke deactivates a key. The row is kept so its id is never reused and
// its history stays attributable.
func (s *KeyService) Revoke(ctx context.Context, id string) (*model.APIKey, error) {
	inactive := false
	return s.Update(ctx, id, model.APIKeyUpdate{IsActive: &inactive})
}

// Delete removes a key permanently. Usage rows are retained for audit.
func (s *KeyService) Delete(ctx context.Context, id string) error {
	return mapNotFound(s.store.DeleteAPIKey(ctx, id))
}

// Usage returns a page of usage history, newest first. History of deleted
// keys remains queryable.
func (s *KeyService) Usage(ctx context.Context, f model.UsageFilter) (*model.UsagePage, error) {
	if f.APIKeyID == "" {
		return nil, fmt.Errorf("%w: api key id is required", ErrValidation)
	}
	if f.Limit == 0 {
		f.Limit = DefaultUsageLimit
	}
	if f.Limit < 0 || f.Limit > MaxUsageLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrValidation, MaxUsageLimit)
	}
	if f.Offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", ErrValidation)
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return nil, fmt.Errorf("%w: from must be before to", ErrValidation)
	}
	return s.store.ListUsage(ctx, f)
}

// PruneUsage deletes usage rows older than olderThan.
func (s *KeyService) PruneUsage(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: retention must be positive", ErrValidation)
	}
	return s.store.PruneUsage(ctx, s.now().Add(-olderThan))
}

// RateLimitStatus reports the current window of key id on endpoint without
// counting a request.
func (s *KeyService) RateLimitStatus(ctx context.Context, id, endpoint string) (model.RateLimitStatus, error) {
	if s.limiter == nil {
		return model.RateLimitStatus{}, errors.New("rate limiter not configured")
	}
	key, err := s.Get(ctx, id)
	if err != nil {
		return model.RateLimitStatus{}, err
	}
	if endpoint == "" {
		endpoint = "/"
	}
	d, err := s.limiter.Snapshot(ctx, key, endpoint, s.now())
	return d.Status(key.ID, endpoint), err
}

func validateUpdate(u *model.APIKeyUpdate) error {
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return fmt.Errorf("%w: name must not be empty", ErrValidation)
		}
		u.Name = &name
	}
	if u.Scopes != nil {
		scopes, err := normalizeScopes(*u.Scopes)
		if err != nil {
			return err
		}
		u.Scopes = &scopes
	}
	if err := validatePositive("rate_limit", u.RateLimit); err != nil {
		return err
	}
	return validatePositive("window_seconds", u.WindowSeconds)
}

func mapNotFound(err error) error {
	if errors.Is(err, config.ErrNotFound) {
		return ErrKeyNotFound
	}
	return err
}
