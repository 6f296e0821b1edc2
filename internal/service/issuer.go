package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/keygate/keygate/internal/model"
)

// KeyIDPrefix starts every public key id.
const KeyIDPrefix = "key_"

// KeyCreator persists newly issued keys.
type KeyCreator interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
}

// IssueParams describes a key to mint. Nil limits fall back to the system
// defaults; nil ExpiresInDays means the key never expires.
type IssueParams struct {
	OwnerID       string   `json:"owner_id"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`
	RateLimit     *int     `json:"rate_limit,omitempty"`
	WindowSeconds *int     `json:"window_seconds,omitempty"`
	ExpiresInDays *int     `json:"expires_in_days,omitempty"`
}

// IssuedKey is returned exactly once, at creation. Credential is the only
// place the plaintext secret ever appears.
type IssuedKey struct {
	Credential string        `json:"api_key"`
	Key        *model.APIKey `json:"key"`
}

// KeyIssuer mints credentials and persists their hashed form.
type KeyIssuer struct {
	store  KeyCreator
	hasher *SecretHasher
	now    func() time.Time
}

func NewKeyIssuer(store KeyCreator, hasher *SecretHasher) *KeyIssuer {
	return &KeyIssuer{store: store, hasher: hasher, now: time.Now}
}

// Issue validates p, generates a fresh id and secret, stores the key and
// returns the "{id}.{secret}" credential. Nothing is written when validation
// fails.
func (i *KeyIssuer) Issue(ctx context.Context, p IssueParams) (*IssuedKey, error) {
	owner := strings.TrimSpace(p.OwnerID)
	if owner == "" {
		return nil, fmt.Errorf("%w: owner_id is required", ErrValidation)
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if err := validatePositive("rate_limit", p.RateLimit); err != nil {
		return nil, err
	}
	if err := validatePositive("window_seconds", p.WindowSeconds); err != nil {
		return nil, err
	}
	if err := validatePositive("expires_in_days", p.ExpiresInDays); err != nil {
		return nil, err
	}
	scopes, err := normalizeScopes(p.Scopes)
	if err != nil {
		return nil, err
	}

	id, err := newKeyID()
	if err != nil {
		return nil, err
	}
	secret, err := newSecret()
	if err != nil {
		return nil, err
	}

	now := i.now().UTC()
	key := &model.APIKey{
		ID:            id,
		SecretHash:    i.hasher.Hash(secret),
		OwnerID:       owner,
		Name:          name,
		Description:   p.Description,
		Scopes:        scopes,
		RateLimit:     copyInt(p.RateLimit),
		WindowSeconds: copyInt(p.WindowSeconds),
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if p.ExpiresInDays != nil {
		exp := now.AddDate(0, 0, *p.ExpiresInDays)
		key.ExpiresAt = &exp
	}

	if err := i.store.CreateAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("issue api key: %w", err)
	}

	return &IssuedKey{Credential: id + "." + secret, Key: key}, nil
}

// newKeyID returns "key_" followed by 128 random bits in hex.
func newKeyID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate key id: %w", err)
	}
	return KeyIDPrefix + hex.EncodeToString(b[:]), nil
}

// newSecret returns 256 random bits, base64url encoded without padding.
func newSecret() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

func validatePositive(field string, v *int) error {
	if v != nil && *v <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrValidation, field)
	}
	return nil
}

// normalizeScopes trims and de-duplicates scope tags, preserving order.
func normalizeScopes(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, fmt.Errorf("%w: scopes must not be empty", ErrValidation)
		}
		if strings.ContainsAny(s, " \t\r\n") {
			return nil, fmt.Errorf("%w: scope %q contains whitespace", ErrValidation, s)
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
