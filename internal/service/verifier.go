package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/model"
)

// DefaultVerifyTimeout bounds a single credential lookup.
const DefaultVerifyTimeout = 2 * time.Second

// CredentialStore is the read side of the credential store used during
// verification.
type CredentialStore interface {
	GetAPIKey(ctx context.Context, id string) (*model.APIKey, error)
}

// ParseCredential splits a presented credential "{id}.{secret}" at the first
// dot. Either half being empty is malformed.
func ParseCredential(token string) (id, secret string, err error) {
	id, secret, ok := strings.Cut(token, ".")
	if !ok || id == "" || secret == "" {
		return "", "", ErrMalformedCredential
	}
	return id, secret, nil
}

// Verifier authenticates presented credentials. It never writes.
type Verifier struct {
	store   CredentialStore
	hasher  *SecretHasher
	timeout time.Duration
	now     func() time.Time
}

// NewVerifier creates a [Verifier]. A non-positive timeout uses
// [DefaultVerifyTimeout].
func NewVerifier(store CredentialStore, hasher *SecretHasher, timeout time.Duration) *Verifier {
	if timeout <= 0 {
		timeout = DefaultVerifyTimeout
	}
	return &Verifier{store: store, hasher: hasher, timeout: timeout, now: time.Now}
}

// Verify resolves token to an active, unexpired key whose secret matches.
//
// Every rejection wraps ErrMalformedCredential or ErrInvalidCredential; the
// wrapped reason is for logs and must not reach the caller. Store failures
// wrap ErrCredentialStoreUnavailable and are never treated as success.
func (v *Verifier) Verify(ctx context.Context, token string) (*model.APIKey, error) {
	id, secret, err := ParseCredential(token)
	if err != nil {
		return nil, err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	key, err := v.store.GetAPIKey(lookupCtx, id)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			// Spend the same hashing work as a real comparison.
			_ = v.hasher.Hash(secret)
			return nil, fmt.Errorf("%w: unknown key id", ErrInvalidCredential)
		}
		return nil, fmt.Errorf("%w: %v", ErrCredentialStoreUnavailable, err)
	}

	if !v.hasher.Verify(secret, key.SecretHash) {
		return nil, fmt.Errorf("%w: secret mismatch", ErrInvalidCredential)
	}
	if !key.IsActive {
		return nil, fmt.Errorf("%w: key inactive", ErrInvalidCredential)
	}
	if key.IsExpired(v.now()) {
		return nil, fmt.Errorf("%w: key expired", ErrInvalidCredential)
	}
	return key, nil
}
