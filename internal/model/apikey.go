package model

import (
	"slices"
	"time"
)

// APIKey represents an issued machine credential. The ID is the public half
// of the credential; the secret half is never stored, only a keyed hash of it.
type APIKey struct {
	ID            string     `json:"id" db:"id"`
	SecretHash    string     `json:"-" db:"secret_hash"` // keyed hash, never expose
	OwnerID       string     `json:"owner_id" db:"owner_id"`
	Name          string     `json:"name" db:"name"`
	Description   string     `json:"description" db:"description"`
	Scopes        []string   `json:"scopes"`
	RateLimit     *int       `json:"rate_limit,omitempty" db:"rate_limit"`         // nil = system default
	WindowSeconds *int       `json:"window_seconds,omitempty" db:"window_seconds"` // nil = system default
	ExpiresAt     *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// HasScope reports whether the key carries the given scope tag. An empty
// scope is always satisfied.
func (k *APIKey) HasScope(scope string) bool {
	if scope == "" {
		return true
	}
	return slices.Contains(k.Scopes, scope)
}

// IsExpired reports whether the key's expiry lies at or before now.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// APIKeyUpdate carries a partial update for an API key. Nil fields are left
// untouched; the Clear* flags null out nullable columns.
type APIKeyUpdate struct {
	Name           *string    `json:"name,omitempty"`
	Description    *string    `json:"description,omitempty"`
	Scopes         *[]string  `json:"scopes,omitempty"`
	RateLimit      *int       `json:"rate_limit,omitempty"`
	WindowSeconds  *int       `json:"window_seconds,omitempty"`
	IsActive       *bool      `json:"is_active,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	ClearRateLimit bool       `json:"clear_rate_limit,omitempty"`
	ClearWindow    bool       `json:"clear_window_seconds,omitempty"`
	ClearExpiry    bool       `json:"clear_expiry,omitempty"`
}

// Apply mutates key according to the update.
func (u APIKeyUpdate) Apply(key *APIKey) {
	if u.Name != nil {
		key.Name = *u.Name
	}
	if u.Description != nil {
		key.Description = *u.Description
	}
	if u.Scopes != nil {
		key.Scopes = slices.Clone(*u.Scopes)
	}
	if u.ClearRateLimit {
		key.RateLimit = nil
	} else if u.RateLimit != nil {
		v := *u.RateLimit
		key.RateLimit = &v
	}
	if u.ClearWindow {
		key.WindowSeconds = nil
	} else if u.WindowSeconds != nil {
		v := *u.WindowSeconds
		key.WindowSeconds = &v
	}
	if u.IsActive != nil {
		key.IsActive = *u.IsActive
	}
	if u.ClearExpiry {
		key.ExpiresAt = nil
	} else if u.ExpiresAt != nil {
		v := u.ExpiresAt.UTC()
		key.ExpiresAt = &v
	}
}
