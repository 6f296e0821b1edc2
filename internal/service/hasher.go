package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// MinHashSecretLen is the shortest server secret accepted by [NewSecretHasher].
const MinHashSecretLen = 16

// SecretHasher derives the stored form of a credential secret. The hash is
// HMAC-SHA256 keyed by a server secret held outside the credential store, so
// a leaked table cannot be brute-forced offline without it.
type SecretHasher struct {
	key []byte
}

func NewSecretHasher(serverSecret string) (*SecretHasher, error) {
	if len(serverSecret) < MinHashSecretLen {
		return nil, fmt.Errorf("hash secret must be at least %d bytes", MinHashSecretLen)
	}
	return &SecretHasher{key: []byte(serverSecret)}, nil
}

// Hash returns hex(HMAC-SHA256(serverSecret, secret)).
func (h *SecretHasher) Hash(secret string) string {
	return hex.EncodeToString(h.sum(secret))
}

// Verify reports whether secret hashes to storedHash. The comparison runs in
// constant time; a malformed storedHash simply fails.
func (h *SecretHasher) Verify(secret, storedHash string) bool {
	want, err := hex.DecodeString(storedHash)
	if err != nil || len(want) != sha256.Size {
		return false
	}
	return subtle.ConstantTimeCompare(h.sum(secret), want) == 1
}

func (h *SecretHasher) sum(secret string) []byte {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(secret))
	return mac.Sum(nil)
}
