package service

import (
	"io"
	"log/slog"
	"testing"

	"github.com/keygate/keygate/internal/config"
)

const testHashSecret = "test-hash-secret-0123456789"

func newTestStore(t *testing.T) *config.Store {
	t.Helper()
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestHasher(t *testing.T) *SecretHasher {
	t.Helper()
	h, err := NewSecretHasher(testHashSecret)
	if err != nil {
		t.Fatalf("NewSecretHasher: %v", err)
	}
	return h
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(v int) *int { return &v }
