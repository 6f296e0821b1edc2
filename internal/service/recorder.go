package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/keygate/keygate/internal/model"
)

// UsageStore is the write side of the credential store used for auditing.
type UsageStore interface {
	InsertUsage(ctx context.Context, u *model.APIKeyUsage) error
	TouchAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error
}

// RequestMeta describes the inbound side of a gated request.
type RequestMeta struct {
	RequestID string
	Endpoint  string
	Method    string
	ClientIP  string
	UserAgent string
	StartedAt time.Time
}

// ResponseMeta describes how a gated request ended. Error is empty for
// successful responses.
type ResponseMeta struct {
	StatusCode int
	Duration   time.Duration
	Error      string
}

// RecorderConfig tunes the asynchronous usage writer.
type RecorderConfig struct {
	BufferSize int
	// BlockIfFull makes Record wait for buffer space (bounded by the caller's
	// context) instead of dropping the event.
	BlockIfFull  bool
	WriteTimeout time.Duration
}

// DefaultRecorderConfig returns a 1024-slot buffer with a 5s write timeout.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{BufferSize: 1024, WriteTimeout: 5 * time.Second}
}

// UsageRecorder persists one usage row per gated request on a background
// worker so that the request path never waits for the database.
type UsageRecorder struct {
	store  UsageStore
	cfg    RecorderConfig
	logger *slog.Logger

	ch      chan model.APIKeyUsage
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
	failed  atomic.Uint64

	// mu orders sends against Close: a send holds the read lock, so every
	// queued event lands before done is closed and the worker drains it.
	mu     sync.RWMutex
	closed bool
}

func NewUsageRecorder(store UsageStore, cfg RecorderConfig, logger *slog.Logger) *UsageRecorder {
	def := DefaultRecorderConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &UsageRecorder{
		store:  store,
		cfg:    cfg,
		logger: logger,
		ch:     make(chan model.APIKeyUsage, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *UsageRecorder) run() {
	defer r.wg.Done()

	for {
		select {
		case u := <-r.ch:
			r.write(u)
		case <-r.done:
			for {
				select {
				case u := <-r.ch:
					r.write(u)
				default:
					return
				}
			}
		}
	}
}

func (r *UsageRecorder) write(u model.APIKeyUsage) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()

	if err := r.store.InsertUsage(ctx, &u); err != nil {
		r.failed.Add(1)
		r.logger.Warn("usage write failed", "api_key_id", u.APIKeyID, "error", err)
		return
	}
	if err := r.store.TouchAPIKeyLastUsed(ctx, u.APIKeyID, u.Timestamp); err != nil {
		r.logger.Warn("last used update failed", "api_key_id", u.APIKeyID, "error", err)
	}
}

// Record queues a usage row for key and returns immediately. Recording is
// best effort: the row is dropped when ctx is already done, when the
// recorder is closed, or when the buffer is full and BlockIfFull is unset.
// Every event is either written by the worker or counted in Dropped.
func (r *UsageRecorder) Record(ctx context.Context, key *model.APIKey, req RequestMeta, resp ResponseMeta) {
	if r == nil || key == nil {
		return
	}
	if ctx.Err() != nil {
		r.dropped.Add(1)
		return
	}

	u := model.APIKeyUsage{
		ID:                  newUsageID(),
		APIKeyID:            key.ID,
		RequestID:           req.RequestID,
		Timestamp:           req.StartedAt.UTC(),
		Endpoint:            req.Endpoint,
		Method:              req.Method,
		StatusCode:          resp.StatusCode,
		ClientIP:            req.ClientIP,
		UserAgent:           req.UserAgent,
		ResponseTimeSeconds: resp.Duration.Seconds(),
	}
	if req.StartedAt.IsZero() {
		u.Timestamp = time.Now().UTC()
	}
	if resp.Error != "" {
		msg := resp.Error
		u.Error = &msg
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}

	if !r.cfg.BlockIfFull {
		select {
		case r.ch <- u:
		default:
			r.dropped.Add(1)
			r.logger.Warn("usage buffer full, dropping event", "api_key_id", key.ID)
		}
		return
	}

	select {
	case r.ch <- u:
	case <-ctx.Done():
		r.dropped.Add(1)
	}
}

// Close stops accepting events, drains the buffer and waits for the worker.
func (r *UsageRecorder) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.done)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Dropped returns how many events were discarded without being written.
func (r *UsageRecorder) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

// Failed returns how many queued events the store rejected.
func (r *UsageRecorder) Failed() uint64 {
	if r == nil {
		return 0
	}
	return r.failed.Load()
}

// newUsageID returns a time-ordered UUIDv7, falling back to v4.
func newUsageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
