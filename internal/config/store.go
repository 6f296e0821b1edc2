package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/keygate/keygate/internal/model"
)

// Supported credential store dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// PoolConfig controls the connection pool of a networked credential store.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig returns pool settings suitable for a single gateway instance.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Store is the credential store. It persists API keys and their append-only
// usage history in SQLite, PostgreSQL or MySQL.
type Store struct {
	db      *sqlx.DB
	dialect string
}

// NewStore opens the SQLite credential store under dataDir. Pass empty string
// for an in-memory store.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL&_time_format=sqlite"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "keygate.db") + "?_journal_mode=WAL&_busy_timeout=5000&_time_format=sqlite"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open credential database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	return newStore(db, DialectSQLite)
}

// Open connects to a credential store of the given dialect. For sqlite the
// dsn is a data directory, as in NewStore.
func Open(dialect, dsn string, pool PoolConfig) (*Store, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch dialect {
	case DialectSQLite, "":
		return NewStore(dsn)
	case DialectPostgres:
		db, err = sqlx.Connect("pgx", dsn)
	case DialectMySQL:
		dsn, err = normalizeMySQLDSN(dsn)
		if err != nil {
			return nil, err
		}
		db, err = sqlx.Connect("mysql", dsn)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedDriver, dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("%s connect: %w", dialect, err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	return newStore(db, dialect)
}

func newStore(db *sqlx.DB, dialect string) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate credential database: %w", err)
	}
	return s, nil
}

// normalizeMySQLDSN forces parseTime and UTC so DATETIME columns scan into
// time.Time values.
func normalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// Dialect returns the SQL dialect the store was opened with.
func (s *Store) Dialect() string {
	return s.dialect
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// apiKeyRow maps 1:1 to the api_keys table. Scopes are stored as a JSON array.
type apiKeyRow struct {
	ID            string     `db:"id"`
	SecretHash    string     `db:"secret_hash"`
	OwnerID       string     `db:"owner_id"`
	Name          string     `db:"name"`
	Description   string     `db:"description"`
	ScopesJSON    string     `db:"scopes_json"`
	RateLimit     *int       `db:"rate_limit"`
	WindowSeconds *int       `db:"window_seconds"`
	ExpiresAt     *time.Time `db:"expires_at"`
	IsActive      bool       `db:"is_active"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
	LastUsedAt    *time.Time `db:"last_used_at"`
}

func apiKeyRowFromModel(k *model.APIKey) (apiKeyRow, error) {
	scopes := k.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return apiKeyRow{}, fmt.Errorf("marshal scopes: %w", err)
	}
	return apiKeyRow{
		ID:            k.ID,
		SecretHash:    k.SecretHash,
		OwnerID:       k.OwnerID,
		Name:          k.Name,
		Description:   k.Description,
		ScopesJSON:    string(scopesJSON),
		RateLimit:     k.RateLimit,
		WindowSeconds: k.WindowSeconds,
		ExpiresAt:     utcPtr(k.ExpiresAt),
		IsActive:      k.IsActive,
		CreatedAt:     k.CreatedAt.UTC(),
		UpdatedAt:     k.UpdatedAt.UTC(),
		LastUsedAt:    utcPtr(k.LastUsedAt),
	}, nil
}

func (r apiKeyRow) toModel() (model.APIKey, error) {
	var scopes []string
	if r.ScopesJSON != "" {
		if err := json.Unmarshal([]byte(r.ScopesJSON), &scopes); err != nil {
			return model.APIKey{}, fmt.Errorf("unmarshal scopes for key %s: %w", r.ID, err)
		}
	}
	if scopes == nil {
		scopes = []string{}
	}
	return model.APIKey{
		ID:            r.ID,
		SecretHash:    r.SecretHash,
		OwnerID:       r.OwnerID,
		Name:          r.Name,
		Description:   r.Description,
		Scopes:        scopes,
		RateLimit:     r.RateLimit,
		WindowSeconds: r.WindowSeconds,
		ExpiresAt:     utcPtr(r.ExpiresAt),
		IsActive:      r.IsActive,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
		LastUsedAt:    utcPtr(r.LastUsedAt),
	}, nil
}

const apiKeyColumns = `id, secret_hash, owner_id, name, description, scopes_json, rate_limit,
	window_seconds, expires_at, is_active, created_at, updated_at, last_used_at`

// CreateAPIKey inserts a new API key record. ID and SecretHash must already be
// set. CreatedAt and UpdatedAt are populated when zero.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	now := time.Now().UTC()
	if key.CreatedAt.IsZero() {
		key.CreatedAt = now
	}
	if key.UpdatedAt.IsZero() {
		key.UpdatedAt = key.CreatedAt
	}

	row, err := apiKeyRowFromModel(key)
	if err != nil {
		return err
	}

	const q = `INSERT INTO api_keys
		(id, secret_hash, owner_id, name, description, scopes_json, rate_limit, window_seconds,
		 expires_at, is_active, created_at, updated_at, last_used_at)
		VALUES
		(:id, :secret_hash, :owner_id, :name, :description, :scopes_json, :rate_limit, :window_seconds,
		 :expires_at, :is_active, :created_at, :updated_at, :last_used_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetAPIKey returns the API key with the given public id.
func (s *Store) GetAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	var row apiKeyRow
	q := s.db.Rebind("SELECT " + apiKeyColumns + " FROM api_keys WHERE id = ?")
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	key, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// ListAPIKeys returns the API keys of one owner, or all keys when ownerID is
// empty, newest first.
func (s *Store) ListAPIKeys(ctx context.Context, ownerID string) ([]model.APIKey, error) {
	var (
		rows []apiKeyRow
		err  error
	)
	if ownerID == "" {
		err = s.db.SelectContext(ctx, &rows,
			"SELECT "+apiKeyColumns+" FROM api_keys ORDER BY created_at DESC, id")
	} else {
		err = s.db.SelectContext(ctx, &rows,
			s.db.Rebind("SELECT "+apiKeyColumns+" FROM api_keys WHERE owner_id = ? ORDER BY created_at DESC, id"),
			ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}

	keys := make([]model.APIKey, 0, len(rows))
	for _, r := range rows {
		k, err := r.toModel()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// UpdateAPIKey writes the mutable fields of key (name, description, scopes,
// rate limit, window, expiry, active flag). UpdatedAt is refreshed.
func (s *Store) UpdateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.UpdatedAt = time.Now().UTC()
	row, err := apiKeyRowFromModel(key)
	if err != nil {
		return err
	}

	const q = `UPDATE api_keys SET
		name = :name, description = :description, scopes_json = :scopes_json,
		rate_limit = :rate_limit, window_seconds = :window_seconds, expires_at = :expires_at,
		is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAPIKey physically removes an API key. Its usage history is kept.
func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM api_keys WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchAPIKeyLastUsed moves last_used_at forward to at. Older timestamps and
// deleted keys are ignored.
func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	q := s.db.Rebind(`UPDATE api_keys SET last_used_at = ?
		WHERE id = ? AND (last_used_at IS NULL OR last_used_at < ?)`)
	if _, err := s.db.ExecContext(ctx, q, at, id, at); err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Usage history
// ---------------------------------------------------------------------------

type usageRow struct {
	ID                  string    `db:"id"`
	APIKeyID            string    `db:"api_key_id"`
	RequestID           string    `db:"request_id"`
	OccurredAt          time.Time `db:"occurred_at"`
	Endpoint            string    `db:"endpoint"`
	Method              string    `db:"method"`
	StatusCode          int       `db:"status_code"`
	ClientIP            string    `db:"client_ip"`
	UserAgent           string    `db:"user_agent"`
	ResponseTimeSeconds float64   `db:"response_time_seconds"`
	Error               *string   `db:"error"`
}

func (r usageRow) toModel() model.APIKeyUsage {
	return model.APIKeyUsage{
		ID:                  r.ID,
		APIKeyID:            r.APIKeyID,
		RequestID:           r.RequestID,
		Timestamp:           r.OccurredAt.UTC(),
		Endpoint:            r.Endpoint,
		Method:              r.Method,
		StatusCode:          r.StatusCode,
		ClientIP:            r.ClientIP,
		UserAgent:           r.UserAgent,
		ResponseTimeSeconds: r.ResponseTimeSeconds,
		Error:               r.Error,
	}
}

// InsertUsage appends a usage row. There is deliberately no update or
// single-row delete for usage.
func (s *Store) InsertUsage(ctx context.Context, u *model.APIKeyUsage) error {
	if u.ID == "" {
		return errors.New("insert usage: missing id")
	}
	row := usageRow{
		ID:                  u.ID,
		APIKeyID:            u.APIKeyID,
		RequestID:           u.RequestID,
		OccurredAt:          u.Timestamp.UTC(),
		Endpoint:            u.Endpoint,
		Method:              u.Method,
		StatusCode:          u.StatusCode,
		ClientIP:            u.ClientIP,
		UserAgent:           u.UserAgent,
		ResponseTimeSeconds: u.ResponseTimeSeconds,
		Error:               u.Error,
	}

	const q = `INSERT INTO api_key_usage
		(id, api_key_id, request_id, occurred_at, endpoint, method, status_code, client_ip,
		 user_agent, response_time_seconds, error)
		VALUES
		(:id, :api_key_id, :request_id, :occurred_at, :endpoint, :method, :status_code, :client_ip,
		 :user_agent, :response_time_seconds, :error)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

// ListUsage returns a page of usage rows for one key, newest first, together
// with the total number of rows matching the filter.
func (s *Store) ListUsage(ctx context.Context, f model.UsageFilter) (*model.UsagePage, error) {
	where := []string{"api_key_id = ?"}
	args := []any{f.APIKeyID}
	if !f.From.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		where = append(where, "occurred_at < ?")
		args = append(args, f.To.UTC())
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := s.db.GetContext(ctx, &total,
		s.db.Rebind("SELECT COUNT(*) FROM api_key_usage WHERE "+cond), args...); err != nil {
		return nil, fmt.Errorf("count usage: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	q := s.db.Rebind(`SELECT id, api_key_id, request_id, occurred_at, endpoint, method, status_code,
		client_ip, user_agent, response_time_seconds, error
		FROM api_key_usage WHERE ` + cond + ` ORDER BY occurred_at DESC, id DESC LIMIT ? OFFSET ?`)

	var rows []usageRow
	if err := s.db.SelectContext(ctx, &rows, q, append(args, limit, offset)...); err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}

	items := make([]model.APIKeyUsage, len(rows))
	for i, r := range rows {
		items[i] = r.toModel()
	}
	return &model.UsagePage{Items: items, Total: total}, nil
}

// PruneUsage deletes usage rows older than before and returns how many were
// removed. This is the retention policy, not a per-row mutation.
func (s *Store) PruneUsage(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("DELETE FROM api_key_usage WHERE occurred_at < ?"), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune usage: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune usage rows affected: %w", err)
	}
	return n, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
