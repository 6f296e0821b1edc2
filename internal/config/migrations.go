package config

import (
	"fmt"
	"strings"
)

// columnTypes maps the portable type placeholders used in migrations to each
// dialect's native type.
var columnTypes = map[string]*strings.Replacer{
	DialectSQLite: strings.NewReplacer(
		"{{ts}}", "DATETIME",
		"{{bool}}", "INTEGER",
		"{{float}}", "REAL",
		"{{if_not_exists}}", "IF NOT EXISTS",
	),
	DialectPostgres: strings.NewReplacer(
		"{{ts}}", "TIMESTAMPTZ",
		"{{bool}}", "BOOLEAN",
		"{{float}}", "DOUBLE PRECISION",
		"{{if_not_exists}}", "IF NOT EXISTS",
	),
	DialectMySQL: strings.NewReplacer(
		"{{ts}}", "DATETIME(6)",
		"{{bool}}", "BOOLEAN",
		"{{float}}", "DOUBLE",
		// MySQL has no IF NOT EXISTS for indexes; duplicates are skipped below.
		"{{if_not_exists}}", "",
	),
}

func (s *Store) migrate() error {
	types, ok := columnTypes[s.dialect]
	if !ok {
		return fmt.Errorf("no migrations for dialect %q", s.dialect)
	}

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS api_keys (
			id VARCHAR(64) PRIMARY KEY,
			secret_hash VARCHAR(128) NOT NULL,
			owner_id VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL,
			scopes_json TEXT NOT NULL,
			rate_limit INTEGER NULL,
			window_seconds INTEGER NULL,
			expires_at {{ts}} NULL,
			is_active {{bool}} NOT NULL,
			created_at {{ts}} NOT NULL,
			updated_at {{ts}} NOT NULL,
			last_used_at {{ts}} NULL
		)`,

		`CREATE INDEX {{if_not_exists}} idx_api_keys_owner ON api_keys(owner_id)`,

		// Usage rows outlive their key; no foreign key on purpose.
		`CREATE TABLE IF NOT EXISTS api_key_usage (
			id VARCHAR(64) PRIMARY KEY,
			api_key_id VARCHAR(64) NOT NULL,
			request_id VARCHAR(128) NOT NULL,
			occurred_at {{ts}} NOT NULL,
			endpoint VARCHAR(512) NOT NULL,
			method VARCHAR(16) NOT NULL,
			status_code INTEGER NOT NULL,
			client_ip VARCHAR(64) NOT NULL,
			user_agent TEXT NOT NULL,
			response_time_seconds {{float}} NOT NULL,
			error TEXT NULL
		)`,

		`CREATE INDEX {{if_not_exists}} idx_api_key_usage_key_time ON api_key_usage(api_key_id, occurred_at)`,
	}

	for _, m := range migrations {
		stmt := types.Replace(m)
		if _, err := s.db.Exec(stmt); err != nil {
			// MySQL re-running CREATE INDEX reports a duplicate key name;
			// treat it as a no-op for idempotent migrations.
			if strings.Contains(err.Error(), "Duplicate key name") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
