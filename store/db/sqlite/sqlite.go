// Package sqlite implements store.Store against a local SQLite file using
// the pure-Go modernc.org/sqlite driver (spec §8: SQLite is the only
// supported backend).
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/kestrelai/agentcore/internal/profile"
)

// DB is the concrete store.Store backed by a single SQLite connection.
//
// Notes:
//   - No shared-cache: WAL journal mode is the better solution.
//   - Foreign keys disabled by default but referenced explicitly in schema
//     comments, to stay unsurprised by a future SQLite upgrade.
//   - journal_mode=WAL avoids most single-writer locking stalls.
//
// References:
//   - https://pkg.go.dev/modernc.org/sqlite#Driver.Open
//   - https://www.sqlite.org/pragma.html
type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// Open establishes the connection pool and returns an unmigrated DB.
// Callers must call Migrate before using any store method.
func Open(p *profile.Profile) (*DB, error) {
	if p.DSN == "" {
		return nil, errors.New("dsn required")
	}

	sqliteDB, err := sql.Open("sqlite", p.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", p.DSN)
	}

	// SQLite handles concurrency via WAL + one writer; a single pooled
	// connection avoids SQLITE_BUSY retries entirely rather than masking them.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	return &DB{db: sqliteDB, profile: p}, nil
}

func (d *DB) GetDB() *sql.DB { return d.db }

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) isInitialized(ctx context.Context) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM sqlite_master WHERE type='table' AND name='agent')").Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check if database is initialized")
	}
	return exists, nil
}

// Migrate creates every table idempotently (CREATE TABLE IF NOT EXISTS),
// matching the corpus's migration-by-idempotent-DDL pattern rather than a
// versioned migration runner, since the schema has exactly one shape to
// converge to in this implementation.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to run migration statement: %s", firstLine(stmt))
		}
	}
	return nil
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS agent (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		current_version_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agent_config_version (
		version_id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		parent_version TEXT NOT NULL DEFAULT '',
		timestamp TIMESTAMP NOT NULL,
		change_description TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL,
		temperature REAL NOT NULL,
		top_p REAL NOT NULL,
		max_tokens INTEGER,
		context_window INTEGER NOT NULL,
		reasoning_enabled INTEGER NOT NULL DEFAULT 0,
		max_reasoning_tokens INTEGER,
		system_prompt TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_config_version_agent ON agent_config_version(agent_id)`,
	`CREATE TABLE IF NOT EXISTS memory_block (
		agent_id TEXT NOT NULL,
		label TEXT NOT NULL,
		value TEXT NOT NULL DEFAULT '',
		limit_chars INTEGER NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT '',
		read_only INTEGER NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (agent_id, label)
	)`,
	`CREATE TABLE IF NOT EXISTS memory_item (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding TEXT,
		importance REAL NOT NULL DEFAULT 0,
		category TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		last_accessed_at TIMESTAMP NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_item_agent_tier ON memory_item(agent_id, tier)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_item_last_accessed ON memory_item(last_accessed_at)`,
	`CREATE TABLE IF NOT EXISTS association (
		a_id TEXT NOT NULL,
		b_id TEXT NOT NULL,
		strength REAL NOT NULL DEFAULT 0,
		last_reinforced TIMESTAMP NOT NULL,
		PRIMARY KEY (a_id, b_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_association_b ON association(b_id)`,
	`CREATE TABLE IF NOT EXISTS message (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT 'inbox',
		tool_calls TEXT NOT NULL DEFAULT '[]',
		thinking TEXT NOT NULL DEFAULT '',
		reasoning_time_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (session_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS archived_prefix (
		session_id TEXT NOT NULL,
		through_seq INTEGER NOT NULL,
		compressed_blob BLOB NOT NULL,
		archived_at TIMESTAMP NOT NULL,
		PRIMARY KEY (session_id, through_seq)
	)`,
	`CREATE TABLE IF NOT EXISTS usage_record (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		reasoning_tokens INTEGER NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0,
		tool_calls_made INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_record_session ON usage_record(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_record_model ON usage_record(model)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_record_timestamp ON usage_record(timestamp)`,
}
