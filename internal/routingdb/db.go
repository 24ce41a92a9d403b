// Package routingdb is the embedded SQL store behind the smart router:
// model catalog cache, per-project preferences, and the append-only
// stats/trace tables. Single writer, WAL mode.
package routingdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle plus the serialised writer.
type DB struct {
	db     *sql.DB
	writer *writer
}

// migration is one numbered schema step. Migrations apply in order,
// each inside its own transaction; any failure aborts startup.
type migration struct {
	id  string
	ddl string
}

var migrations = []migration{
	{
		id: "0001_models",
		ddl: `
CREATE TABLE IF NOT EXISTS models (
    id TEXT PRIMARY KEY,
    provider TEXT NOT NULL,
    name TEXT NOT NULL,
    display_name TEXT,
    family TEXT,
    parameter_size TEXT,
    quantization TEXT,
    context_length INTEGER NOT NULL CHECK (context_length >= 1),
    capabilities_json TEXT NOT NULL DEFAULT '[]',
    cost_per_1k_tokens_in REAL NOT NULL DEFAULT 0,
    cost_per_1k_tokens_out REAL NOT NULL DEFAULT 0,
    latency_avg_ms REAL,
    success_rate REAL NOT NULL DEFAULT 1.0,
    available INTEGER NOT NULL DEFAULT 1,
    last_checked INTEGER NOT NULL DEFAULT 0,
    metadata_json TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_models_provider ON models(provider);
CREATE INDEX IF NOT EXISTS idx_models_available_provider ON models(available, provider);
CREATE INDEX IF NOT EXISTS idx_models_family ON models(family);
`,
	},
	{
		id: "0002_routing_core",
		ddl: `
CREATE TABLE IF NOT EXISTS routing_prefs (
    project TEXT PRIMARY KEY,
    prefer_local INTEGER NOT NULL DEFAULT 1,
    max_cloud_cost_cents INTEGER NOT NULL DEFAULT 0,
    last_alias TEXT,
    last_model TEXT,
    escalation_threshold TEXT NOT NULL DEFAULT 'medium',
    updated_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS routing_stats (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    project TEXT NOT NULL,
    alias TEXT,
    model TEXT NOT NULL,
    provider TEXT NOT NULL,
    intent TEXT NOT NULL,
    size_hint TEXT NOT NULL,
    latency_ms INTEGER NOT NULL DEFAULT 0,
    total_duration_ms INTEGER NOT NULL DEFAULT 0,
    tokens_in INTEGER NOT NULL DEFAULT 0 CHECK (tokens_in >= 0),
    tokens_out INTEGER NOT NULL DEFAULT 0 CHECK (tokens_out >= 0),
    cost_cents REAL NOT NULL DEFAULT 0,
    success INTEGER NOT NULL DEFAULT 1,
    error_code TEXT,
    escalated INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS routing_trace (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    project TEXT,
    trace_json TEXT NOT NULL,
    decision_reason TEXT,
    candidates_json TEXT,
    created_at INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_stats_project_created ON routing_stats(project, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_stats_model ON routing_stats(model);
CREATE INDEX IF NOT EXISTS idx_stats_provider ON routing_stats(provider);
CREATE INDEX IF NOT EXISTS idx_stats_request ON routing_stats(request_id);
CREATE INDEX IF NOT EXISTS idx_trace_request ON routing_trace(request_id);
`,
	},
}

// Open opens (creating if needed) the routing database and applies
// migrations. Pass ":memory:" for tests.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&"
	} else {
		dsn += "?"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open routing db: %w", err)
	}
	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	d := &DB{db: db}
	d.writer = newWriter(db)
	return d, nil
}

func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (id TEXT PRIMARY KEY, applied_at INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	for _, m := range migrations {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE id = ?`, m.id).Scan(&count); err != nil {
			tx.Rollback()
			return err
		}
		if count == 0 {
			if _, err := tx.Exec(m.ddl); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %s: %w", m.id, err)
			}
			if _, err := tx.Exec(`INSERT INTO schema_migrations (id, applied_at) VALUES (?, strftime('%s','now'))`, m.id); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %s: %w", m.id, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %s: %w", m.id, err)
		}
	}
	return nil
}

// Close flushes pending writes and closes the handle.
func (d *DB) Close() error {
	d.writer.stop()
	return d.db.Close()
}
