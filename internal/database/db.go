package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the database connection and provides initialization
type DB struct {
	*sql.DB
}

// NewDB opens the health history database at dbPath, creating the file and
// its directory when missing.
func NewDB(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Concurrent monitor and CLI writers wait on the file lock instead of failing
	sqlDB, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)

	db := &DB{DB: sqlDB}

	if err := db.initSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// initSchema creates the database tables and indexes
func (db *DB) initSchema() error {
	schema := `
-- One row per provider probe
CREATE TABLE IF NOT EXISTS health_checks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    url TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'unknown', -- healthy, reachable, degraded, timeout, unreachable, error, unknown
    connected BOOLEAN NOT NULL DEFAULT 0,
    status_code INTEGER,
    response_time_ms REAL,
    error_message TEXT,
    checked_at DATETIME NOT NULL
);

-- History lookups per provider, newest first
CREATE INDEX IF NOT EXISTS idx_health_checks_provider ON health_checks(provider, id);

-- Retention cleanup
CREATE INDEX IF NOT EXISTS idx_health_checks_checked_at ON health_checks(checked_at);

-- Grouping by monitor run
CREATE INDEX IF NOT EXISTS idx_health_checks_run_id ON health_checks(run_id);`

	_, err := db.Exec(schema)
	return err
}
