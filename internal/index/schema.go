// Package index provides the SQLite layer: a rebuildable search index over
// block content plus the authoritative pending-diff records, with optional
// FTS5 full-text search.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS blocks (
	owner_id   TEXT NOT NULL,
	label      TEXT NOT NULL,
	checksum   TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (owner_id, label)
);

CREATE TABLE IF NOT EXISTS pending_diffs (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	block_label TEXT NOT NULL,
	field       TEXT NOT NULL DEFAULT '',
	operation   TEXT NOT NULL,
	old_snippet TEXT NOT NULL DEFAULT '',
	new_value   TEXT NOT NULL DEFAULT '',
	reasoning   TEXT NOT NULL,
	confidence  TEXT NOT NULL DEFAULT 'medium',
	proposer_id TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_diffs_block ON pending_diffs(owner_id, block_label);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
