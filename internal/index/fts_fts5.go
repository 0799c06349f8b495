//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS blocks_fts USING fts5(
			owner_id UNINDEXED,
			label,
			body,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, owner, label, body string) error {
	_, _ = tx.Exec(`DELETE FROM blocks_fts WHERE owner_id = ? AND label = ?`, owner, label)
	_, err := tx.Exec(`INSERT INTO blocks_fts (owner_id, label, body) VALUES (?, ?, ?)`,
		owner, label, body)
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, owner, label string) {
	_, _ = tx.Exec(`DELETE FROM blocks_fts WHERE owner_id = ? AND label = ?`, owner, label)
}

// Search performs an FTS5 full-text search over block content.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT owner_id,
		       label,
		       snippet(blocks_fts, 2, '<b>', '</b>', '...', 64)
		FROM blocks_fts
		WHERE blocks_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.OwnerID, &r.Label, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
