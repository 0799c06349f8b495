package index

import (
	"fmt"
	"time"

	"github.com/halvard/muninn/internal/models"
	"github.com/halvard/muninn/internal/storage"
)

// BlockRow is one row of the blocks index, enriched with the number of
// pending diffs awaiting review.
type BlockRow struct {
	OwnerID      string    `json:"owner_id"`
	Label        string    `json:"label"`
	Checksum     string    `json:"checksum"`
	UpdatedAt    time.Time `json:"updated_at"`
	PendingCount int       `json:"pending_count"`
}

// SearchResult represents one full-text search hit.
type SearchResult struct {
	OwnerID string `json:"owner_id"`
	Label   string `json:"label"`
	Snippet string `json:"snippet"`
}

// UpsertBlock inserts or replaces a block index row and its FTS entry.
func (db *DB) UpsertBlock(m models.BlockMetadata, body string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO blocks (owner_id, label, checksum, body, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, label) DO UPDATE SET
			checksum   = excluded.checksum,
			body       = excluded.body,
			updated_at = excluded.updated_at
	`, m.OwnerID, m.Label, m.Checksum, body, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert block: %w", err)
	}

	// FTS upsert (no-op when the FTS5 tag is absent).
	if err := ftsUpsert(tx, m.OwnerID, m.Label, body); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteBlock removes a block index row and its FTS entry.
func (db *DB) DeleteBlock(owner, label string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, owner, label)
	_, _ = tx.Exec(`DELETE FROM blocks WHERE owner_id = ? AND label = ?`, owner, label)

	return tx.Commit()
}

// ListBlocks returns index rows for an owner (all owners when empty), with
// pending-diff counts, ordered by owner then label.
func (db *DB) ListBlocks(owner string) ([]BlockRow, error) {
	query := `
		SELECT b.owner_id, b.label, b.checksum, b.updated_at,
		       (SELECT COUNT(*) FROM pending_diffs d
		        WHERE d.owner_id = b.owner_id AND d.block_label = b.label)
		FROM blocks b`
	args := []any{}
	if owner != "" {
		query += ` WHERE b.owner_id = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY b.owner_id, b.label`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: list blocks: %w", err)
	}
	defer rows.Close()

	var out []BlockRow
	for rows.Next() {
		var r BlockRow
		if err := rows.Scan(&r.OwnerID, &r.Label, &r.Checksum, &r.UpdatedAt, &r.PendingCount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AllChecksums returns every indexed block checksum keyed by document path.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT owner_id, label, checksum FROM blocks`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var owner, label, cs string
		if err := rows.Scan(&owner, &label, &cs); err != nil {
			return nil, err
		}
		out[storage.KeyPath(owner, label)] = cs
	}
	return out, rows.Err()
}
