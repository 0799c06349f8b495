package index

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/halvard/muninn/internal/apperr"
	"github.com/halvard/muninn/internal/models"
)

const diffColumns = `id, owner_id, block_label, field, operation, old_snippet,
	new_value, reasoning, confidence, proposer_id, created_at`

// InsertDiff persists a newly proposed diff.
func (db *DB) InsertDiff(d models.PendingDiff) error {
	_, err := db.conn.Exec(`
		INSERT INTO pending_diffs (`+diffColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.OwnerID, d.BlockLabel, d.Field, string(d.Operation),
		d.OldSnippet, d.NewValue, d.Reasoning, string(d.Confidence),
		d.ProposerID, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("index: insert diff: %w", err)
	}
	return nil
}

// GetDiff returns the pending diff with the given id.
func (db *DB) GetDiff(id string) (*models.PendingDiff, error) {
	row := db.conn.QueryRow(`SELECT `+diffColumns+` FROM pending_diffs WHERE id = ?`, id)
	d, err := scanDiff(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get diff: %w", err)
	}
	return d, nil
}

// DeleteDiff removes a diff record; apperr.ErrNotFound when the id is
// unknown or already terminal.
func (db *DB) DeleteDiff(id string) error {
	res, err := db.conn.Exec(`DELETE FROM pending_diffs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("index: delete diff: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("index: delete diff: %w", err)
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// ListDiffs returns all pending diffs for a block in insertion order.
func (db *DB) ListDiffs(owner, label string) ([]models.PendingDiff, error) {
	rows, err := db.conn.Query(`
		SELECT `+diffColumns+`
		FROM pending_diffs
		WHERE owner_id = ? AND block_label = ?
		ORDER BY rowid
	`, owner, label)
	if err != nil {
		return nil, fmt.Errorf("index: list diffs: %w", err)
	}
	defer rows.Close()

	var out []models.PendingDiff
	for rows.Next() {
		d, err := scanDiff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDiff(s scanner) (*models.PendingDiff, error) {
	var d models.PendingDiff
	var op, conf string
	if err := s.Scan(&d.ID, &d.OwnerID, &d.BlockLabel, &d.Field, &op,
		&d.OldSnippet, &d.NewValue, &d.Reasoning, &conf,
		&d.ProposerID, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Operation = models.Operation(op)
	d.Confidence = models.Confidence(conf)
	return &d, nil
}
