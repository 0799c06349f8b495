package index

import (
	"log/slog"

	"github.com/halvard/muninn/internal/storage"
)

// Sync walks the block store and brings the index up to date:
//   - new/changed documents are re-indexed
//   - documents removed from disk are deleted from the index
//
// Pending diffs are untouched: the blocks index is a rebuildable cache,
// the pending_diffs table is authoritative state.
func Sync(db *DB, store storage.Provider, logger *slog.Logger) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		key := storage.KeyPath(m.OwnerID, m.Label)
		disk[key] = struct{}{}

		if checksums[key] == m.Checksum {
			continue
		}

		data, err := store.Read(m.OwnerID, m.Label)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("block", key), slog.String("error", err.Error()))
			continue
		}
		if err := db.UpsertBlock(m, string(data)); err != nil {
			logger.Warn("sync: index failed", slog.String("block", key), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("block", key))
		}
	}

	// Remove stale entries.
	for key := range checksums {
		if _, ok := disk[key]; ok {
			continue
		}
		owner, label, ok := storage.SplitKey(key)
		if !ok {
			continue
		}
		if err := db.DeleteBlock(owner, label); err != nil {
			logger.Warn("sync: delete failed", slog.String("block", key), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: removed stale", slog.String("block", key))
		}
	}

	return nil
}
