package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/halvard/muninn/internal/checksum"
	"github.com/halvard/muninn/internal/models"
	"github.com/halvard/muninn/internal/storage"
)

// EventCallback is called after a watcher-driven index change.
// kind is one of "updated", "deleted".
type EventCallback func(kind, owner, label string)

// Watch starts an fsnotify watcher on the store root and processes document
// change events until ctx is cancelled. It keeps the index consistent with
// out-of-band edits (a human editing block files directly on disk) and calls
// cb (if non-nil) after each successful index mutation.
//
// New owner directories created at runtime are automatically added to the
// watch list. Rename events trigger a debounced reconciliation pass that
// removes stale index entries whose documents no longer exist on disk.
func Watch(ctx context.Context, db *DB, store storage.Provider, root string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirs(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			reconcile(db, store, logger, cb)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := w.Add(ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					// A new owner directory may arrive with documents
					// already inside (e.g. an unpacked backup).
					scheduleReconcile()
					continue
				}
			}

			// Skip atomic-write temp files and anything that is not a
			// block document.
			base := filepath.Base(ev.Name)
			if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, storage.Ext) {
				continue
			}
			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil {
				continue
			}
			owner, label, keyOK := storage.SplitKey(rel)
			if !keyOK {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				data, readErr := store.Read(owner, label)
				if readErr != nil {
					logger.Warn("watcher: read failed", slog.String("block", rel), slog.String("error", readErr.Error()))
					continue
				}
				m := models.BlockMetadata{
					OwnerID:   owner,
					Label:     label,
					Checksum:  checksum.Sum(data),
					UpdatedAt: time.Now(),
				}
				if idxErr := db.UpsertBlock(m, string(data)); idxErr != nil {
					logger.Warn("watcher: index failed", slog.String("block", rel), slog.String("error", idxErr.Error()))
					continue
				}
				logger.Debug("watcher: indexed", slog.String("block", rel))
				if cb != nil {
					cb("updated", owner, label)
				}

			case ev.Op&fsnotify.Remove != 0:
				if delErr := db.DeleteBlock(owner, label); delErr != nil {
					logger.Warn("watcher: delete failed", slog.String("block", rel), slog.String("error", delErr.Error()))
					continue
				}
				logger.Debug("watcher: deleted", slog.String("block", rel))
				if cb != nil {
					cb("deleted", owner, label)
				}

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the OLD path only; the new path
				// arrives as a separate Create event. Drop the old entry
				// and schedule a reconciliation pass for stragglers.
				if delErr := db.DeleteBlock(owner, label); delErr == nil {
					logger.Debug("watcher: rename old deleted", slog.String("block", rel))
					if cb != nil {
						cb("deleted", owner, label)
					}
				}
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// reconcile compares disk state with the index using batch lookups, removing
// stale entries and indexing documents the event stream missed.
func reconcile(db *DB, store storage.Provider, logger *slog.Logger, cb EventCallback) {
	checksums, err := db.AllChecksums()
	if err != nil {
		logger.Warn("reconcile: all checksums failed", slog.String("error", err.Error()))
		return
	}

	metas, err := store.List("")
	if err != nil {
		logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]models.BlockMetadata, len(metas))
	for _, m := range metas {
		disk[storage.KeyPath(m.OwnerID, m.Label)] = m
	}

	for key := range checksums {
		if _, ok := disk[key]; ok {
			continue
		}
		owner, label, ok := storage.SplitKey(key)
		if !ok {
			continue
		}
		if delErr := db.DeleteBlock(owner, label); delErr == nil {
			logger.Debug("reconcile: removed stale", slog.String("block", key))
			if cb != nil {
				cb("deleted", owner, label)
			}
		}
	}

	for key, m := range disk {
		if checksums[key] == m.Checksum {
			continue
		}
		data, readErr := store.Read(m.OwnerID, m.Label)
		if readErr != nil {
			continue
		}
		m.Checksum = checksum.Sum(data)
		if idxErr := db.UpsertBlock(m, string(data)); idxErr == nil {
			logger.Debug("reconcile: indexed", slog.String("block", key))
			if cb != nil {
				cb("updated", m.OwnerID, m.Label)
			}
		}
	}
}

// addDirs adds root and all its owner subdirectories to the watcher.
func addDirs(w *fsnotify.Watcher, root string) error {
	if err := w.Add(root); err != nil {
		return err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.Add(filepath.Join(root, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}
