package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/halvard/muninn/internal/storage"
)

// watcherTestEnv sets up a store dir, storage, and DB for watcher tests.
func watcherTestEnv(t *testing.T) (string, storage.Provider, *DB) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	dbFile, err := os.CreateTemp("", "muninn-watcher-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })
	db, err := Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return dir, store, db
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func indexed(db *DB, key string) bool {
	cs, err := db.AllChecksums()
	if err != nil {
		return false
	}
	return cs[key] != ""
}

func TestWatcher_ManualEditIndexed(t *testing.T) {
	dir, store, db := watcherTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string

	go Watch(ctx, db, store, dir, quietLogger(), func(kind, owner, label string) {
		mu.Lock()
		events = append(events, kind+":"+owner+"/"+label)
		mu.Unlock()
	})

	time.Sleep(100 * time.Millisecond)

	// Simulate a human editing a block file directly on disk.
	_ = os.MkdirAll(filepath.Join(dir, "u1"), 0o755)
	time.Sleep(100 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(dir, "u1", "human.toml"), []byte("summary = \"manual\"\n"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return indexed(db, "u1/human.toml")
	}, "manually written block not indexed by watcher")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e == "updated:u1/human" {
				return true
			}
		}
		return false
	}, "expected updated:u1/human callback")
}

func TestWatcher_DeleteRemovesFromIndex(t *testing.T) {
	dir, store, db := watcherTestEnv(t)

	_ = store.Write("u1", "del", []byte("x = \"y\"\n"))
	Sync(db, store, quietLogger())

	if !indexed(db, "u1/del.toml") {
		t.Fatal("precondition: block should be indexed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, store, dir, quietLogger(), nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.Remove(filepath.Join(dir, "u1", "del.toml"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return !indexed(db, "u1/del.toml")
	}, "deleted block still in index")
}

func TestWatcher_RenameReconciles(t *testing.T) {
	dir, store, db := watcherTestEnv(t)

	_ = store.Write("u1", "old", []byte("x = \"y\"\n"))
	Sync(db, store, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, store, dir, quietLogger(), nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.Rename(filepath.Join(dir, "u1", "old.toml"), filepath.Join(dir, "u1", "renamed.toml"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return !indexed(db, "u1/old.toml") && indexed(db, "u1/renamed.toml")
	}, "rename reconciliation failed: old key should be removed and new key indexed")
}

func TestSync_IndexesAndPrunes(t *testing.T) {
	_, store, db := watcherTestEnv(t)

	_ = store.Write("u1", "keep", []byte("a = \"1\"\n"))
	if err := Sync(db, store, quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !indexed(db, "u1/keep.toml") {
		t.Error("block not indexed after sync")
	}

	// Stale entry for a document that no longer exists.
	_ = store.Delete("u1", "keep")
	if err := Sync(db, store, quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if indexed(db, "u1/keep.toml") {
		t.Error("stale entry not pruned by sync")
	}
}
