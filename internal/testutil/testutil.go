// Package testutil provides shared test helpers for setting up block stores
// and databases.
package testutil

import (
	"log/slog"
	"os"
	"testing"

	"github.com/halvard/muninn/internal/blockstore"
	"github.com/halvard/muninn/internal/index"
	"github.com/halvard/muninn/internal/schema"
	"github.com/halvard/muninn/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "muninn-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStoreDir creates a temporary store directory with a storage.Provider.
func TestStoreDir(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// TestBlockStore creates a block store over a temp directory using the
// built-in default schemas.
func TestBlockStore(t *testing.T) *blockstore.Store {
	t.Helper()
	_, provider := TestStoreDir(t)
	return blockstore.New(provider, schema.Default())
}

// QuietLogger returns a logger that only emits errors, keeping test output
// readable.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
