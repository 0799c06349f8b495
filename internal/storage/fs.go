package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/halvard/muninn/internal/checksum"
	"github.com/halvard/muninn/internal/models"
)

// FS implements Provider backed by the local file system: one document per
// block at <root>/<owner>/<label>.toml.
type FS struct {
	root string // absolute path to the store directory
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute store directory (used by the file watcher).
func (f *FS) Root() string {
	return f.root
}

// docPath validates the key and resolves the absolute document path. Name
// validation doubles as traversal protection: neither component can contain
// a separator or a dot prefix.
func (f *FS) docPath(owner, label string) (string, error) {
	if !models.ValidName(owner) {
		return "", fmt.Errorf("storage: invalid owner %q", owner)
	}
	if !models.ValidName(label) {
		return "", fmt.Errorf("storage: invalid label %q", label)
	}
	return filepath.Join(f.root, owner, label+Ext), nil
}

// List walks the store and returns metadata for every block document of
// owner (all owners when empty).
func (f *FS) List(owner string) ([]models.BlockMetadata, error) {
	base := f.root
	if owner != "" {
		if !models.ValidName(owner) {
			return nil, fmt.Errorf("storage: invalid owner %q", owner)
		}
		base = filepath.Join(f.root, owner)
		if _, err := os.Stat(base); os.IsNotExist(err) {
			return nil, nil
		}
	}

	var out []models.BlockMetadata
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), Ext) {
			return nil
		}
		rel, relErr := filepath.Rel(f.root, p)
		if relErr != nil {
			return relErr
		}
		o, l, ok := SplitKey(rel)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out = append(out, models.BlockMetadata{
			OwnerID:   o,
			Label:     l,
			Checksum:  checksum.Sum(data),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return out, nil
}

// Read returns the raw bytes of a block document.
func (f *FS) Read(owner, label string) ([]byte, error) {
	abs, err := f.docPath(owner, label)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s/%s: %w", owner, label, err)
	}
	return data, nil
}

// Write atomically writes content: tmp file, fsync, rename. A concurrent
// reader sees either the old or the new document, never a partial one.
func (f *FS) Write(owner, label string, content []byte) error {
	abs, err := f.docPath(owner, label)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".muninn-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// Delete removes a block document.
func (f *FS) Delete(owner, label string) error {
	abs, err := f.docPath(owner, label)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s/%s: %w", owner, label, err)
	}
	return nil
}
