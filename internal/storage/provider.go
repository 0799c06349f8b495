// Package storage defines the key-value-of-text persistence abstraction
// beneath the block store. Keys are (owner, label) pairs; values are the
// serialized structured text of one block.
package storage

import (
	"path"
	"strings"

	"github.com/halvard/muninn/internal/models"
)

// Ext is the on-disk file extension for block documents.
const Ext = ".toml"

// Provider is the interface for block document persistence.
type Provider interface {
	// List returns metadata for every block of owner; an empty owner lists
	// all owners.
	List(owner string) ([]models.BlockMetadata, error)
	// Read returns the raw content of the block (owner, label).
	Read(owner, label string) ([]byte, error)
	// Write atomically persists content for (owner, label).
	Write(owner, label string, content []byte) error
	// Delete removes the block document for (owner, label).
	Delete(owner, label string) error
}

// KeyPath maps (owner, label) onto the relative document path.
func KeyPath(owner, label string) string {
	return path.Join(owner, label+Ext)
}

// SplitKey maps a relative document path back onto (owner, label).
func SplitKey(rel string) (owner, label string, ok bool) {
	rel = strings.TrimSuffix(path.Clean(strings.ReplaceAll(rel, "\\", "/")), Ext)
	parts := strings.Split(rel, "/")
	if len(parts) != 2 || !models.ValidName(parts[0]) || !models.ValidName(parts[1]) {
		return "", "", false
	}
	return parts[0], parts[1], true
}
