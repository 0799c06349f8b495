// Package blockstore owns the authoritative current value of every block.
// All mutations flow through Write/Update; nothing else touches storage.
package blockstore

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/halvard/muninn/internal/apperr"
	"github.com/halvard/muninn/internal/models"
	"github.com/halvard/muninn/internal/schema"
	"github.com/halvard/muninn/internal/storage"
)

// Store coordinates schema validation, per-block write serialization, and
// the persistence provider.
type Store struct {
	provider storage.Provider
	schemas  *schema.Registry

	mu    sync.Mutex // guards locks
	locks map[string]*sync.Mutex
}

// New creates a block store over the given provider and schema registry.
func New(provider storage.Provider, schemas *schema.Registry) *Store {
	return &Store{
		provider: provider,
		schemas:  schemas,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Schemas returns the schema registry the store validates against.
func (s *Store) Schemas() *schema.Registry {
	return s.schemas
}

// keyLock returns the mutex serializing writes for one (owner, label).
func (s *Store) keyLock(owner, label string) *sync.Mutex {
	key := storage.KeyPath(owner, label)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Read returns the current committed content of a block.
func (s *Store) Read(_ context.Context, owner, label string) (string, error) {
	data, err := s.provider.Read(owner, label)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", apperr.ErrNotFound
		}
		return "", err
	}
	return string(data), nil
}

// Init creates a block from its schema defaults and returns the content.
func (s *Store) Init(ctx context.Context, owner, label string) (string, error) {
	sc, ok := s.schemas.Lookup(label)
	if !ok {
		return "", &apperr.SchemaError{Key: label, Reason: "no schema declared for block"}
	}

	lock := s.keyLock(owner, label)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.provider.Read(owner, label); err == nil {
		return "", apperr.ErrAlreadyExists
	}
	content := sc.Defaults().Serialize()
	if err := s.provider.Write(owner, label, []byte(content)); err != nil {
		return "", err
	}
	return content, nil
}

// Write validates content against the block's schema and commits it. On
// validation failure the store is unchanged and the error names the
// offending key.
func (s *Store) Write(ctx context.Context, owner, label, content string) error {
	lock := s.keyLock(owner, label)
	lock.Lock()
	defer lock.Unlock()
	return s.write(owner, label, content)
}

// Update runs a read-modify-write cycle under the block's write lock and
// returns the committed content. fn receives the live committed content;
// any error from fn aborts the update with the store untouched. This is
// the mutation primitive the diff engine applies through.
func (s *Store) Update(ctx context.Context, owner, label string, fn func(current string) (string, error)) (string, error) {
	lock := s.keyLock(owner, label)
	lock.Lock()
	defer lock.Unlock()

	data, err := s.provider.Read(owner, label)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", apperr.ErrNotFound
		}
		return "", err
	}
	next, err := fn(string(data))
	if err != nil {
		return "", err
	}
	if err := s.write(owner, label, next); err != nil {
		return "", err
	}
	return next, nil
}

// write validates and persists; callers hold the key lock.
func (s *Store) write(owner, label, content string) error {
	if err := s.schemas.ValidateContent(label, content); err != nil {
		return err
	}
	return s.provider.Write(owner, label, []byte(content))
}

// List returns metadata for every block of owner.
func (s *Store) List(_ context.Context, owner string) ([]models.BlockMetadata, error) {
	return s.provider.List(owner)
}
