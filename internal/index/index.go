package index

import "github.com/halvard/muninn/internal/models"

// BlockIndex defines the interface for index operations. Consumers should
// depend on this interface rather than the concrete *DB type to facilitate
// testing with mocks.
type BlockIndex interface {
	UpsertBlock(m models.BlockMetadata, body string) error
	DeleteBlock(owner, label string) error
	ListBlocks(owner string) ([]BlockRow, error)
	AllChecksums() (map[string]string, error)
	Search(query string, limit int) ([]SearchResult, error)

	InsertDiff(d models.PendingDiff) error
	GetDiff(id string) (*models.PendingDiff, error)
	DeleteDiff(id string) error
	ListDiffs(owner, label string) ([]models.PendingDiff, error)

	Close() error
}

// Verify *DB satisfies BlockIndex at compile time.
var _ BlockIndex = (*DB)(nil)
