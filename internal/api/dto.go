package api

import (
	"github.com/halvard/muninn/internal/index"
	"github.com/halvard/muninn/internal/models"
)

// InitBlockRequest is the request body for creating a block from its schema
// defaults.
type InitBlockRequest struct {
	OwnerID string `json:"owner_id" example:"u1" validate:"required"`
	Label   string `json:"label" example:"human" validate:"required"`
}

// SaveMarkdownRequest is the request body for committing an edited Markdown
// rendering of a block.
type SaveMarkdownRequest struct {
	Markdown string `json:"markdown" validate:"required"`
}

// MarkdownResponse carries the Markdown rendering of a block plus the
// checksum to pass back as If-Match on save.
type MarkdownResponse struct {
	Markdown string `json:"markdown" validate:"required"`
	Checksum string `json:"checksum" example:"abc123..." validate:"required"`
}

// ProposeDiffRequest is the request body for an agent edit proposal.
type ProposeDiffRequest struct {
	OwnerID    string `json:"owner_id" example:"u1" validate:"required"`
	BlockLabel string `json:"block_label" example:"human" validate:"required"`
	Field      string `json:"field,omitempty" example:"summary"`
	Operation  string `json:"operation" example:"replace" validate:"required"`
	OldSnippet string `json:"old_snippet,omitempty"`
	NewValue   string `json:"new_value" validate:"required"`
	Reasoning  string `json:"reasoning" example:"user corrected their name" validate:"required"`
	Confidence string `json:"confidence,omitempty" example:"high"`
	ProposerID string `json:"proposer_id" example:"agent-1" validate:"required"`
}

// BlockDetail is the full block response type (aliased from the domain layer).
type BlockDetail = models.Block

// BlockListItem is a list row enriched with the pending-diff count.
type BlockListItem = index.BlockRow

// BlockListResponse wraps block listings.
type BlockListResponse struct {
	Blocks []BlockListItem `json:"blocks" validate:"required"`
	Total  int             `json:"total" example:"3" validate:"required"`
}

// DiffListResponse wraps pending diff listings.
type DiffListResponse struct {
	Diffs []models.PendingDiff `json:"diffs" validate:"required"`
	Total int                  `json:"total" example:"2" validate:"required"`
}

// SearchResult is a single search hit in the API response.
type SearchResult = index.SearchResult

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}
