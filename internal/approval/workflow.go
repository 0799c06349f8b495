// Package approval is the service façade over blocks and pending diffs. It
// ties the block store, the diff engine, the search index, and the event
// broker together: every mutation re-indexes the block and notifies
// subscribers, so HTTP and MCP callers share one code path.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/halvard/muninn/internal/apperr"
	"github.com/halvard/muninn/internal/blockstore"
	"github.com/halvard/muninn/internal/checksum"
	"github.com/halvard/muninn/internal/convert"
	"github.com/halvard/muninn/internal/diff"
	"github.com/halvard/muninn/internal/index"
	"github.com/halvard/muninn/internal/models"
)

// Publisher receives change notifications for SSE fan-out.
type Publisher interface {
	PublishDiffEvent(kind string, d models.PendingDiff)
	PublishBlockEvent(kind, owner, label string)
}

// NopPublisher discards all events. Used when no broker is running, e.g.
// the stdio MCP entrypoint.
type NopPublisher struct{}

func (NopPublisher) PublishDiffEvent(string, models.PendingDiff) {}
func (NopPublisher) PublishBlockEvent(string, string, string)    {}

// Reviewer identifies who is deciding on a diff and what they may do.
// Agents never carry the approve capability; only authenticated humans do.
type Reviewer struct {
	ID         string
	CanApprove bool
}

// Workflow exposes the block and diff operations of the service.
type Workflow struct {
	store  *blockstore.Store
	engine *diff.Engine
	idx    index.BlockIndex
	events Publisher
	logger *slog.Logger
}

// New creates a workflow. events may be NopPublisher.
func New(store *blockstore.Store, engine *diff.Engine, idx index.BlockIndex, events Publisher, logger *slog.Logger) *Workflow {
	if events == nil {
		events = NopPublisher{}
	}
	return &Workflow{store: store, engine: engine, idx: idx, events: events, logger: logger}
}

// InitBlock creates a block from its schema defaults.
func (w *Workflow) InitBlock(ctx context.Context, owner, label string) (*models.Block, error) {
	content, err := w.store.Init(ctx, owner, label)
	if err != nil {
		return nil, err
	}
	b := w.reindex(owner, label, content)
	w.events.PublishBlockEvent("block.created", owner, label)
	return b, nil
}

// GetBlock returns a block with its current content and checksum.
func (w *Workflow) GetBlock(ctx context.Context, owner, label string) (*models.Block, error) {
	content, err := w.store.Read(ctx, owner, label)
	if err != nil {
		return nil, err
	}
	return w.block(owner, label, content), nil
}

// ListBlocks returns index rows (with pending-diff counts) for an owner,
// or for all owners when owner is empty.
func (w *Workflow) ListBlocks(ctx context.Context, owner string) ([]index.BlockRow, error) {
	return w.idx.ListBlocks(owner)
}

// Search runs a full-text query over block contents.
func (w *Workflow) Search(ctx context.Context, query string, limit int) ([]index.SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	return w.idx.Search(query, limit)
}

// GetBlockMarkdown renders a block as editable Markdown. The returned
// checksum is over the underlying structured content and doubles as the
// If-Match token for SaveBlockMarkdown.
func (w *Workflow) GetBlockMarkdown(ctx context.Context, owner, label string) (markdown, sum string, err error) {
	content, err := w.store.Read(ctx, owner, label)
	if err != nil {
		return "", "", err
	}
	return convert.ToMarkdown(content, label), checksum.SumString(content), nil
}

// SaveBlockMarkdown converts edited Markdown back to structured content and
// commits it. A non-empty ifMatch must equal the current content checksum;
// a mismatch fails with apperr.ErrConflict and the block untouched.
func (w *Workflow) SaveBlockMarkdown(ctx context.Context, owner, label, markdown, ifMatch string) (*models.Block, error) {
	content, meta, err := convert.FromMarkdown(markdown)
	if err != nil {
		return nil, err
	}
	if meta.Block != "" && meta.Block != label {
		w.logger.Warn("markdown frontmatter names a different block",
			slog.String("frontmatter", meta.Block),
			slog.String("target", owner+"/"+label))
	}

	committed, err := w.store.Update(ctx, owner, label, func(current string) (string, error) {
		if ifMatch != "" && checksum.SumString(current) != ifMatch {
			return "", fmt.Errorf("%w: block changed since it was fetched", apperr.ErrConflict)
		}
		return content, nil
	})
	if err != nil {
		return nil, err
	}

	b := w.reindex(owner, label, committed)
	w.events.PublishBlockEvent("block.updated", owner, label)
	return b, nil
}

// ProposeEdit records an agent proposal as a pending diff.
func (w *Workflow) ProposeEdit(ctx context.Context, p diff.Proposal) (*models.PendingDiff, error) {
	d, err := w.engine.Propose(ctx, p)
	if err != nil {
		return nil, err
	}
	w.events.PublishDiffEvent("diff.proposed", *d)
	return d, nil
}

// ApproveDiff applies a pending diff on behalf of a reviewer with the
// approve capability.
func (w *Workflow) ApproveDiff(ctx context.Context, id string, reviewer Reviewer) (*models.PendingDiff, error) {
	if !reviewer.CanApprove {
		return nil, fmt.Errorf("%w: reviewer %q cannot approve diffs", apperr.ErrUnauthorized, reviewer.ID)
	}
	d, err := w.engine.Apply(ctx, id)
	if err != nil {
		return nil, err
	}

	content, err := w.store.Read(ctx, d.OwnerID, d.BlockLabel)
	if err == nil {
		w.reindex(d.OwnerID, d.BlockLabel, content)
	}
	w.logger.Info("diff approved",
		slog.String("diff_id", id),
		slog.String("reviewer", reviewer.ID))
	w.events.PublishDiffEvent("diff.applied", *d)
	w.events.PublishBlockEvent("block.updated", d.OwnerID, d.BlockLabel)
	return d, nil
}

// RejectDiff discards a pending diff on behalf of a reviewer with the
// approve capability. Block content is never touched.
func (w *Workflow) RejectDiff(ctx context.Context, id string, reviewer Reviewer) (*models.PendingDiff, error) {
	if !reviewer.CanApprove {
		return nil, fmt.Errorf("%w: reviewer %q cannot reject diffs", apperr.ErrUnauthorized, reviewer.ID)
	}
	d, err := w.engine.Reject(ctx, id)
	if err != nil {
		return nil, err
	}
	w.logger.Info("diff rejected",
		slog.String("diff_id", id),
		slog.String("reviewer", reviewer.ID))
	w.events.PublishDiffEvent("diff.rejected", *d)
	return d, nil
}

// ListPending returns the pending diffs for a block in insertion order.
func (w *Workflow) ListPending(ctx context.Context, owner, label string) ([]models.PendingDiff, error) {
	return w.engine.List(ctx, owner, label)
}

// reindex refreshes the search index row for a block and returns its
// materialized form. Index failures are logged, not fatal: the index is a
// rebuildable cache over the store.
func (w *Workflow) reindex(owner, label, content string) *models.Block {
	b := w.block(owner, label, content)
	m := models.BlockMetadata{
		OwnerID:   owner,
		Label:     label,
		Checksum:  b.Checksum,
		UpdatedAt: b.UpdatedAt,
	}
	if err := w.idx.UpsertBlock(m, content); err != nil {
		w.logger.Error("index upsert failed",
			slog.String("block", owner+"/"+label),
			slog.String("error", err.Error()))
	}
	return b
}

func (w *Workflow) block(owner, label, content string) *models.Block {
	return &models.Block{
		OwnerID:   owner,
		Label:     label,
		Content:   content,
		SchemaRef: label,
		Checksum:  checksum.SumString(content),
		UpdatedAt: time.Now().UTC(),
	}
}
