// Package diff implements the pending-diff engine: proposals are created by
// agents, persisted, and later applied or rejected on human decision. The
// engine never mutates storage directly; every apply goes through the block
// store's update primitive.
package diff

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/halvard/muninn/internal/apperr"
	"github.com/halvard/muninn/internal/blockstore"
	"github.com/halvard/muninn/internal/models"
	"github.com/halvard/muninn/internal/schema"
	"github.com/halvard/muninn/internal/structured"
)

// Repo persists pending diff records.
type Repo interface {
	InsertDiff(d models.PendingDiff) error
	GetDiff(id string) (*models.PendingDiff, error)
	DeleteDiff(id string) error
	ListDiffs(owner, label string) ([]models.PendingDiff, error)
}

// Engine creates, applies, and rejects pending diffs.
type Engine struct {
	store  *blockstore.Store
	repo   Repo
	logger *slog.Logger
}

// New creates a diff engine.
func New(store *blockstore.Store, repo Repo, logger *slog.Logger) *Engine {
	return &Engine{store: store, repo: repo, logger: logger}
}

// Proposal is the input to Propose.
type Proposal struct {
	OwnerID    string
	BlockLabel string
	Field      string
	Operation  models.Operation
	OldSnippet string
	NewValue   string
	Reasoning  string
	Confidence models.Confidence
	ProposerID string
}

// Propose validates a proposal and persists it as a pending diff.
//
// For replace, the proposer must quote the exact current substring being
// targeted; the engine never searches for "the right line" on the agent's
// behalf, so a too-coarse diff can never match unrelated content. For
// full_replace, the live block content is snapshotted for later staleness
// comparison only.
func (e *Engine) Propose(ctx context.Context, p Proposal) (*models.PendingDiff, error) {
	if strings.TrimSpace(p.Reasoning) == "" {
		return nil, fmt.Errorf("%w: reasoning is required", apperr.ErrInvalidProposal)
	}
	if _, err := models.ParseOperation(string(p.Operation)); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidProposal, err)
	}
	if p.Confidence == "" {
		p.Confidence = models.ConfidenceMedium
	}
	if _, err := models.ParseConfidence(string(p.Confidence)); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidProposal, err)
	}

	current, err := e.store.Read(ctx, p.OwnerID, p.BlockLabel)
	if err != nil {
		return nil, err
	}

	switch p.Operation {
	case models.OpReplace:
		if p.OldSnippet == "" {
			return nil, fmt.Errorf("%w: replace requires the exact current snippet being targeted", apperr.ErrInvalidProposal)
		}
	case models.OpAppend:
		p.OldSnippet = ""
		if p.Field != "" {
			if spec, ok := e.fieldSpec(p.BlockLabel, p.Field); ok && spec.Kind == schema.KindTable {
				return nil, fmt.Errorf("%w: cannot append to table field %q; target one of its sub-fields", apperr.ErrInvalidProposal, p.Field)
			}
		}
	case models.OpFullReplace:
		p.OldSnippet = current
	}

	d := &models.PendingDiff{
		ID:         uuid.NewString(),
		OwnerID:    p.OwnerID,
		BlockLabel: p.BlockLabel,
		Field:      p.Field,
		Operation:  p.Operation,
		OldSnippet: p.OldSnippet,
		NewValue:   p.NewValue,
		Reasoning:  p.Reasoning,
		Confidence: p.Confidence,
		ProposerID: p.ProposerID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.repo.InsertDiff(*d); err != nil {
		return nil, err
	}
	e.logger.Info("diff proposed",
		slog.String("diff_id", d.ID),
		slog.String("block", d.OwnerID+"/"+d.BlockLabel),
		slog.String("operation", string(d.Operation)),
		slog.String("proposer", d.ProposerID))
	return d, nil
}

// Apply merges a pending diff into its block and discards the record. The
// live content is re-read under the block's write lock; a cached copy is
// never trusted. On any failure the block and the pending diff are both
// left untouched so the human can see why it failed.
func (e *Engine) Apply(ctx context.Context, id string) (*models.PendingDiff, error) {
	d, err := e.repo.GetDiff(id)
	if err != nil {
		return nil, err
	}

	_, err = e.store.Update(ctx, d.OwnerID, d.BlockLabel, func(current string) (string, error) {
		next, mergeErr := e.merge(d, current)
		if mergeErr != nil {
			return "", mergeErr
		}
		// Consume the diff inside the critical section. Of two concurrent
		// approvals of the same id, the loser finds the record gone and
		// aborts here without writing.
		if delErr := e.repo.DeleteDiff(id); delErr != nil {
			return "", delErr
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("diff applied",
		slog.String("diff_id", d.ID),
		slog.String("block", d.OwnerID+"/"+d.BlockLabel),
		slog.String("operation", string(d.Operation)))
	return d, nil
}

// merge computes the post-apply content for a diff against live content.
func (e *Engine) merge(d *models.PendingDiff, current string) (string, error) {
	switch d.Operation {
	case models.OpReplace:
		if !strings.Contains(current, d.OldSnippet) {
			return "", fmt.Errorf("%w: target content not found, block may have changed since the proposal", apperr.ErrSnippetNotFound)
		}
		// First occurrence only; everything else stays byte-identical.
		return strings.Replace(current, d.OldSnippet, d.NewValue, 1), nil

	case models.OpAppend:
		if d.Field == "" {
			return strings.TrimRight(current, "\n") + "\n" + strings.TrimRight(d.NewValue, "\n") + "\n", nil
		}
		return e.appendToField(d, current)

	case models.OpFullReplace:
		if current != d.OldSnippet {
			// Stale base: the block moved on since the snapshot. The
			// operation still proceeds; block-level replace is the
			// proposer's explicit intent.
			e.logger.Warn("full_replace applied over changed content",
				slog.String("diff_id", d.ID),
				slog.String("block", d.OwnerID+"/"+d.BlockLabel))
		}
		if d.Field == "" {
			return d.NewValue, nil
		}
		return e.replaceField(d, current)
	}
	return "", fmt.Errorf("%w: unknown operation %q", apperr.ErrInvalidProposal, d.Operation)
}

// appendToField appends NewValue to the addressed field: newline-joined for
// string fields, a new item for list fields.
func (e *Engine) appendToField(d *models.PendingDiff, current string) (string, error) {
	tree, err := structured.Parse(current)
	if err != nil {
		return "", fmt.Errorf("%w: block content does not parse: %v", apperr.ErrSnippetNotFound, err)
	}
	parent, key, err := navigate(tree, d.Field)
	if err != nil {
		return "", err
	}

	v, ok := parent.Get(key)
	switch {
	case !ok:
		if spec, found := e.fieldSpec(d.BlockLabel, d.Field); found && spec.Kind == schema.KindList {
			parent.Set(key, structured.ListValue([]string{d.NewValue}))
		} else {
			parent.Set(key, structured.Scalar(d.NewValue))
		}
	case v.Kind == structured.KindList:
		parent.Set(key, structured.ListValue(append(append([]string{}, v.List...), d.NewValue)))
	case v.Kind == structured.KindScalar:
		joined := d.NewValue
		if v.Str != "" {
			joined = v.Str + "\n" + d.NewValue
		}
		parent.Set(key, structured.Scalar(joined))
	default:
		return "", fmt.Errorf("%w: cannot append to table field %q", apperr.ErrInvalidProposal, d.Field)
	}
	return tree.Serialize(), nil
}

// replaceField substitutes the addressed field's entire value: string fields
// get the scalar, list fields get one item per line, table fields parse
// NewValue as structured text.
func (e *Engine) replaceField(d *models.PendingDiff, current string) (string, error) {
	tree, err := structured.Parse(current)
	if err != nil {
		return "", fmt.Errorf("%w: block content does not parse: %v", apperr.ErrSnippetNotFound, err)
	}
	parent, key, err := navigate(tree, d.Field)
	if err != nil {
		return "", err
	}

	spec, _ := e.fieldSpec(d.BlockLabel, d.Field)
	switch spec.Kind {
	case schema.KindList:
		var items []string
		for _, line := range strings.Split(d.NewValue, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				items = append(items, line)
			}
		}
		parent.Set(key, structured.ListValue(items))
	case schema.KindTable:
		sub, err := structured.Parse(d.NewValue)
		if err != nil {
			return "", fmt.Errorf("%w: replacement for table field %q does not parse: %v", apperr.ErrInvalidProposal, d.Field, err)
		}
		parent.Set(key, structured.TableValue(sub))
	default:
		parent.Set(key, structured.Scalar(d.NewValue))
	}
	return tree.Serialize(), nil
}

// navigate resolves a dotted field path to its parent table and final key,
// creating intermediate tables as needed.
func navigate(tree *structured.Tree, field string) (*structured.Tree, string, error) {
	parts := strings.Split(field, ".")
	parent := tree
	for _, p := range parts[:len(parts)-1] {
		parent = parent.EnsureTable(p)
	}
	return parent, parts[len(parts)-1], nil
}

// fieldSpec looks up the schema declaration for a dotted field path.
func (e *Engine) fieldSpec(label, field string) (schema.FieldSpec, bool) {
	sc, ok := e.store.Schemas().Lookup(label)
	if !ok {
		return schema.FieldSpec{}, false
	}
	specs := sc.Fields
	parts := strings.Split(field, ".")
	for i, p := range parts {
		spec, ok := specs[p]
		if !ok {
			return schema.FieldSpec{}, false
		}
		if i == len(parts)-1 {
			return spec, true
		}
		specs = spec.Fields
	}
	return schema.FieldSpec{}, false
}

// Reject discards a pending diff with no effect on block content. Rejecting
// an unknown or already-terminal id fails with apperr.ErrNotFound.
func (e *Engine) Reject(ctx context.Context, id string) (*models.PendingDiff, error) {
	d, err := e.repo.GetDiff(id)
	if err != nil {
		return nil, err
	}
	if err := e.repo.DeleteDiff(id); err != nil {
		return nil, err
	}
	e.logger.Info("diff rejected",
		slog.String("diff_id", d.ID),
		slog.String("block", d.OwnerID+"/"+d.BlockLabel))
	return d, nil
}

// List returns all pending diffs for a block in insertion order.
func (e *Engine) List(ctx context.Context, owner, label string) ([]models.PendingDiff, error) {
	return e.repo.ListDiffs(owner, label)
}
