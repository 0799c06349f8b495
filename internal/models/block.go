// Package models defines the domain types for Muninn.
package models

import (
	"fmt"
	"regexp"
	"time"
)

// nameRe restricts owner ids and block labels to a filesystem-safe charset.
var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidName reports whether s is usable as an owner id or block label.
func ValidName(s string) bool {
	return nameRe.MatchString(s)
}

// Block is an owner-scoped, schema-typed structured document.
type Block struct {
	OwnerID   string    `json:"owner_id"`
	Label     string    `json:"label"`
	Content   string    `json:"content"`
	SchemaRef string    `json:"schema_ref"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BlockMetadata is a lightweight representation returned by list operations.
type BlockMetadata struct {
	OwnerID   string    `json:"owner_id"`
	Label     string    `json:"label"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Operation is the kind of mutation a pending diff performs.
type Operation string

const (
	// OpAppend concatenates new content at the end of a block or field.
	OpAppend Operation = "append"
	// OpReplace substitutes the first occurrence of an exact snippet.
	OpReplace Operation = "replace"
	// OpFullReplace substitutes the entire block (or field) content.
	OpFullReplace Operation = "full_replace"
)

// ParseOperation maps a caller-supplied strategy string onto an Operation.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OpAppend, OpReplace, OpFullReplace:
		return Operation(s), nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// Confidence is the proposer-supplied certainty label on a diff.
// Informational only; the engine does not act on it.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ParseConfidence maps a caller-supplied string onto a Confidence,
// defaulting to medium when empty.
func ParseConfidence(s string) (Confidence, error) {
	switch Confidence(s) {
	case "":
		return ConfidenceMedium, nil
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return Confidence(s), nil
	}
	return "", fmt.Errorf("unknown confidence %q", s)
}

// PendingDiff is a proposed, not-yet-applied mutation of a block.
//
// For OpReplace, OldSnippet is the exact substring being replaced and the
// sole basis for locating the edit point. For OpAppend it is empty. For
// OpFullReplace it holds the entire block content captured at proposal time,
// used only as a staleness check.
type PendingDiff struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	BlockLabel string     `json:"block_label"`
	Field      string     `json:"field,omitempty"`
	Operation  Operation  `json:"operation"`
	OldSnippet string     `json:"old_snippet,omitempty"`
	NewValue   string     `json:"new_value"`
	Reasoning  string     `json:"reasoning"`
	Confidence Confidence `json:"confidence"`
	ProposerID string     `json:"proposer_id"`
	CreatedAt  time.Time  `json:"created_at"`
}
