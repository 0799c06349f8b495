// Package apperr defines the shared error taxonomy for Muninn.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals an unknown block or diff id.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists signals an attempt to initialize an existing block.
	ErrAlreadyExists = errors.New("already exists")
	// ErrConflict signals an optimistic-concurrency checksum mismatch.
	ErrConflict = errors.New("conflict")
	// ErrInvalidProposal signals a malformed edit proposal: missing
	// reasoning, unknown operation, empty replace target.
	ErrInvalidProposal = errors.New("invalid proposal")
	// ErrSnippetNotFound signals that a replace diff's target snippet is no
	// longer present in the live block content, i.e. the block changed
	// since the proposal was created.
	ErrSnippetNotFound = errors.New("snippet not found")
	// ErrUnauthorized signals a caller without the capability for the
	// requested operation, such as an agent approving its own diff.
	ErrUnauthorized = errors.New("unauthorized")
)

// SchemaError reports content that violates a block schema. Key names the
// offending field path.
type SchemaError struct {
	Key    string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: field %q: %s", e.Key, e.Reason)
}

// IsSchemaError reports whether err is (or wraps) a *SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}
