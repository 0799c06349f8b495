package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/halvard/muninn/internal/apperr"
	"github.com/halvard/muninn/internal/approval"
	"github.com/halvard/muninn/internal/diff"
	"github.com/halvard/muninn/internal/models"
)

// Handler holds API route handlers.
type Handler struct {
	svc *approval.Workflow
}

// NewHandler creates a new Handler.
func NewHandler(svc *approval.Workflow) *Handler {
	return &Handler{svc: svc}
}

// writeError maps domain errors onto HTTP status codes. Unrecognized errors
// are logged and reported as 500 without leaking internals.
func writeError(w http.ResponseWriter, err error, op string) {
	var se *apperr.SchemaError
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody("already exists"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("checksum mismatch"))
	case errors.Is(err, apperr.ErrSnippetNotFound):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrInvalidProposal):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrUnauthorized):
		writeJSON(w, http.StatusForbidden, errorBody("forbidden"))
	case errors.As(err, &se):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(se.Error()))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// blockKey extracts and validates the {owner}/{label} route params.
func blockKey(r *http.Request) (owner, label string, ok bool) {
	owner = chi.URLParam(r, "owner")
	label = chi.URLParam(r, "label")
	return owner, label, models.ValidName(owner) && models.ValidName(label)
}

// ListBlocks handles GET /api/blocks.
//
//	@Summary		List blocks with pending-diff counts
//	@Tags			blocks
//	@Produce		json
//	@Param			owner	query		string	false	"Filter by owner id"
//	@Success		200		{object}	BlockListResponse
//	@Security		BearerAuth
//	@Router			/blocks [get]
func (h *Handler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.ListBlocks(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, err, "list blocks")
		return
	}
	if rows == nil {
		rows = []BlockListItem{}
	}
	writeJSON(w, http.StatusOK, BlockListResponse{Blocks: rows, Total: len(rows)})
}

// InitBlock handles POST /api/blocks.
//
//	@Summary		Create a block from its schema defaults
//	@Tags			blocks
//	@Accept			json
//	@Produce		json
//	@Param			body	body		InitBlockRequest	true	"Block to create"
//	@Success		201		{object}	BlockDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks [post]
func (h *Handler) InitBlock(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req InitBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if !models.ValidName(req.OwnerID) || !models.ValidName(req.Label) {
		writeJSON(w, http.StatusBadRequest, errorBody("owner_id and label must be lowercase names"))
		return
	}
	block, err := h.svc.InitBlock(r.Context(), req.OwnerID, req.Label)
	if err != nil {
		writeError(w, err, "init block")
		return
	}
	writeJSON(w, http.StatusCreated, block)
}

// GetBlock handles GET /api/blocks/{owner}/{label}.
//
//	@Summary		Get a block with its structured content
//	@Tags			blocks
//	@Produce		json
//	@Param			owner	path		string	true	"Owner id"
//	@Param			label	path		string	true	"Block label"
//	@Success		200		{object}	BlockDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks/{owner}/{label} [get]
func (h *Handler) GetBlock(w http.ResponseWriter, r *http.Request) {
	owner, label, ok := blockKey(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid owner or label"))
		return
	}
	block, err := h.svc.GetBlock(r.Context(), owner, label)
	if err != nil {
		writeError(w, err, "get block")
		return
	}
	writeJSON(w, http.StatusOK, block)
}

// GetMarkdown handles GET /api/blocks/{owner}/{label}/markdown.
//
//	@Summary		Render a block as editable Markdown
//	@Tags			blocks
//	@Produce		json
//	@Param			owner	path		string	true	"Owner id"
//	@Param			label	path		string	true	"Block label"
//	@Success		200		{object}	MarkdownResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks/{owner}/{label}/markdown [get]
func (h *Handler) GetMarkdown(w http.ResponseWriter, r *http.Request) {
	owner, label, ok := blockKey(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid owner or label"))
		return
	}
	md, sum, err := h.svc.GetBlockMarkdown(r.Context(), owner, label)
	if err != nil {
		writeError(w, err, "get markdown")
		return
	}
	w.Header().Set("ETag", `"`+sum+`"`)
	writeJSON(w, http.StatusOK, MarkdownResponse{Markdown: md, Checksum: sum})
}

// SaveMarkdown handles PUT /api/blocks/{owner}/{label}/markdown.
//
//	@Summary		Commit edited Markdown with optimistic concurrency
//	@Tags			blocks
//	@Accept			json
//	@Produce		json
//	@Param			owner		path	string				true	"Owner id"
//	@Param			label		path	string				true	"Block label"
//	@Param			If-Match	header	string				false	"Checksum from the Markdown fetch"
//	@Param			body		body	SaveMarkdownRequest	true	"Edited Markdown"
//	@Success		200			{object}	BlockDetail
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Failure		422			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks/{owner}/{label}/markdown [put]
func (h *Handler) SaveMarkdown(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	owner, label, ok := blockKey(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid owner or label"))
		return
	}
	var req SaveMarkdownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Markdown == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("markdown is required"))
		return
	}

	// Strip surrounding quotes if present (standard ETag format).
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)

	block, err := h.svc.SaveBlockMarkdown(r.Context(), owner, label, req.Markdown, ifMatch)
	if err != nil {
		writeError(w, err, "save markdown")
		return
	}
	writeJSON(w, http.StatusOK, block)
}

// ListBlockDiffs handles GET /api/blocks/{owner}/{label}/diffs.
//
//	@Summary		List pending diffs for a block in proposal order
//	@Tags			diffs
//	@Produce		json
//	@Param			owner	path		string	true	"Owner id"
//	@Param			label	path		string	true	"Block label"
//	@Success		200		{object}	DiffListResponse
//	@Security		BearerAuth
//	@Router			/blocks/{owner}/{label}/diffs [get]
func (h *Handler) ListBlockDiffs(w http.ResponseWriter, r *http.Request) {
	owner, label, ok := blockKey(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid owner or label"))
		return
	}
	diffs, err := h.svc.ListPending(r.Context(), owner, label)
	if err != nil {
		writeError(w, err, "list diffs")
		return
	}
	if diffs == nil {
		diffs = []models.PendingDiff{}
	}
	writeJSON(w, http.StatusOK, DiffListResponse{Diffs: diffs, Total: len(diffs)})
}

// ProposeDiff handles POST /api/diffs.
//
//	@Summary		Propose an edit to a block
//	@Tags			diffs
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ProposeDiffRequest	true	"Proposal"
//	@Success		201		{object}	models.PendingDiff
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/diffs [post]
func (h *Handler) ProposeDiff(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req ProposeDiffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if !models.ValidName(req.OwnerID) || !models.ValidName(req.BlockLabel) {
		writeJSON(w, http.StatusBadRequest, errorBody("owner_id and block_label must be lowercase names"))
		return
	}
	d, err := h.svc.ProposeEdit(r.Context(), diff.Proposal{
		OwnerID:    req.OwnerID,
		BlockLabel: req.BlockLabel,
		Field:      req.Field,
		Operation:  models.Operation(req.Operation),
		OldSnippet: req.OldSnippet,
		NewValue:   req.NewValue,
		Reasoning:  req.Reasoning,
		Confidence: models.Confidence(req.Confidence),
		ProposerID: req.ProposerID,
	})
	if err != nil {
		writeError(w, err, "propose diff")
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// ApproveDiff handles POST /api/diffs/{id}/approve.
//
//	@Summary		Approve and apply a pending diff
//	@Tags			diffs
//	@Produce		json
//	@Param			id	path		string	true	"Diff id"
//	@Success		200	{object}	models.PendingDiff
//	@Failure		403	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/diffs/{id}/approve [post]
func (h *Handler) ApproveDiff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := h.svc.ApproveDiff(r.Context(), id, reviewerFrom(r.Context()))
	if err != nil {
		writeError(w, err, "approve diff")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// RejectDiff handles POST /api/diffs/{id}/reject.
//
//	@Summary		Reject a pending diff without touching the block
//	@Tags			diffs
//	@Produce		json
//	@Param			id	path		string	true	"Diff id"
//	@Success		200	{object}	models.PendingDiff
//	@Failure		403	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/diffs/{id}/reject [post]
func (h *Handler) RejectDiff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := h.svc.RejectDiff(r.Context(), id, reviewerFrom(r.Context()))
	if err != nil {
		writeError(w, err, "reject diff")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across block contents
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, err, "search")
		return
	}
	if results == nil {
		results = []SearchResult{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}
