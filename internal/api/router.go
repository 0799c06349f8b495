package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/halvard/muninn/internal/approval"
)

// AuthTokens carries the bearer tokens the API recognizes.
type AuthTokens struct {
	Enabled  bool
	Agent    string
	Reviewer string
}

// NewRouter creates a chi router with all API routes mounted.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *approval.Workflow, auth AuthTokens, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(auth.Enabled, auth.Agent, auth.Reviewer))

	// Blocks.
	r.Get("/blocks", h.ListBlocks)
	r.Post("/blocks", h.InitBlock)
	r.Get("/blocks/{owner}/{label}", h.GetBlock)
	r.Get("/blocks/{owner}/{label}/markdown", h.GetMarkdown)
	r.Put("/blocks/{owner}/{label}/markdown", h.SaveMarkdown)
	r.Get("/blocks/{owner}/{label}/diffs", h.ListBlockDiffs)

	// Diff review.
	r.Post("/diffs", h.ProposeDiff)
	r.Post("/diffs/{id}/approve", h.ApproveDiff)
	r.Post("/diffs/{id}/reject", h.RejectDiff)

	// Search.
	r.Get("/search", h.Search)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
