// Package api implements the Muninn REST API using chi.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/halvard/muninn/internal/approval"
)

type ctxKey int

const reviewerKey ctxKey = iota

// AuthMiddleware returns middleware that validates a Bearer token and binds
// the caller's review capability into the request context.
//
// Two tokens are recognized: agentToken identifies an agent (may read and
// propose, never approve) and reviewerToken identifies a human reviewer
// (full access). If enabled is false, all requests pass through with the
// approve capability, which is the local single-user mode.
func AuthMiddleware(enabled bool, agentToken, reviewerToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r.WithContext(withReviewer(r.Context(), approval.Reviewer{ID: "local", CanApprove: true})))
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			token := strings.TrimPrefix(auth, "Bearer ")
			switch {
			case reviewerToken != "" && token == reviewerToken:
				r = r.WithContext(withReviewer(r.Context(), approval.Reviewer{ID: "reviewer", CanApprove: true}))
			case agentToken != "" && token == agentToken:
				r = r.WithContext(withReviewer(r.Context(), approval.Reviewer{ID: "agent", CanApprove: false}))
			default:
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func withReviewer(ctx context.Context, rev approval.Reviewer) context.Context {
	return context.WithValue(ctx, reviewerKey, rev)
}

// reviewerFrom extracts the caller identity bound by AuthMiddleware.
func reviewerFrom(ctx context.Context) approval.Reviewer {
	if rev, ok := ctx.Value(reviewerKey).(approval.Reviewer); ok {
		return rev
	}
	return approval.Reviewer{}
}
