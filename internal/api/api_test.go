package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/halvard/muninn/internal/approval"
	"github.com/halvard/muninn/internal/blockstore"
	"github.com/halvard/muninn/internal/diff"
	"github.com/halvard/muninn/internal/models"
	"github.com/halvard/muninn/internal/schema"
	"github.com/halvard/muninn/internal/storage"
	"github.com/halvard/muninn/internal/testutil"
)

const (
	agentTok    = "agent-secret"
	reviewerTok = "reviewer-secret"
)

// testEnv sets up a temp store, SQLite index, workflow, and router.
// authEnabled=false is the local single-user mode where every caller can
// approve.
func testEnv(t *testing.T, authEnabled bool) (*approval.Workflow, http.Handler) {
	t.Helper()

	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	reg, err := schema.New(map[string]schema.BlockSchema{
		"human": {Fields: map[string]schema.FieldSpec{
			"summary": {Kind: schema.KindString, Default: "new user"},
			"goals":   {Kind: schema.KindList},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	store := blockstore.New(fs, reg)
	db := testutil.TestDB(t)
	logger := testutil.QuietLogger()
	engine := diff.New(store, db, logger)
	svc := approval.New(store, engine, db, nil, logger)
	router := NewRouter(svc, AuthTokens{Enabled: authEnabled, Agent: agentTok, Reviewer: reviewerTok}, nil)
	return svc, router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestInitAndGetBlock(t *testing.T) {
	_, router := testEnv(t, false)

	w := doJSON(t, router, http.MethodPost, "/blocks", InitBlockRequest{OwnerID: "u1", Label: "human"}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("init status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/blocks/u1/human", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var block BlockDetail
	_ = json.Unmarshal(w.Body.Bytes(), &block)
	if block.OwnerID != "u1" || block.Label != "human" {
		t.Errorf("block = %+v", block)
	}
	if !strings.Contains(block.Content, "new user") {
		t.Errorf("content missing default: %q", block.Content)
	}
}

func TestInitDuplicate(t *testing.T) {
	_, router := testEnv(t, false)

	req := InitBlockRequest{OwnerID: "u1", Label: "human"}
	if w := doJSON(t, router, http.MethodPost, "/blocks", req, ""); w.Code != http.StatusCreated {
		t.Fatalf("first init = %d", w.Code)
	}
	if w := doJSON(t, router, http.MethodPost, "/blocks", req, ""); w.Code != http.StatusConflict {
		t.Errorf("duplicate init = %d, want 409", w.Code)
	}
}

func TestInitUnknownSchema(t *testing.T) {
	_, router := testEnv(t, false)
	w := doJSON(t, router, http.MethodPost, "/blocks", InitBlockRequest{OwnerID: "u1", Label: "mystery"}, "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("init unknown schema = %d, want 422", w.Code)
	}
}

func TestGetBlockNotFound(t *testing.T) {
	_, router := testEnv(t, false)
	if w := doJSON(t, router, http.MethodGet, "/blocks/u1/human", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("get missing = %d, want 404", w.Code)
	}
}

func TestMarkdownRoundTripWithIfMatch(t *testing.T) {
	_, router := testEnv(t, false)
	doJSON(t, router, http.MethodPost, "/blocks", InitBlockRequest{OwnerID: "u1", Label: "human"}, "")

	w := doJSON(t, router, http.MethodGet, "/blocks/u1/human/markdown", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get markdown = %d", w.Code)
	}
	var md MarkdownResponse
	_ = json.Unmarshal(w.Body.Bytes(), &md)
	if !strings.Contains(md.Markdown, "## Summary") {
		t.Errorf("markdown = %q", md.Markdown)
	}
	if etag := w.Header().Get("ETag"); etag != `"`+md.Checksum+`"` {
		t.Errorf("ETag = %q, checksum = %q", etag, md.Checksum)
	}

	edited := strings.Replace(md.Markdown, "new user", "edited", 1)
	req := httptest.NewRequest(http.MethodPut, "/blocks/u1/human/markdown", bytes.NewReader(mustJSON(SaveMarkdownRequest{Markdown: edited})))
	req.Header.Set("If-Match", `"`+md.Checksum+`"`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("save markdown = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Replaying with the stale checksum must conflict.
	req = httptest.NewRequest(http.MethodPut, "/blocks/u1/human/markdown", bytes.NewReader(mustJSON(SaveMarkdownRequest{Markdown: edited})))
	req.Header.Set("If-Match", `"`+md.Checksum+`"`)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("stale save = %d, want 409", rec.Code)
	}
}

func TestProposeApproveFlow(t *testing.T) {
	_, router := testEnv(t, false)
	doJSON(t, router, http.MethodPost, "/blocks", InitBlockRequest{OwnerID: "u1", Label: "human"}, "")

	w := doJSON(t, router, http.MethodPost, "/diffs", ProposeDiffRequest{
		OwnerID:    "u1",
		BlockLabel: "human",
		Field:      "goals",
		Operation:  "append",
		NewValue:   "learn go",
		Reasoning:  "user mentioned it",
		ProposerID: "agent-1",
	}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("propose = %d, body = %s", w.Code, w.Body.String())
	}
	var d models.PendingDiff
	_ = json.Unmarshal(w.Body.Bytes(), &d)
	if d.ID == "" || d.Confidence != models.ConfidenceMedium {
		t.Errorf("diff = %+v", d)
	}

	// Pending list shows it.
	w = doJSON(t, router, http.MethodGet, "/blocks/u1/human/diffs", nil, "")
	var list DiffListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Total != 1 {
		t.Fatalf("pending total = %d, body = %s", list.Total, w.Body.String())
	}

	// Approve applies the change.
	if w = doJSON(t, router, http.MethodPost, "/diffs/"+d.ID+"/approve", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("approve = %d, body = %s", w.Code, w.Body.String())
	}
	w = doJSON(t, router, http.MethodGet, "/blocks/u1/human", nil, "")
	var block BlockDetail
	_ = json.Unmarshal(w.Body.Bytes(), &block)
	if !strings.Contains(block.Content, "learn go") {
		t.Errorf("content = %q", block.Content)
	}

	// Approving again 404s.
	if w = doJSON(t, router, http.MethodPost, "/diffs/"+d.ID+"/approve", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("second approve = %d, want 404", w.Code)
	}
}

func TestProposeInvalid(t *testing.T) {
	_, router := testEnv(t, false)
	doJSON(t, router, http.MethodPost, "/blocks", InitBlockRequest{OwnerID: "u1", Label: "human"}, "")

	// Missing reasoning.
	w := doJSON(t, router, http.MethodPost, "/diffs", ProposeDiffRequest{
		OwnerID:    "u1",
		BlockLabel: "human",
		Operation:  "append",
		NewValue:   "x",
		ProposerID: "agent-1",
	}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("propose without reasoning = %d, want 400", w.Code)
	}

	// Unknown block.
	w = doJSON(t, router, http.MethodPost, "/diffs", ProposeDiffRequest{
		OwnerID:    "u2",
		BlockLabel: "human",
		Operation:  "append",
		NewValue:   "x",
		Reasoning:  "r",
		ProposerID: "agent-1",
	}, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("propose against missing block = %d, want 404", w.Code)
	}
}

func TestStaleSnippetConflicts(t *testing.T) {
	svc, router := testEnv(t, false)
	doJSON(t, router, http.MethodPost, "/blocks", InitBlockRequest{OwnerID: "u1", Label: "human"}, "")

	mk := func(newVal string) models.PendingDiff {
		w := doJSON(t, router, http.MethodPost, "/diffs", ProposeDiffRequest{
			OwnerID:    "u1",
			BlockLabel: "human",
			Field:      "summary",
			Operation:  "replace",
			OldSnippet: "new user",
			NewValue:   newVal,
			Reasoning:  "r",
			ProposerID: "agent-1",
		}, "")
		if w.Code != http.StatusCreated {
			t.Fatalf("propose = %d", w.Code)
		}
		var d models.PendingDiff
		_ = json.Unmarshal(w.Body.Bytes(), &d)
		return d
	}
	first := mk("likes tea")
	second := mk("likes cocoa")

	if w := doJSON(t, router, http.MethodPost, "/diffs/"+first.ID+"/approve", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("first approve = %d", w.Code)
	}
	if w := doJSON(t, router, http.MethodPost, "/diffs/"+second.ID+"/approve", nil, ""); w.Code != http.StatusConflict {
		t.Errorf("stale approve = %d, want 409", w.Code)
	}

	// The failed diff is still pending.
	pending, _ := svc.ListPending(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "u1", "human")
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Errorf("pending = %+v", pending)
	}
}

func TestRejectFlow(t *testing.T) {
	_, router := testEnv(t, false)
	doJSON(t, router, http.MethodPost, "/blocks", InitBlockRequest{OwnerID: "u1", Label: "human"}, "")

	w := doJSON(t, router, http.MethodPost, "/diffs", ProposeDiffRequest{
		OwnerID:    "u1",
		BlockLabel: "human",
		Operation:  "append",
		NewValue:   "goals = [\"x\"]",
		Reasoning:  "r",
		ProposerID: "agent-1",
	}, "")
	var d models.PendingDiff
	_ = json.Unmarshal(w.Body.Bytes(), &d)

	if w = doJSON(t, router, http.MethodPost, "/diffs/"+d.ID+"/reject", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("reject = %d", w.Code)
	}
	if w = doJSON(t, router, http.MethodPost, "/diffs/"+d.ID+"/reject", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("second reject = %d, want 404", w.Code)
	}
}

func TestAuthTokens(t *testing.T) {
	_, router := testEnv(t, true)

	// No token.
	if w := doJSON(t, router, http.MethodGet, "/blocks", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}
	// Wrong token.
	if w := doJSON(t, router, http.MethodGet, "/blocks", nil, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
	// Agent token can read and propose.
	if w := doJSON(t, router, http.MethodPost, "/blocks", InitBlockRequest{OwnerID: "u1", Label: "human"}, agentTok); w.Code != http.StatusCreated {
		t.Fatalf("agent init = %d", w.Code)
	}
	w := doJSON(t, router, http.MethodPost, "/diffs", ProposeDiffRequest{
		OwnerID:    "u1",
		BlockLabel: "human",
		Operation:  "append",
		NewValue:   "goals = [\"x\"]",
		Reasoning:  "r",
		ProposerID: "agent-1",
	}, agentTok)
	if w.Code != http.StatusCreated {
		t.Fatalf("agent propose = %d", w.Code)
	}
	var d models.PendingDiff
	_ = json.Unmarshal(w.Body.Bytes(), &d)

	// Agent token cannot approve.
	if w := doJSON(t, router, http.MethodPost, "/diffs/"+d.ID+"/approve", nil, agentTok); w.Code != http.StatusForbidden {
		t.Errorf("agent approve = %d, want 403", w.Code)
	}
	// Reviewer token can.
	if w := doJSON(t, router, http.MethodPost, "/diffs/"+d.ID+"/approve", nil, reviewerTok); w.Code != http.StatusOK {
		t.Errorf("reviewer approve = %d", w.Code)
	}
}

func TestListBlocksAndSearch(t *testing.T) {
	_, router := testEnv(t, false)
	doJSON(t, router, http.MethodPost, "/blocks", InitBlockRequest{OwnerID: "u1", Label: "human"}, "")

	w := doJSON(t, router, http.MethodGet, "/blocks?owner=u1", nil, "")
	var list BlockListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Total != 1 || list.Blocks[0].Label != "human" {
		t.Errorf("list = %+v", list)
	}

	w = doJSON(t, router, http.MethodGet, "/search?q=new+user", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d", w.Code)
	}
	var sr SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &sr)
	if len(sr.Results) != 1 {
		t.Errorf("search results = %+v", sr.Results)
	}

	if w := doJSON(t, router, http.MethodGet, "/search", nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("search without q = %d, want 400", w.Code)
	}
}

func TestInvalidNamesRejected(t *testing.T) {
	_, router := testEnv(t, false)

	w := doJSON(t, router, http.MethodPost, "/blocks", InitBlockRequest{OwnerID: "../evil", Label: "human"}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("traversal owner = %d, want 400", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/blocks/UPPER/human", nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("uppercase owner = %d, want 400", w.Code)
	}
}

func mustJSON(v any) []byte {
	raw, _ := json.Marshal(v)
	return raw
}
