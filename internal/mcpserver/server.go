// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes Muninn's agent-facing tools via stdio transport. Agents get read
// and propose access only; approval stays with humans on the HTTP side.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/halvard/muninn/internal/approval"
	"github.com/halvard/muninn/internal/diff"
	"github.com/halvard/muninn/internal/models"
)

// Server wraps the MCP server with Muninn tools.
type Server struct {
	mcp *server.MCPServer
	svc *approval.Workflow
}

// New creates a new MCP server with all Muninn tools registered.
func New(svc *approval.Workflow) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Muninn",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("read_block",
		mcp.WithDescription("Read the current content of a memory block."),
		mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner the block belongs to")),
		mcp.WithString("label", mcp.Required(), mcp.Description("Block label (e.g. human, persona)")),
	), s.readBlock)

	s.mcp.AddTool(mcp.NewTool("list_blocks",
		mcp.WithDescription("List memory blocks with their pending-diff counts."),
		mcp.WithString("owner_id", mcp.Description("Optional owner to filter by (empty for all)")),
	), s.listBlocks)

	s.mcp.AddTool(mcp.NewTool("init_block",
		mcp.WithDescription("Create a new memory block from its schema defaults. "+
			"Fails if the block already exists."),
		mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner the block belongs to")),
		mcp.WithString("label", mcp.Required(), mcp.Description("Block label; must have a declared schema")),
	), s.initBlock)

	s.mcp.AddTool(mcp.NewTool("propose_edit",
		mcp.WithDescription("Propose an edit to a memory block as a pending diff for human review. "+
			"Nothing changes until a human approves. Read the contract first via the "+
			"get_block_contract tool or the muninn://block-format resource."),
		mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner the block belongs to")),
		mcp.WithString("label", mcp.Required(), mcp.Description("Block label")),
		mcp.WithString("strategy", mcp.Required(), mcp.Description("One of: append, replace, full_replace")),
		mcp.WithString("content", mcp.Required(), mcp.Description("The content to write")),
		mcp.WithString("reasoning", mcp.Required(), mcp.Description("Why this change should happen; shown to the reviewer")),
		mcp.WithString("field", mcp.Description("Optional dotted field path to target (e.g. preferences.tone)")),
		mcp.WithString("old_content", mcp.Description("For replace: the exact current text being replaced, copied verbatim")),
		mcp.WithString("confidence", mcp.Description("Optional: low, medium, or high (default medium)")),
	), s.proposeEdit)

	s.mcp.AddTool(mcp.NewTool("list_pending_diffs",
		mcp.WithDescription("List the pending diffs for a block in proposal order."),
		mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner the block belongs to")),
		mcp.WithString("label", mcp.Required(), mcp.Description("Block label")),
	), s.listPendingDiffs)

	s.mcp.AddTool(mcp.NewTool("search_blocks",
		mcp.WithDescription("Full-text search through block contents."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchBlocks)

	s.mcp.AddTool(mcp.NewTool("get_block_contract",
		mcp.WithDescription("Returns the canonical Muninn block format and proposal contract. "+
			"Call this before proposing edits to ensure correct structure."),
	), s.getBlockContract)

	// Resource: block format contract.
	s.mcp.AddResource(
		mcp.NewResource("muninn://block-format", "Block Format Contract",
			mcp.WithResourceDescription("Canonical block content format and diff proposal rules."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readBlockFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) readBlock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, err := req.RequireString("owner_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	label, err := req.RequireString("label")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	block, err := s.svc.GetBlock(ctx, owner, label)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s/%s", owner, label)), nil
	}
	return mcp.NewToolResultText(block.Content), nil
}

func (s *Server) listBlocks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner := req.GetString("owner_id", "")
	rows, err := s.svc.ListBlocks(ctx, owner)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(rows, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) initBlock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, err := req.RequireString("owner_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	label, err := req.RequireString("label")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !models.ValidName(owner) || !models.ValidName(label) {
		return mcp.NewToolResultError("owner_id and label must be lowercase names"), nil
	}
	block, err := s.svc.InitBlock(ctx, owner, label)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created %s/%s:\n%s", owner, label, block.Content)), nil
}

func (s *Server) proposeEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, err := req.RequireString("owner_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	label, err := req.RequireString("label")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	strategy, err := req.RequireString("strategy")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	reasoning, err := req.RequireString("reasoning")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	// The agent runtime speaks in terms of a strategy; it maps onto the
	// diff operation enum one to one.
	d, err := s.svc.ProposeEdit(ctx, diff.Proposal{
		OwnerID:    owner,
		BlockLabel: label,
		Field:      req.GetString("field", ""),
		Operation:  models.Operation(strategy),
		OldSnippet: req.GetString("old_content", ""),
		NewValue:   content,
		Reasoning:  reasoning,
		Confidence: models.Confidence(req.GetString("confidence", "")),
		ProposerID: "mcp-agent",
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(d, "", "  ")
	return mcp.NewToolResultText(fmt.Sprintf("proposed diff %s (pending human review):\n%s", d.ID, out)), nil
}

func (s *Server) listPendingDiffs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, err := req.RequireString("owner_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	label, err := req.RequireString("label")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	diffs, err := s.svc.ListPending(ctx, owner, label)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(diffs) == 0 {
		return mcp.NewToolResultText("no pending diffs"), nil
	}
	out, _ := json.MarshalIndent(diffs, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) searchBlocks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getBlockContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(BlockFormatContract), nil
}

func (s *Server) readBlockFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "muninn://block-format",
			MIMEType: "text/markdown",
			Text:     BlockFormatContract,
		},
	}, nil
}
