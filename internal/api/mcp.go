package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/feedsync/internal/pipeline"
	"github.com/kalambet/feedsync/internal/report"
	"github.com/kalambet/feedsync/internal/storage"
)

// Previewer runs the pipeline. The MCP layer only ever asks for dry runs.
type Previewer interface {
	Run(ctx context.Context, opts pipeline.Options) (*pipeline.Result, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store   Reader
	Preview Previewer // optional; if nil, preview_sync returns an error
	Version string
}

// NewMCPServer creates an MCP server with the feedsync tools and resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"feedsync",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("feedsync mirrors a supplier inventory feed into a spreadsheet. Tools are read-only; preview_sync never writes."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("sync_history",
			mcp.WithDescription("List recent sync runs from the audit log, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 20)")),
			mcp.WithString("status", mcp.Description("Only runs with this status: success, skipped_duplicate or failed")),
		),
		mcpSyncHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("sync_state",
			mcp.WithDescription("Describe the last committed snapshot."),
		),
		mcpSyncState(deps),
	)

	s.AddTool(
		mcp.NewTool("preview_sync",
			mcp.WithDescription("Locate and diff the newest feed email without writing anything."),
			mcp.WithString("since", mcp.Description("Only consider emails received on or after this date (YYYY-MM-DD)")),
		),
		mcpPreviewSync(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"feedsync://state",
			"Committed State",
			mcp.WithResourceDescription("Last committed snapshot summary as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceState(deps),
	)

	return s
}

func mcpSyncHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", defaultRunLimit)
		if limit <= 0 {
			limit = defaultRunLimit
		}
		if limit > maxRunLimit {
			limit = maxRunLimit
		}
		q := storage.HistoryQuery{Limit: limit}
		if s := req.GetString("status", ""); s != "" {
			q.Status = storage.RunStatus(s)
			if !q.Status.Valid() {
				return mcpError(fmt.Sprintf("unknown status %q", s)), nil
			}
		}

		recs, err := deps.Store.RunHistory(ctx, q)
		if err != nil {
			return mcpError(fmt.Sprintf("reading run history failed: %v", err)), nil
		}
		if recs == nil {
			recs = []storage.RunRecord{}
		}
		return mcpJSON(recs)
	}
}

func mcpSyncState(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := deps.Store.LoadState(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("loading state failed: %v", err)), nil
		}
		return mcpJSON(report.NewStateView(st))
	}
}

func mcpPreviewSync(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Preview == nil {
			return mcpError("preview not available: mailbox not configured"), nil
		}

		opts := pipeline.Options{DryRun: true}
		if s := req.GetString("since", ""); s != "" {
			since, err := time.Parse(time.DateOnly, s)
			if err != nil {
				return mcpError(fmt.Sprintf("invalid since %q: want YYYY-MM-DD", s)), nil
			}
			opts.Since = since
		}

		res, err := deps.Preview.Run(ctx, opts)
		view := report.FromResult(res, err)
		if err != nil {
			b, mErr := json.Marshal(view)
			if mErr != nil {
				return mcpError(fmt.Sprintf("preview failed: %v", err)), nil
			}
			return mcpError(string(b)), nil
		}
		return mcpJSON(view)
	}
}

func mcpResourceState(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		st, err := deps.Store.LoadState(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading state: %w", err)
		}

		b, err := json.Marshal(report.NewStateView(st))
		if err != nil {
			return nil, fmt.Errorf("marshaling state: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
