package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/finassist/internal/reindex"
	"github.com/kalambet/finassist/internal/router"
	"github.com/kalambet/finassist/internal/storage"
)

const historyResourceLimit = 20

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Router    Asker
	Reindexer Reindexer // optional; if nil, reindex_documents returns an error
	Store     *storage.Store
	Version   string
}

// NewMCPServer creates an MCP server exposing the finance assistant as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"finassist",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("finassist answers finance questions from the invoice database and the indexed SharePoint documents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_finance",
			mcp.WithDescription("Ask a finance question. Questions about invoices return the most recent invoices with a summary; other questions are answered from the indexed documents."),
			mcp.WithString("query", mcp.Description("The question to ask"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Chat session to record the exchange in (default: a new session)")),
		),
		mcpAskFinance(deps),
	)

	s.AddTool(
		mcp.NewTool("reindex_documents",
			mcp.WithDescription("Rebuild the document index from the SharePoint library. The previous index stays in place if the rebuild fails."),
		),
		mcpReindex(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"finance://history",
			"Chat History",
			mcp.WithResourceDescription("Most recent chat turns across all sessions"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHistory(deps),
	)

	return s
}

func mcpAskFinance(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return mcpError("query is required and must not be blank"), nil
		}
		session := req.GetString("session_id", "")
		if session == "" {
			session = uuid.NewString()
		}

		res := ask(ctx, deps.Router, deps.Store, session, query)
		if res.Kind() == router.KindError {
			return mcpError(router.Content(res)), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpReindex(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Reindexer == nil {
			return mcpError("reindexing not available: SharePoint is not configured"), nil
		}

		out := deps.Reindexer.Run(ctx)
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal outcome: %v", err)), nil
		}
		if out.Status == reindex.StatusError {
			return mcpError(string(b)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		turns, err := deps.Store.ListTurns(ctx, "", historyResourceLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to list history: %w", err)
		}
		if turns == nil {
			turns = []storage.ChatTurn{}
		}

		b, err := json.Marshal(turns)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
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
