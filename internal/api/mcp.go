package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/seraface/seraface/internal/products"
)

// NewMCPServer creates an MCP server exposing the product cache and session
// store to agent hosts.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"seraface",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("seraface — skincare workflow sessions and cached product lookups."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_product",
			mcp.WithDescription("Look up a skincare product by name, serving from the shared cache when possible."),
			mcp.WithString("query", mcp.Description("Product name to search for"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Optional session to record the lookup under")),
		),
		mcpSearchProduct(deps),
	)

	s.AddTool(
		mcp.NewTool("session_status",
			mcp.WithDescription("Report which workflow phases a session has completed."),
			mcp.WithString("session_id", mcp.Description("Session identifier"), mcp.Required()),
		),
		mcpSessionStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("list_recommended_products",
			mcp.WithDescription("List the products recommended to a session, newest first."),
			mcp.WithString("session_id", mcp.Description("Session identifier"), mcp.Required()),
		),
		mcpListRecommended(deps),
	)

	s.AddTool(
		mcp.NewTool("sweep_expired",
			mcp.WithDescription("Delete expired phase data and recommendation records, reporting how many of each were removed."),
		),
		mcpSweep(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"seraface://cache-stats",
			"Product Cache Stats",
			mcp.WithResourceDescription("Cache and recommendation counters as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCacheStats(deps),
	)

	return s
}

func mcpSearchProduct(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		sessionID := req.GetString("session_id", "")

		product, err := deps.Products.Resolve(ctx, query, sessionID, products.RecommendationContext{
			AIRecommended: false,
			SearchType:    "manual",
		})
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		b, err := json.Marshal(product)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSessionStatus(deps Deps) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		status, err := deps.Phases.Status(sessionID)
		if err != nil {
			return mcpError(fmt.Sprintf("status failed: %v", err)), nil
		}

		b, err := json.Marshal(status)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListRecommended(deps Deps) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		rows, err := deps.Products.ListRecommended(sessionID)
		if err != nil {
			return mcpError(fmt.Sprintf("listing failed: %v", err)), nil
		}
		if len(rows) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(rows)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSweep(deps Deps) server.ToolHandlerFunc {
	return func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		counts, err := deps.Phases.SweepExpired()
		if err != nil {
			return mcpError(fmt.Sprintf("sweep failed: %v", err)), nil
		}
		recDeleted, err := deps.Products.SweepExpired()
		if err != nil {
			return mcpError(fmt.Sprintf("sweep failed: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"deleted":                 counts,
			"recommendations_deleted": recDeleted,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal counts: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceCacheStats(deps Deps) server.ResourceHandlerFunc {
	return func(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := deps.Products.CacheStats()
		if err != nil {
			return nil, fmt.Errorf("reading cache stats: %w", err)
		}
		b, err := json.Marshal(stats)
		if err != nil {
			return nil, err
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
