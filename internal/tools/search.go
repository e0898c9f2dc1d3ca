package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/adolab/worklens/internal/search"
	"github.com/adolab/worklens/internal/store"
	"github.com/adolab/worklens/internal/syncer"
)

// SmartSearchTool handles the smart_search MCP tool.
type SmartSearchTool struct {
	engine *search.Engine
	scopes scopeResolver
}

// NewSmartSearchTool creates a SmartSearchTool.
func NewSmartSearchTool(engine *search.Engine, svc *syncer.Service, st *store.Store) *SmartSearchTool {
	return &SmartSearchTool{engine: engine, scopes: scopeResolver{store: st, syncer: svc}}
}

// Definition returns the MCP tool definition for smart_search.
func (t *SmartSearchTool) Definition() mcp.Tool {
	return mcp.NewTool("smart_search",
		mcp.WithDescription(
			"Search mirrored work items with natural language. Combines structured filters "+
				"(state, type, assignee, dates, staleness) with semantic ranking, and can answer "+
				"questions with a narrative summary.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Free-text query, any language"),
		),
		mcp.WithNumber("scope_id",
			mcp.Description("Sync scope id (default: the configured default scope)"),
		),
	)
}

// Handle processes the smart_search tool call.
func (t *SmartSearchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}

	scope, err := t.scopes.resolve(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resolving scope: %v", err)), nil
	}

	result, err := t.engine.SmartSearch(ctx, query, scope.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	var b strings.Builder
	if result.Narrative != "" {
		b.WriteString(result.Narrative)
		b.WriteString("\n\n")
	}
	if len(result.Items) > 0 {
		fmt.Fprintf(&b, "Found %d items:\n\n", len(result.Items))
		b.WriteString(formatItems(result.Items))
	} else {
		b.WriteString("No matching items.\n")
	}
	if result.Explanation != "" {
		fmt.Fprintf(&b, "\n(%s)\n", result.Explanation)
	}
	return mcp.NewToolResultText(b.String()), nil
}
