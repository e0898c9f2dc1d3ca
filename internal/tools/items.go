package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/adolab/worklens/internal/store"
	"github.com/adolab/worklens/internal/syncer"
)

// ListItemsTool handles the list_items MCP tool.
type ListItemsTool struct {
	store  *store.Store
	scopes scopeResolver
}

// NewListItemsTool creates a ListItemsTool.
func NewListItemsTool(st *store.Store, svc *syncer.Service) *ListItemsTool {
	return &ListItemsTool{store: st, scopes: scopeResolver{store: st, syncer: svc}}
}

// Definition returns the MCP tool definition for list_items.
func (t *ListItemsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_items",
		mcp.WithDescription("Browse mirrored work items with structured filters."),
		mcp.WithString("type", mcp.Description("Filter by work item type (Bug, Task, User Story, ...)")),
		mcp.WithString("state", mcp.Description("Filter by state (New, Active, Closed, ...)")),
		mcp.WithString("assignee", mcp.Description("Filter by assignee display name")),
		mcp.WithString("iteration", mcp.Description("Filter by iteration path")),
		mcp.WithString("query", mcp.Description("Substring match on title and description")),
		mcp.WithString("sort", mcp.Description("Sort column: changed (default), created, id, title, state, priority")),
		mcp.WithString("dir", mcp.Description("Sort direction: desc (default) or asc")),
		mcp.WithNumber("limit", mcp.Description("Max results (default: 50)")),
		mcp.WithNumber("offset", mcp.Description("Result offset for paging")),
		mcp.WithNumber("scope_id", mcp.Description("Sync scope id (default: the configured default scope)")),
	)
}

// Handle processes the list_items tool call.
func (t *ListItemsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope, err := t.scopes.resolve(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resolving scope: %v", err)), nil
	}

	items, err := t.store.FindByFilter(store.ItemFilter{
		ScopeID:       scope.ID,
		Type:          req.GetString("type", ""),
		State:         req.GetString("state", ""),
		AssignedTo:    req.GetString("assignee", ""),
		IterationPath: req.GetString("iteration", ""),
		Query:         req.GetString("query", ""),
		SortBy:        req.GetString("sort", ""),
		SortDir:       req.GetString("dir", ""),
		Limit:         intArg(req, "limit", 50),
		Offset:        intArg(req, "offset", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing items: %v", err)), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("No items match the filter."), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Found %d items:\n\n%s", len(items), formatItems(items))), nil
}

// GetItemTool handles the get_item MCP tool.
type GetItemTool struct {
	store  *store.Store
	scopes scopeResolver
}

// NewGetItemTool creates a GetItemTool.
func NewGetItemTool(st *store.Store, svc *syncer.Service) *GetItemTool {
	return &GetItemTool{store: st, scopes: scopeResolver{store: st, syncer: svc}}
}

// Definition returns the MCP tool definition for get_item.
func (t *GetItemTool) Definition() mcp.Tool {
	return mcp.NewTool("get_item",
		mcp.WithDescription("Show one mirrored work item with its comments, children, and AI summary."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Work item id")),
		mcp.WithNumber("scope_id", mcp.Description("Sync scope id (default: the configured default scope)")),
	)
}

// Handle processes the get_item tool call.
func (t *GetItemTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := intArg(req, "id", 0)
	if id <= 0 {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	scope, err := t.scopes.resolve(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resolving scope: %v", err)), nil
	}

	item, err := t.store.GetItem(id, scope.ID)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("item %d not found in scope %d", id, scope.ID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("loading item: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "#%d [%s] %s\n", item.ID, item.Type, item.Title)
	fmt.Fprintf(&b, "state: %s | rev: %d\n", item.State, item.Rev)
	if item.AssignedTo != "" {
		fmt.Fprintf(&b, "assigned: %s\n", item.AssignedTo)
	}
	if item.Tags != "" {
		fmt.Fprintf(&b, "tags: %s\n", item.Tags)
	}
	fmt.Fprintf(&b, "area: %s | iteration: %s\n", item.AreaPath, item.IterationPath)
	if item.ParentID != nil {
		fmt.Fprintf(&b, "parent: #%d\n", *item.ParentID)
	}
	if item.ChangedDate != nil {
		fmt.Fprintf(&b, "last changed: %s by %s\n", item.ChangedDate.Format("2006-01-02"), item.ChangedBy)
	}

	if summary, err := t.store.EmbeddingByItem(item.ID, scope.ID); err == nil {
		fmt.Fprintf(&b, "\nSummary: %s\n", summary.Summary)
		if len(summary.Keywords) > 0 {
			fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(summary.Keywords, ", "))
		}
	}

	if children, err := t.store.Children(item.ID, scope.ID); err == nil && len(children) > 0 {
		fmt.Fprintf(&b, "\nChildren (%d):\n%s", len(children), formatItems(children))
	}

	comments, err := t.store.CommentsByItem(item.ID, scope.ID)
	if err == nil && len(comments) > 0 {
		fmt.Fprintf(&b, "\nComments (%d):\n", len(comments))
		for _, c := range comments {
			author := c.CreatedBy
			if author == "" {
				author = "unknown"
			}
			fmt.Fprintf(&b, "[%s] %s\n", author, c.Text)
		}
	}

	return mcp.NewToolResultText(b.String()), nil
}

// MetadataTool handles the scope_metadata MCP tool.
type MetadataTool struct {
	store  *store.Store
	scopes scopeResolver
}

// NewMetadataTool creates a MetadataTool.
func NewMetadataTool(st *store.Store, svc *syncer.Service) *MetadataTool {
	return &MetadataTool{store: st, scopes: scopeResolver{store: st, syncer: svc}}
}

// Definition returns the MCP tool definition for scope_metadata.
func (t *MetadataTool) Definition() mcp.Tool {
	return mcp.NewTool("scope_metadata",
		mcp.WithDescription(
			"Show the distinct types, states, assignees, and iterations in a scope, "+
				"plus per-state counts and embedding coverage.",
		),
		mcp.WithNumber("scope_id", mcp.Description("Sync scope id (default: the configured default scope)")),
	)
}

// Handle processes the scope_metadata tool call.
func (t *MetadataTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope, err := t.scopes.resolve(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resolving scope: %v", err)), nil
	}

	types, err := t.store.DistinctTypes(scope.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("loading metadata: %v", err)), nil
	}
	states, err := t.store.DistinctStates(scope.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("loading metadata: %v", err)), nil
	}
	assignees, err := t.store.DistinctAssignees(scope.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("loading metadata: %v", err)), nil
	}
	iterations, err := t.store.DistinctIterations(scope.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("loading metadata: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Scope %d (%s)\n", scope.ID, scope.AreaPath)
	if scope.LastSyncedAt != nil {
		fmt.Fprintf(&b, "last synced: %s\n", scope.LastSyncedAt.Format("2006-01-02 15:04"))
	} else {
		b.WriteString("last synced: never\n")
	}
	fmt.Fprintf(&b, "\ntypes: %s\n", strings.Join(types, ", "))
	fmt.Fprintf(&b, "assignees: %s\n", strings.Join(assignees, ", "))
	fmt.Fprintf(&b, "iterations: %s\n", strings.Join(iterations, ", "))

	b.WriteString("\nstate counts:\n")
	total := 0
	for _, state := range states {
		n, err := t.store.CountByState(scope.ID, state)
		if err != nil {
			continue
		}
		total += n
		fmt.Fprintf(&b, "  %s: %d\n", state, n)
	}
	fmt.Fprintf(&b, "  total: %d\n", total)

	if indexed, err := t.store.CountEmbeddings(scope.ID); err == nil {
		fmt.Fprintf(&b, "\nindexed items: %d of %d\n", indexed, total)
	}
	return mcp.NewToolResultText(b.String()), nil
}
