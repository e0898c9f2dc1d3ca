package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/adolab/worklens/internal/store"
	"github.com/adolab/worklens/internal/syncer"
	"github.com/adolab/worklens/internal/tracker"
)

// SyncTool handles the sync MCP tool.
type SyncTool struct {
	syncer *syncer.Service
	scopes scopeResolver
}

// NewSyncTool creates a SyncTool.
func NewSyncTool(svc *syncer.Service, st *store.Store) *SyncTool {
	return &SyncTool{syncer: svc, scopes: scopeResolver{store: st, syncer: svc}}
}

// Definition returns the MCP tool definition for sync.
func (t *SyncTool) Definition() mcp.Tool {
	return mcp.NewTool("sync",
		mcp.WithDescription(
			"Synchronize the local mirror with the remote tracker. The first run performs a full "+
				"sync; later runs are incremental, fetching only items whose watermark changed.",
		),
		mcp.WithNumber("scope_id",
			mcp.Description("Sync scope id (default: the configured default scope)"),
		),
	)
}

// Handle processes the sync tool call.
func (t *SyncTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope, err := t.scopes.resolve(req)
	if err != nil {
		if errors.Is(err, syncer.ErrNoScope) {
			return mcp.NewToolResultError("no sync scope configured: set tracker.area_path in the config"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("resolving scope: %v", err)), nil
	}

	result, err := t.syncer.Sync(ctx, scope.ID)
	if err != nil {
		if errors.Is(err, tracker.ErrClient) {
			return mcp.NewToolResultError(fmt.Sprintf("tracker rejected the request: %v", err)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("sync failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Sync %s for scope %d:\n  added: %d\n  updated: %d\n  deleted: %d\n  comments synced: %d\n  duration: %s\n",
		result.Status, result.ScopeID,
		result.ItemsAdded, result.ItemsUpdated, result.ItemsDeleted,
		result.CommentsSynced, result.Duration,
	)), nil
}

// ReindexTool handles the reindex MCP tool.
type ReindexTool struct {
	syncer *syncer.Service
	scopes scopeResolver
}

// NewReindexTool creates a ReindexTool.
func NewReindexTool(svc *syncer.Service, st *store.Store) *ReindexTool {
	return &ReindexTool{syncer: svc, scopes: scopeResolver{store: st, syncer: svc}}
}

// Definition returns the MCP tool definition for reindex.
func (t *ReindexTool) Definition() mcp.Tool {
	return mcp.NewTool("reindex",
		mcp.WithDescription(
			"Regenerate summaries and embeddings for every mirrored item in a scope. "+
				"Use after switching models or when embedding coverage is incomplete.",
		),
		mcp.WithNumber("scope_id",
			mcp.Description("Sync scope id (default: the configured default scope)"),
		),
	)
}

// Handle processes the reindex tool call.
func (t *ReindexTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope, err := t.scopes.resolve(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resolving scope: %v", err)), nil
	}

	result, err := t.syncer.Reindex(ctx, scope.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reindex failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Reindexed scope %d: processed %d, failed %d, total %d\n",
		scope.ID, result.Processed, result.Failed, result.Total,
	)), nil
}
