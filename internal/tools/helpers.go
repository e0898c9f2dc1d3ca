// Package tools implements the MCP tools exposed by the worklens
// server: sync, smart search, reindex, and the mirror browse surface.
//
// Each tool is a struct receiving its dependencies via constructor and
// exposing a Definition plus a Handle compatible with mcp-go.
package tools

import (
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/adolab/worklens/internal/store"
	"github.com/adolab/worklens/internal/syncer"
)

// intArg reads a numeric argument with a default.
func intArg(req mcp.CallToolRequest, name string, def int) int {
	return int(req.GetFloat(name, float64(def)))
}

// scopeResolver picks the scope a tool call operates on: an explicit
// scope_id argument, or the lazily created default scope.
type scopeResolver struct {
	store  *store.Store
	syncer *syncer.Service
}

func (r scopeResolver) resolve(req mcp.CallToolRequest) (*store.Scope, error) {
	if id := intArg(req, "scope_id", 0); id > 0 {
		return r.store.GetScope(int64(id))
	}
	return r.syncer.DefaultScope()
}

// formatItems renders a compact item listing for tool output.
func formatItems(items []store.Item) string {
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "#%d [%s] %s\n", item.ID, item.Type, item.Title)
		fmt.Fprintf(&b, "    state: %s", item.State)
		if item.AssignedTo != "" {
			fmt.Fprintf(&b, " | assigned: %s", item.AssignedTo)
		}
		if item.ChangedDate != nil {
			fmt.Fprintf(&b, " | changed: %s", item.ChangedDate.Format("2006-01-02"))
		}
		if item.ParentID != nil {
			fmt.Fprintf(&b, " | parent: #%d", *item.ParentID)
		}
		b.WriteString("\n")
	}
	return b.String()
}
