// Package tracker provides read-only access to the remote work item
// tracker. The Source interface is the capability consumed by the sync
// engine; AzureClient is the Azure DevOps REST implementation.
package tracker

import (
	"context"
	"errors"
)

// ErrTransient marks network failures and 5xx responses. A sync run
// that hits one aborts without committing anything.
var ErrTransient = errors.New("tracker: transient error")

// ErrClient marks 4xx responses (bad area path, expired PAT). These are
// rejected back to the caller, not retried.
var ErrClient = errors.New("tracker: client error")

// Identity is a user reference as the tracker reports it.
type Identity struct {
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName"`
}

// Relation is a typed link between two work items. The parent link is a
// relation of type "System.LinkTypes.Hierarchy-Reverse" whose URL ends
// with the parent's id.
type Relation struct {
	Rel string `json:"rel"`
	URL string `json:"url"`
}

// ItemSnapshot is one work item as returned by the tracker. Fields is
// the raw field map; typed accessors live on the snapshot so callers
// never touch field reference names directly.
type ItemSnapshot struct {
	ID        int            `json:"id"`
	Rev       int            `json:"rev"`
	Fields    map[string]any `json:"fields"`
	Relations []Relation     `json:"relations"`
}

// CommentSnapshot is one work item comment as returned by the tracker.
type CommentSnapshot struct {
	ID           int       `json:"id"`
	Text         string    `json:"text"`
	RenderedText string    `json:"renderedText"`
	Version      int       `json:"version"`
	CreatedBy    *Identity `json:"createdBy"`
	CreatedDate  string    `json:"createdDate"`
	ModifiedBy   *Identity `json:"modifiedBy"`
	ModifiedDate string    `json:"modifiedDate"`
}

// Source is the read-only tracker capability the sync engine consumes.
type Source interface {
	// ListIDs returns every work item id under the given area path.
	ListIDs(ctx context.Context, areaPath string) ([]int, error)
	// FetchBatch returns full snapshots for ids, chunking requests
	// internally to respect the tracker's per-request id limit. A nil
	// fields list means all fields plus relations.
	FetchBatch(ctx context.Context, ids []int, fields []string) ([]ItemSnapshot, error)
	// FetchLightweight returns id+watermark snapshots only, for cheap
	// change detection.
	FetchLightweight(ctx context.Context, ids []int) ([]ItemSnapshot, error)
	// FetchComments returns all comments on one work item.
	FetchComments(ctx context.Context, itemID int) ([]CommentSnapshot, error)
}

// Field reference names used by the snapshot accessors.
const (
	fieldTitle         = "System.Title"
	fieldType          = "System.WorkItemType"
	fieldState         = "System.State"
	fieldAssignedTo    = "System.AssignedTo"
	fieldDescription   = "System.Description"
	fieldTags          = "System.Tags"
	fieldAreaPath      = "System.AreaPath"
	fieldIterationPath = "System.IterationPath"
	fieldWatermark     = "System.Watermark"
	fieldCreatedDate   = "System.CreatedDate"
	fieldChangedDate   = "System.ChangedDate"
	fieldCreatedBy     = "System.CreatedBy"
	fieldChangedBy     = "System.ChangedBy"
	fieldPriority      = "Microsoft.VSTS.Common.Priority"

	// FieldID names the id field for lightweight fetches.
	FieldID = "System.Id"
	// FieldWatermark names the watermark field for lightweight fetches.
	FieldWatermark = fieldWatermark
)

// Title returns the item title, or "" when absent.
func (s ItemSnapshot) Title() string { return s.stringField(fieldTitle) }

// Type returns the work item type (Bug, Task, ...).
func (s ItemSnapshot) Type() string { return s.stringField(fieldType) }

// State returns the workflow state.
func (s ItemSnapshot) State() string { return s.stringField(fieldState) }

// AssignedTo returns the assignee display name, or "" when unassigned.
func (s ItemSnapshot) AssignedTo() string { return s.identityField(fieldAssignedTo) }

// Description returns the rich-text description, or "".
func (s ItemSnapshot) Description() string { return s.stringField(fieldDescription) }

// Tags returns the semicolon-joined tag list, or "".
func (s ItemSnapshot) Tags() string { return s.stringField(fieldTags) }

// AreaPath returns the item's area path.
func (s ItemSnapshot) AreaPath() string { return s.stringField(fieldAreaPath) }

// IterationPath returns the item's iteration path.
func (s ItemSnapshot) IterationPath() string { return s.stringField(fieldIterationPath) }

// Priority returns the priority, or nil when unset.
func (s ItemSnapshot) Priority() *int { return s.intField(fieldPriority) }

// Watermark returns the remote change fingerprint, or nil when the
// field was not requested or not present.
func (s ItemSnapshot) Watermark() *int { return s.intField(fieldWatermark) }

// CreatedDate returns the ISO creation timestamp string, or "".
func (s ItemSnapshot) CreatedDate() string { return s.stringField(fieldCreatedDate) }

// ChangedDate returns the ISO last-change timestamp string, or "".
func (s ItemSnapshot) ChangedDate() string { return s.stringField(fieldChangedDate) }

// CreatedBy returns the creator display name, or "".
func (s ItemSnapshot) CreatedBy() string { return s.identityField(fieldCreatedBy) }

// ChangedBy returns the last editor display name, or "".
func (s ItemSnapshot) ChangedBy() string { return s.identityField(fieldChangedBy) }

func (s ItemSnapshot) stringField(key string) string {
	v, ok := s.Fields[key]
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return ""
}

// identityField handles fields that are either an identity object with
// a displayName or a plain string, depending on the API version.
func (s ItemSnapshot) identityField(key string) string {
	v, ok := s.Fields[key]
	if !ok || v == nil {
		return ""
	}
	if m, ok := v.(map[string]any); ok {
		if dn, ok := m["displayName"].(string); ok {
			return dn
		}
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return ""
}

func (s ItemSnapshot) intField(key string) *int {
	v, ok := s.Fields[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case float64:
		i := int(n)
		return &i
	case int:
		i := n
		return &i
	}
	return nil
}

// Author returns the comment author's display name, or "".
func (c CommentSnapshot) Author() string {
	if c.CreatedBy == nil {
		return ""
	}
	return c.CreatedBy.DisplayName
}

// Editor returns the comment's last editor display name, or "".
func (c CommentSnapshot) Editor() string {
	if c.ModifiedBy == nil {
		return ""
	}
	return c.ModifiedBy.DisplayName
}

// Body returns the comment text, preferring the rendered form when the
// tracker supplies one.
func (c CommentSnapshot) Body() string {
	if c.RenderedText != "" {
		return c.RenderedText
	}
	return c.Text
}
