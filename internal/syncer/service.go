// Package syncer drives synchronization of the local mirror against
// the remote tracker: change detection, batched fetching, atomic
// application of upserts and deletions, and the per-item best-effort
// comment + summarization cascade.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adolab/worklens/internal/store"
	"github.com/adolab/worklens/internal/tracker"
)

// ErrNoScope is returned when no sync scope exists and no default
// area path is configured to create one from.
var ErrNoScope = errors.New("syncer: no sync scope configured")

// parentLinkType marks the reverse hierarchy relation whose target is
// the item's parent.
const parentLinkType = "System.LinkTypes.Hierarchy-Reverse"

// Summarizer is the slice of the summarization pipeline the sync
// cascade needs.
type Summarizer interface {
	Generate(ctx context.Context, item *store.Item, comments []store.Comment) error
}

// Result reports one completed sync run.
type Result struct {
	ScopeID        int64  `json:"scope_id"`
	Status         string `json:"status"`
	ItemsSynced    int    `json:"items_synced"`
	ItemsAdded     int    `json:"items_added"`
	ItemsUpdated   int    `json:"items_updated"`
	ItemsDeleted   int    `json:"items_deleted"`
	CommentsSynced int    `json:"comments_synced"`
	Duration       string `json:"duration"`
}

// ReindexResult reports one completed reindex run.
type ReindexResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Service orchestrates sync runs for scopes.
type Service struct {
	source          tracker.Source
	store           *store.Store
	pipeline        Summarizer
	defaultName     string
	defaultAreaPath string
	log             zerolog.Logger
	now             func() time.Time
}

// New creates a sync service. defaultAreaPath seeds the lazily created
// default scope; it may be empty when scopes are managed explicitly.
func New(source tracker.Source, st *store.Store, pipeline Summarizer, defaultAreaPath string, log zerolog.Logger) *Service {
	return &Service{
		source:          source,
		store:           st,
		pipeline:        pipeline,
		defaultName:     defaultAreaPath,
		defaultAreaPath: defaultAreaPath,
		log:             log,
		now:             time.Now,
	}
}

// DefaultScope returns the first configured scope, creating one from
// the configured area path when none exists yet.
func (s *Service) DefaultScope() (*store.Scope, error) {
	scopes, err := s.store.ListScopes()
	if err != nil {
		return nil, err
	}
	if len(scopes) > 0 {
		return &scopes[0], nil
	}
	if s.defaultAreaPath == "" {
		return nil, ErrNoScope
	}
	id, err := s.store.CreateScope(s.defaultName, s.defaultAreaPath)
	if err != nil {
		return nil, err
	}
	return s.store.GetScope(id)
}

// StartBackground kicks off one sync run on a background goroutine.
// Used at process start: completion is logged and errors are swallowed
// so a failed startup sync never takes the process down.
func (s *Service) StartBackground(ctx context.Context) {
	go func() {
		s.log.Info().Msg("starting automatic sync on startup")
		scope, err := s.DefaultScope()
		if err != nil {
			s.log.Error().Err(err).Msg("startup sync: no usable scope")
			return
		}
		result, err := s.Sync(ctx, scope.ID)
		if err != nil {
			s.log.Error().Err(err).Msg("startup sync failed")
			return
		}
		s.log.Info().
			Int("added", result.ItemsAdded).
			Int("updated", result.ItemsUpdated).
			Int("deleted", result.ItemsDeleted).
			Int("comments", result.CommentsSynced).
			Str("duration", result.Duration).
			Msg("startup sync completed")
	}()
}

// Sync runs one full or incremental synchronization of a scope. The
// item upserts and deletions apply atomically; the per-item comment +
// summarization cascades are best-effort and never fail the run.
func (s *Service) Sync(ctx context.Context, scopeID int64) (*Result, error) {
	start := s.now()
	runID := uuid.NewString()[:8]
	log := s.log.With().Str("run", runID).Int64("scope", scopeID).Logger()

	scope, err := s.store.GetScope(scopeID)
	if err != nil {
		return nil, err
	}

	remoteIDs, err := s.source.ListIDs(ctx, scope.AreaPath)
	if err != nil {
		return nil, fmt.Errorf("listing remote ids: %w", err)
	}
	log.Info().Int("remote_items", len(remoteIDs)).Str("area_path", scope.AreaPath).Msg("sync started")

	incremental := scope.LastSyncedAt != nil
	log.Info().Bool("incremental", incremental).Msg("sync mode selected")

	var result *Result
	if incremental {
		result, err = s.syncIncremental(ctx, scope, remoteIDs, log)
	} else {
		result, err = s.syncFull(ctx, scope, remoteIDs, log)
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateLastSynced(scope.ID, s.now()); err != nil {
		return nil, fmt.Errorf("advancing last synced: %w", err)
	}

	result.Duration = fmt.Sprintf("%.1fs", s.now().Sub(start).Seconds())
	log.Info().
		Int("added", result.ItemsAdded).
		Int("updated", result.ItemsUpdated).
		Int("deleted", result.ItemsDeleted).
		Int("comments", result.CommentsSynced).
		Str("duration", result.Duration).
		Msg("sync completed")
	return result, nil
}

func (s *Service) syncFull(ctx context.Context, scope *store.Scope, remoteIDs []int, log zerolog.Logger) (*Result, error) {
	snaps, err := s.source.FetchBatch(ctx, remoteIDs, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching snapshots: %w", err)
	}

	items := s.mapSnapshots(snaps, scope.ID, log)
	if err := s.store.WithTx(func(tx *store.Tx) error {
		for _, item := range items {
			if err := tx.UpsertItem(item); err != nil {
				return fmt.Errorf("upserting item %d: %w", item.ID, err)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	commentsSynced := s.cascade(ctx, items, log)
	return &Result{
		ScopeID:        scope.ID,
		Status:         "completed",
		ItemsSynced:    len(items),
		ItemsAdded:     len(items),
		CommentsSynced: commentsSynced,
	}, nil
}

func (s *Service) syncIncremental(ctx context.Context, scope *store.Scope, remoteIDs []int, log zerolog.Logger) (*Result, error) {
	localIDs, err := s.store.ItemIDs(scope.ID)
	if err != nil {
		return nil, err
	}

	newIDs, deletedIDs, candidates := DiffIDs(remoteIDs, localIDs)

	var changedIDs []int
	if len(candidates) > 0 {
		wmStart := s.now()
		lightweight, err := s.source.FetchLightweight(ctx, candidates)
		if err != nil {
			return nil, fmt.Errorf("fetching watermarks: %w", err)
		}
		stored, err := s.store.ItemWatermarks(scope.ID)
		if err != nil {
			return nil, err
		}
		changedIDs = ChangedByWatermark(lightweight, stored)
		log.Info().
			Int("changed", len(changedIDs)).
			Int("candidates", len(candidates)).
			Dur("took", s.now().Sub(wmStart)).
			Msg("watermark check")
	}

	log.Info().
		Int("new", len(newIDs)).
		Int("changed", len(changedIDs)).
		Int("deleted", len(deletedIDs)).
		Msg("incremental summary")

	toFetch := union(newIDs, changedIDs)
	var items []*store.Item
	if len(toFetch) > 0 {
		snaps, err := s.source.FetchBatch(ctx, toFetch, nil)
		if err != nil {
			return nil, fmt.Errorf("fetching snapshots: %w", err)
		}
		items = s.mapSnapshots(snaps, scope.ID, log)
	}

	if err := s.store.WithTx(func(tx *store.Tx) error {
		for _, item := range items {
			if err := tx.UpsertItem(item); err != nil {
				return fmt.Errorf("upserting item %d: %w", item.ID, err)
			}
		}
		// Comments and embeddings go before the items that own them.
		for _, id := range deletedIDs {
			if err := tx.DeleteCommentsByItem(id, scope.ID); err != nil {
				return fmt.Errorf("deleting comments of item %d: %w", id, err)
			}
		}
		if err := tx.DeleteEmbeddingsByItems(scope.ID, deletedIDs); err != nil {
			return fmt.Errorf("deleting embeddings: %w", err)
		}
		if err := tx.DeleteItems(scope.ID, deletedIDs); err != nil {
			return fmt.Errorf("deleting items: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	commentsSynced := s.cascade(ctx, items, log)
	return &Result{
		ScopeID:        scope.ID,
		Status:         "completed",
		ItemsSynced:    len(newIDs) + len(changedIDs),
		ItemsAdded:     len(newIDs),
		ItemsUpdated:   len(changedIDs),
		ItemsDeleted:   len(deletedIDs),
		CommentsSynced: commentsSynced,
	}, nil
}

// cascade runs the best-effort per-item side effects: comment sync
// then summarization. A failure skips that item and moves on, leaving
// its embedding stale or its comments partial.
func (s *Service) cascade(ctx context.Context, items []*store.Item, log zerolog.Logger) int {
	commentsSynced := 0
	for _, item := range items {
		comments, err := s.syncComments(ctx, item)
		if err != nil {
			log.Warn().Err(err).Int("item", item.ID).Msg("comment sync failed, skipping cascade")
			continue
		}
		commentsSynced += len(comments)

		if err := s.pipeline.Generate(ctx, item, comments); err != nil {
			log.Warn().Err(err).Int("item", item.ID).Msg("summarization failed")
		}
	}
	return commentsSynced
}

func (s *Service) syncComments(ctx context.Context, item *store.Item) ([]store.Comment, error) {
	snaps, err := s.source.FetchComments(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	comments := make([]store.Comment, 0, len(snaps))
	for _, snap := range snaps {
		c := store.Comment{
			ID:           snap.ID,
			ItemID:       item.ID,
			ScopeID:      item.ScopeID,
			Text:         snap.Body(),
			CreatedBy:    snap.Author(),
			CreatedDate:  parseTime(snap.CreatedDate),
			ModifiedBy:   snap.Editor(),
			ModifiedDate: parseTime(snap.ModifiedDate),
			Version:      snap.Version,
			SyncedAt:     s.now(),
		}
		if err := s.store.UpsertComment(&c); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, nil
}

// Reindex re-runs the summarization pipeline over every stored item in
// a scope, using the comments already in the mirror.
func (s *Service) Reindex(ctx context.Context, scopeID int64) (*ReindexResult, error) {
	items, err := s.store.ItemsByScope(scopeID)
	if err != nil {
		return nil, err
	}

	result := &ReindexResult{Total: len(items)}
	for i := range items {
		item := &items[i]
		comments, err := s.store.CommentsByItem(item.ID, scopeID)
		if err != nil {
			s.log.Warn().Err(err).Int("item", item.ID).Msg("reindex: loading comments failed")
			result.Failed++
			continue
		}
		if err := s.pipeline.Generate(ctx, item, comments); err != nil {
			s.log.Warn().Err(err).Int("item", item.ID).Msg("reindex: summarization failed")
			result.Failed++
			continue
		}
		result.Processed++
	}
	return result, nil
}

// ─── Snapshot mapping ────────────────────────────────────────────────────────

func (s *Service) mapSnapshots(snaps []tracker.ItemSnapshot, scopeID int64, log zerolog.Logger) []*store.Item {
	items := make([]*store.Item, 0, len(snaps))
	for _, snap := range snaps {
		items = append(items, s.mapSnapshot(snap, scopeID, log))
	}
	return items
}

func (s *Service) mapSnapshot(snap tracker.ItemSnapshot, scopeID int64, log zerolog.Logger) *store.Item {
	raw, err := json.Marshal(snap.Fields)
	if err != nil {
		log.Warn().Int("item", snap.ID).Msg("failed to serialize raw fields")
		raw = nil
	}
	return &store.Item{
		ID:            snap.ID,
		ScopeID:       scopeID,
		Rev:           snap.Rev,
		Title:         snap.Title(),
		Type:          snap.Type(),
		State:         snap.State(),
		AssignedTo:    snap.AssignedTo(),
		Description:   snap.Description(),
		Priority:      snap.Priority(),
		Tags:          snap.Tags(),
		AreaPath:      snap.AreaPath(),
		IterationPath: snap.IterationPath(),
		ParentID:      parentFromRelations(snap.Relations),
		Watermark:     snap.Watermark(),
		CreatedDate:   parseTime(snap.CreatedDate()),
		ChangedDate:   parseTime(snap.ChangedDate()),
		CreatedBy:     snap.CreatedBy(),
		ChangedBy:     snap.ChangedBy(),
		RawFields:     string(raw),
		SyncedAt:      s.now(),
	}
}

// parentFromRelations extracts the parent item id from the first
// reverse hierarchy relation, parsing the trailing numeric segment of
// its target URL. No such relation means a root item; a malformed
// trailing segment is tolerated and leaves the parent unset.
func parentFromRelations(relations []tracker.Relation) *int {
	for _, rel := range relations {
		if rel.Rel != parentLinkType {
			continue
		}
		segments := strings.Split(rel.URL, "/")
		last := segments[len(segments)-1]
		id, err := strconv.Atoi(last)
		if err != nil {
			return nil
		}
		return &id
	}
	return nil
}

// parseTime parses the tracker's ISO timestamps, tolerating both
// offset and UTC forms. Unparseable input yields nil.
func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
