package store_test

import (
	"errors"
	"testing"
	"time"

	"github.com/adolab/worklens/internal/store"
)

// newTestStore creates a Store backed by a temp directory for isolation.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// newScope creates a scope and returns its id.
func newScope(t *testing.T, s *store.Store) int64 {
	t.Helper()
	id, err := s.CreateScope("Platform", `Contoso\Platform`)
	if err != nil {
		t.Fatalf("failed to create scope: %v", err)
	}
	return id
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

// testItem builds a minimally populated item for write tests.
func testItem(id int, scopeID int64) *store.Item {
	changed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &store.Item{
		ID:          id,
		ScopeID:     scopeID,
		Rev:         1,
		Title:       "Fix login timeout",
		Type:        "Bug",
		State:       "Active",
		AssignedTo:  "Ana Torres",
		Watermark:   intPtr(100 + id),
		ChangedDate: timePtr(changed),
		SyncedAt:    changed,
	}
}

// ─── Scopes ──────────────────────────────────────────────────────────────────

func TestCreateScope_AndGet(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateScope("Platform", `Contoso\Platform`)
	if err != nil {
		t.Fatalf("CreateScope() error: %v", err)
	}

	scope, err := s.GetScope(id)
	if err != nil {
		t.Fatalf("GetScope() error: %v", err)
	}
	if scope.Name != "Platform" {
		t.Errorf("Name = %q, want %q", scope.Name, "Platform")
	}
	if scope.AreaPath != `Contoso\Platform` {
		t.Errorf("AreaPath = %q, want %q", scope.AreaPath, `Contoso\Platform`)
	}
	if scope.LastSyncedAt != nil {
		t.Errorf("LastSyncedAt = %v, want nil for a never-synced scope", scope.LastSyncedAt)
	}
	if scope.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestGetScope_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetScope(999)
	if !errors.Is(err, store.ErrScopeNotFound) {
		t.Errorf("GetScope(999) error = %v, want ErrScopeNotFound", err)
	}
}

func TestUpdateLastSynced(t *testing.T) {
	s := newTestStore(t)
	id := newScope(t, s)

	at := time.Date(2025, 6, 2, 8, 30, 0, 0, time.UTC)
	if err := s.UpdateLastSynced(id, at); err != nil {
		t.Fatalf("UpdateLastSynced() error: %v", err)
	}

	scope, err := s.GetScope(id)
	if err != nil {
		t.Fatalf("GetScope() error: %v", err)
	}
	if scope.LastSyncedAt == nil {
		t.Fatal("LastSyncedAt should be set after UpdateLastSynced")
	}
	if !scope.LastSyncedAt.Equal(at) {
		t.Errorf("LastSyncedAt = %v, want %v", scope.LastSyncedAt, at)
	}
}

func TestUpdateLastSynced_UnknownScope(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateLastSynced(42, time.Now())
	if !errors.Is(err, store.ErrScopeNotFound) {
		t.Errorf("error = %v, want ErrScopeNotFound", err)
	}
}

func TestListScopes_Order(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateScope("A", `Org\A`); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateScope("B", `Org\B`); err != nil {
		t.Fatal(err)
	}

	scopes, err := s.ListScopes()
	if err != nil {
		t.Fatalf("ListScopes() error: %v", err)
	}
	if len(scopes) != 2 {
		t.Fatalf("len(scopes) = %d, want 2", len(scopes))
	}
	if scopes[0].Name != "A" || scopes[1].Name != "B" {
		t.Errorf("scopes out of creation order: %q, %q", scopes[0].Name, scopes[1].Name)
	}
}

// ─── Items ───────────────────────────────────────────────────────────────────

func TestUpsertItem_InsertThenUpdate(t *testing.T) {
	s := newTestStore(t)
	scopeID := newScope(t, s)

	item := testItem(1, scopeID)
	if err := s.UpsertItem(item); err != nil {
		t.Fatalf("UpsertItem() insert error: %v", err)
	}

	item.Title = "Fix login timeout (revised)"
	item.State = "Resolved"
	item.Watermark = intPtr(205)
	if err := s.UpsertItem(item); err != nil {
		t.Fatalf("UpsertItem() update error: %v", err)
	}

	got, err := s.GetItem(1, scopeID)
	if err != nil {
		t.Fatalf("GetItem() error: %v", err)
	}
	if got.Title != "Fix login timeout (revised)" {
		t.Errorf("Title = %q, not updated", got.Title)
	}
	if got.State != "Resolved" {
		t.Errorf("State = %q, want Resolved", got.State)
	}
	if got.Watermark == nil || *got.Watermark != 205 {
		t.Errorf("Watermark = %v, want 205", got.Watermark)
	}

	ids, err := s.ItemIDs(scopeID)
	if err != nil {
		t.Fatalf("ItemIDs() error: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("len(ids) = %d after upsert of same id, want 1", len(ids))
	}
}

func TestGetItem_NotFound(t *testing.T) {
	s := newTestStore(t)
	scopeID := newScope(t, s)

	_, err := s.GetItem(12345, scopeID)
	if !errors.Is(err, store.ErrItemNotFound) {
		t.Errorf("error = %v, want ErrItemNotFound", err)
	}
}

func TestGetItem_RoundTripsOptionalFields(t *testing.T) {
	s := newTestStore(t)
	scopeID := newScope(t, s)

	created := time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)
	item := testItem(7, scopeID)
	item.Description = "Steps to reproduce..."
	item.Priority = intPtr(2)
	item.Tags = "auth; regression"
	item.ParentID = intPtr(3)
	item.CreatedDate = timePtr(created)
	item.CreatedBy = "Ana Torres"
	item.RawFields = `{"System.Title":"Fix login timeout"}`
	if err := s.UpsertItem(item); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetItem(7, scopeID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Priority == nil || *got.Priority != 2 {
		t.Errorf("Priority = %v, want 2", got.Priority)
	}
	if got.ParentID == nil || *got.ParentID != 3 {
		t.Errorf("ParentID = %v, want 3", got.ParentID)
	}
	if got.CreatedDate == nil || !got.CreatedDate.Equal(created) {
		t.Errorf("CreatedDate = %v, want %v", got.CreatedDate, created)
	}
	if got.RawFields != item.RawFields {
		t.Errorf("RawFields = %q, want %q", got.RawFields, item.RawFields)
	}
}

func TestItemWatermarks_SkipsNullWatermarks(t *testing.T) {
	s := newTestStore(t)
	scopeID := newScope(t, s)

	withMark := testItem(1, scopeID)
	withoutMark := testItem(2, scopeID)
	withoutMark.Watermark = nil
	if err := s.UpsertItem(withMark); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertItem(withoutMark); err != nil {
		t.Fatal(err)
	}

	marks, err := s.ItemWatermarks(scopeID)
	if err != nil {
		t.Fatalf("ItemWatermarks() error: %v", err)
	}
	if len(marks) != 1 {
		t.Fatalf("len(marks) = %d, want 1", len(marks))
	}
	if marks[1] != 101 {
		t.Errorf("marks[1] = %d, want 101", marks[1])
	}
	if _, ok := marks[2]; ok {
		t.Error("item without watermark should be absent from the map")
	}
}

func TestDeleteItems_InTx(t *testing.T) {
	s := newTestStore(t)
	scopeID := newScope(t, s)

	for _, id := range []int{1, 2, 3} {
		if err := s.UpsertItem(testItem(id, scopeID)); err != nil {
			t.Fatal(err)
		}
	}

	err := s.WithTx(func(tx *store.Tx) error {
		return tx.DeleteItems(scopeID, []int{1, 3})
	})
	if err != nil {
		t.Fatalf("WithTx() error: %v", err)
	}

	ids, err := s.ItemIDs(scopeID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("remaining ids = %v, want [2]", ids)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	scopeID := newScope(t, s)

	failure := errors.New("boom")
	err := s.WithTx(func(tx *store.Tx) error {
		if err := tx.UpsertItem(testItem(1, scopeID)); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("WithTx() error = %v, want the fn's error", err)
	}

	ids, err := s.ItemIDs(scopeID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v after rollback, want none", ids)
	}
}

func TestScopeIsolation(t *testing.T) {
	s := newTestStore(t)
	scopeA := newScope(t, s)
	scopeB, err := s.CreateScope("Mobile", `Contoso\Mobile`)
	if err != nil {
		t.Fatal(err)
	}

	// Same remote id mirrored under both scopes.
	if err := s.UpsertItem(testItem(1, scopeA)); err != nil {
		t.Fatal(err)
	}
	other := testItem(1, scopeB)
	other.Title = "Mobile copy"
	if err := s.UpsertItem(other); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetItem(1, scopeB)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Mobile copy" {
		t.Errorf("Title = %q, scopes are not isolated", got.Title)
	}
}

// ─── FindByFilter ────────────────────────────────────────────────────────────

func seedBrowseItems(t *testing.T, s *store.Store, scopeID int64) {
	t.Helper()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := []struct {
		id       int
		title    string
		itemType string
		state    string
		assignee string
	}{
		{1, "Fix login timeout", "Bug", "Active", "Ana Torres"},
		{2, "Add password reset", "User Story", "New", "Ben Okafor"},
		{3, "Login page redesign", "User Story", "Active", "Ana Torres"},
		{4, "Upgrade build agents", "Task", "Closed", "Ben Okafor"},
	}
	for i, r := range rows {
		item := testItem(r.id, scopeID)
		item.Title = r.title
		item.Type = r.itemType
		item.State = r.state
		item.AssignedTo = r.assignee
		item.ChangedDate = timePtr(base.Add(time.Duration(i) * time.Hour))
		if err := s.UpsertItem(item); err != nil {
			t.Fatal(err)
		}
	}
}

func TestFindByFilter_ByTypeAndState(t *testing.T) {
	s := newTestStore(t)
	scopeID := newScope(t, s)
	seedBrowseItems(t, s, scopeID)

	items, err := s.FindByFilter(store.ItemFilter{
		ScopeID: scopeID,
		Type:    "User Story",
		State:   "Active",
	})
	if err != nil {
		t.Fatalf("FindByFilter() error: %v", err)
	}
	if len(items) != 1 || items[0].ID != 3 {
		t.Errorf("items = %v, want only id 3", items)
	}
}

func TestFindByFilter_TextQueryMatchesTitle(t *testing.T) {
	s := newTestStore(t)
	scopeID := newScope(t, s)
	seedBrowseItems(t, s, scopeID)

	items, err := s.FindByFilter(store.ItemFilter{ScopeID: scopeID, Query: "login"})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2 matches for %q", len(items), "login")
	}
}

func TestFindByFilter_DefaultSortIsChangedDesc(t *testing.T) {
	s := newTestStore(t)
	scopeID := newScope(t, s)
	seedBrowseItems(t, s, scopeID)

	items, err := s.FindByFilter(store.ItemFilter{ScopeID: scopeID})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 4 {
		t.Fatalf("len(items) = %d, want 4", len(items))
	}
	if items[0].ID != 4 {
		t.Errorf("first item = %d, want the most recently changed (4)", items[0].ID)
	}
}

func TestFindByFilter_UnknownSortFallsBack(t *testing.T) {
	s := newTestStore(t)
	scopeID := newScope(t, s)
	seedBrowseItems(t, s, scopeID)

	// An unrecognized sort column must not be interpolated into SQL.
	items, err := s.FindByFilter(store.ItemFilter{
		ScopeID: scopeID,
		SortBy:  "id; DROP TABLE items",
	})
	if err != nil {
		t.Fatalf("FindByFilter() error: %v", err)
	}
	if len(items) != 4 {
		t.Errorf("len(items) = %d, want 4", len(items))
	}
}

func TestFindByFilter_LimitAndOffset(t *testing.T) {
	s := newTestStore(t)
	scopeID := newScope(t, s)
	seedBrowseItems(t, s, scopeID)

	page, err := s.FindByFilter(store.ItemFilter{
		ScopeID: scopeID,
		SortBy:  "id",
		SortDir: "asc",
		Limit:   2,
		Offset:  2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != 3 || page[1].ID != 4 {
		t.Errorf("page = %v, want ids [3 4]", page)
	}
}

func TestChildren(t *testing.T) {
	s := newTestStore(t)
	scopeID := newScope(t, s)

	parent := testItem(1, scopeID)
	if err := s.UpsertItem(parent); err != nil {
		t.Fatal(err)
	}
	for _, id := range []int{2, 3} {
		child := testItem(id, scopeID)
		child.ParentID = intPtr(1)
		if err := s.UpsertItem(child); err != nil {
			t.Fatal(err)
		}
	}

	children, err := s.Children(1, scopeID)
	if err != nil {
		t.Fatalf("Children() error: %v", err)
	}
	if len(children) != 2 {
		t.Errorf("len(children) = %d, want 2", len(children))
	}
}

func TestDistinctAndCounts(t *testing.T) {
	s := newTestStore(t)
	scopeID := newScope(t, s)
	seedBrowseItems(t, s, scopeID)

	types, err := s.DistinctTypes(scopeID)
	if err != nil {
		t.Fatal(err)
	}
	if len(types) != 3 {
		t.Errorf("DistinctTypes = %v, want 3 values", types)
	}

	active, err := s.CountByState(scopeID, "Active")
	if err != nil {
		t.Fatal(err)
	}
	if active != 2 {
		t.Errorf("CountByState(Active) = %d, want 2", active)
	}

	total, err := s.CountByState(scopeID, "")
	if err != nil {
		t.Fatal(err)
	}
	if total != 4 {
		t.Errorf("CountByState(all) = %d, want 4", total)
	}
}

// ─── Comments ────────────────────────────────────────────────────────────────

func TestUpsertComment_AndListOrder(t *testing.T) {
	s := newTestStore(t)
	scopeID := newScope(t, s)

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i, text := range []string{"first", "second", "third"} {
		c := &store.Comment{
			ID:          10 + i,
			ItemID:      1,
			ScopeID:     scopeID,
			Text:        text,
			CreatedBy:   "Ana Torres",
			CreatedDate: timePtr(base.Add(time.Duration(i) * time.Minute)),
			Version:     1,
			SyncedAt:    base,
		}
		if err := s.UpsertComment(c); err != nil {
			t.Fatalf("UpsertComment() error: %v", err)
		}
	}

	comments, err := s.CommentsByItem(1, scopeID)
	if err != nil {
		t.Fatalf("CommentsByItem() error: %v", err)
	}
	if len(comments) != 3 {
		t.Fatalf("len(comments) = %d, want 3", len(comments))
	}
	for i, want := range []string{"first", "second", "third"} {
		if comments[i].Text != want {
			t.Errorf("comments[%d].Text = %q, want %q", i, comments[i].Text, want)
		}
	}
}

func TestUpsertComment_UpdatesEditedComment(t *testing.T) {
	s := newTestStore(t)
	scopeID := newScope(t, s)

	c := &store.Comment{ID: 1, ItemID: 5, ScopeID: scopeID, Text: "draft", Version: 1, SyncedAt: time.Now()}
	if err := s.UpsertComment(c); err != nil {
		t.Fatal(err)
	}
	c.Text = "edited"
	c.Version = 2
	if err := s.UpsertComment(c); err != nil {
		t.Fatal(err)
	}

	comments, err := s.CommentsByItem(5, scopeID)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 1 {
		t.Fatalf("len(comments) = %d, want 1", len(comments))
	}
	if comments[0].Text != "edited" || comments[0].Version != 2 {
		t.Errorf("comment = %+v, want edited text at version 2", comments[0])
	}
}

func TestDeleteCommentsByItem_InTx(t *testing.T) {
	s := newTestStore(t)
	scopeID := newScope(t, s)

	for _, itemID := range []int{1, 2} {
		c := &store.Comment{ID: itemID * 10, ItemID: itemID, ScopeID: scopeID, Text: "x", SyncedAt: time.Now()}
		if err := s.UpsertComment(c); err != nil {
			t.Fatal(err)
		}
	}

	err := s.WithTx(func(tx *store.Tx) error {
		return tx.DeleteCommentsByItem(1, scopeID)
	})
	if err != nil {
		t.Fatal(err)
	}

	gone, err := s.CommentsByItem(1, scopeID)
	if err != nil {
		t.Fatal(err)
	}
	if len(gone) != 0 {
		t.Errorf("comments for item 1 = %d, want 0", len(gone))
	}
	kept, err := s.CommentsByItem(2, scopeID)
	if err != nil {
		t.Fatal(err)
	}
	if len(kept) != 1 {
		t.Errorf("comments for item 2 = %d, want 1", len(kept))
	}
}
