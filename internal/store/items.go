package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrItemNotFound is returned when an item id has no row under the
// given scope.
var ErrItemNotFound = errors.New("store: item not found")

// ItemFilter holds the structured browse predicates.
type ItemFilter struct {
	ScopeID       int64
	Type          string
	State         string
	AssignedTo    string
	Query         string
	IterationPath string
	SortBy        string
	SortDir       string
	Limit         int
	Offset        int
}

const itemColumns = `id, scope_id, rev, title, item_type, state, assigned_to, description,
	priority, tags, area_path, iteration_path, parent_id, watermark,
	created_date, changed_date, created_by, changed_by, raw_fields, synced_at`

func upsertItem(e execer, item *Item) error {
	_, err := e.Exec(`
		INSERT INTO items (id, scope_id, rev, title, item_type, state, assigned_to, description,
			priority, tags, area_path, iteration_path, parent_id, watermark,
			created_date, changed_date, created_by, changed_by, raw_fields, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, scope_id) DO UPDATE SET
			rev            = excluded.rev,
			title          = excluded.title,
			item_type      = excluded.item_type,
			state          = excluded.state,
			assigned_to    = excluded.assigned_to,
			description    = excluded.description,
			priority       = excluded.priority,
			tags           = excluded.tags,
			area_path      = excluded.area_path,
			iteration_path = excluded.iteration_path,
			parent_id      = excluded.parent_id,
			watermark      = excluded.watermark,
			created_date   = excluded.created_date,
			changed_date   = excluded.changed_date,
			created_by     = excluded.created_by,
			changed_by     = excluded.changed_by,
			raw_fields     = excluded.raw_fields,
			synced_at      = excluded.synced_at`,
		item.ID, item.ScopeID, item.Rev,
		nullableString(item.Title), nullableString(item.Type), nullableString(item.State),
		nullableString(item.AssignedTo), nullableString(item.Description),
		nullableInt(item.Priority), nullableString(item.Tags),
		nullableString(item.AreaPath), nullableString(item.IterationPath),
		nullableInt(item.ParentID), nullableInt(item.Watermark),
		timeToDB(item.CreatedDate), timeToDB(item.ChangedDate),
		nullableString(item.CreatedBy), nullableString(item.ChangedBy),
		nullableString(item.RawFields), timeToDB(&item.SyncedAt),
	)
	return err
}

// UpsertItem inserts or replaces one item outside any transaction.
func (s *Store) UpsertItem(item *Item) error {
	return upsertItem(s.db, item)
}

// UpsertItem inserts or replaces one item inside the transaction.
func (t *Tx) UpsertItem(item *Item) error {
	return upsertItem(t.tx, item)
}

// DeleteItems removes the given items under one scope.
func (t *Tx) DeleteItems(scopeID int64, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(
		`DELETE FROM items WHERE scope_id = ? AND id IN (%s)`, placeholders(len(ids)))
	_, err := t.tx.Exec(query, prepend(scopeID, ids)...)
	return err
}

// GetItem retrieves one item by (id, scope).
func (s *Store) GetItem(id int, scopeID int64) (*Item, error) {
	row := s.db.QueryRow(
		`SELECT `+itemColumns+` FROM items WHERE id = ? AND scope_id = ?`, id, scopeID)
	item, err := scanItemRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	return item, err
}

// ItemIDs returns every stored item id under a scope.
func (s *Store) ItemIDs(scopeID int64) ([]int, error) {
	rows, err := s.db.Query(`SELECT id FROM items WHERE scope_id = ?`, scopeID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ItemWatermarks returns stored watermarks keyed by item id. Items
// with no stored watermark are absent from the map.
func (s *Store) ItemWatermarks(scopeID int64) (map[int]int, error) {
	rows, err := s.db.Query(
		`SELECT id, watermark FROM items WHERE scope_id = ? AND watermark IS NOT NULL`, scopeID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	marks := make(map[int]int)
	for rows.Next() {
		var id, wm int
		if err := rows.Scan(&id, &wm); err != nil {
			return nil, err
		}
		marks[id] = wm
	}
	return marks, rows.Err()
}

// ItemsByScope returns every item under a scope in id order.
func (s *Store) ItemsByScope(scopeID int64) ([]Item, error) {
	return s.queryItems(
		`SELECT `+itemColumns+` FROM items WHERE scope_id = ? ORDER BY id`, scopeID)
}

// FindByFilter returns items matching the structured browse filter.
func (s *Store) FindByFilter(f ItemFilter) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE scope_id = ?`
	args := []any{f.ScopeID}

	if f.Type != "" {
		query += ` AND item_type = ?`
		args = append(args, f.Type)
	}
	if f.State != "" {
		query += ` AND state = ?`
		args = append(args, f.State)
	}
	if f.AssignedTo != "" {
		query += ` AND assigned_to = ?`
		args = append(args, f.AssignedTo)
	}
	if f.IterationPath != "" {
		query += ` AND iteration_path = ?`
		args = append(args, f.IterationPath)
	}
	if f.Query != "" {
		query += ` AND (title LIKE ? OR description LIKE ?)`
		like := "%" + f.Query + "%"
		args = append(args, like, like)
	}

	query += ` ORDER BY ` + sortColumn(f.SortBy) + ` ` + sortDirection(f.SortDir)

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	return s.queryItems(query, args...)
}

// Children returns the direct children of a parent item.
func (s *Store) Children(parentID int, scopeID int64) ([]Item, error) {
	return s.queryItems(
		`SELECT `+itemColumns+` FROM items WHERE scope_id = ? AND parent_id = ? ORDER BY id`,
		scopeID, parentID)
}

// DistinctTypes returns the distinct work item types under a scope.
func (s *Store) DistinctTypes(scopeID int64) ([]string, error) {
	return s.distinct("item_type", scopeID)
}

// DistinctStates returns the distinct states under a scope.
func (s *Store) DistinctStates(scopeID int64) ([]string, error) {
	return s.distinct("state", scopeID)
}

// DistinctAssignees returns the distinct assignees under a scope.
func (s *Store) DistinctAssignees(scopeID int64) ([]string, error) {
	return s.distinct("assigned_to", scopeID)
}

// DistinctIterations returns the distinct iteration paths under a scope.
func (s *Store) DistinctIterations(scopeID int64) ([]string, error) {
	return s.distinct("iteration_path", scopeID)
}

// CountByState counts items in one state; an empty state counts all
// items under the scope.
func (s *Store) CountByState(scopeID int64, state string) (int, error) {
	query := `SELECT COUNT(*) FROM items WHERE scope_id = ?`
	args := []any{scopeID}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, state)
	}
	var n int
	err := s.db.QueryRow(query, args...).Scan(&n)
	return n, err
}

// ─── Internals ───────────────────────────────────────────────────────────────

// sortColumn whitelists sortable columns; anything else falls back to
// last-changed ordering.
func sortColumn(name string) string {
	switch name {
	case "id", "title", "state", "priority":
		return name
	case "created":
		return "created_date"
	default:
		return "changed_date"
	}
}

func sortDirection(dir string) string {
	if strings.EqualFold(dir, "asc") {
		return "ASC"
	}
	return "DESC"
}

func (s *Store) distinct(column string, scopeID int64) ([]string, error) {
	query := fmt.Sprintf(
		`SELECT DISTINCT %s FROM items WHERE scope_id = ? AND %s IS NOT NULL ORDER BY %s`,
		column, column, column)
	rows, err := s.db.Query(query, scopeID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (s *Store) queryItems(query string, args ...any) ([]Item, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []Item
	for rows.Next() {
		item, err := scanItemRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanItemRow(scan func(dest ...any) error) (*Item, error) {
	var item Item
	var title, itemType, state, assignedTo, description, tags sql.NullString
	var areaPath, iterationPath, createdBy, changedBy, rawFields sql.NullString
	var priority, parentID, watermark sql.NullInt64
	var createdDate, changedDate, syncedAt sql.NullString

	err := scan(
		&item.ID, &item.ScopeID, &item.Rev, &title, &itemType, &state, &assignedTo, &description,
		&priority, &tags, &areaPath, &iterationPath, &parentID, &watermark,
		&createdDate, &changedDate, &createdBy, &changedBy, &rawFields, &syncedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Title = stringFromDB(title)
	item.Type = stringFromDB(itemType)
	item.State = stringFromDB(state)
	item.AssignedTo = stringFromDB(assignedTo)
	item.Description = stringFromDB(description)
	item.Tags = stringFromDB(tags)
	item.AreaPath = stringFromDB(areaPath)
	item.IterationPath = stringFromDB(iterationPath)
	item.CreatedBy = stringFromDB(createdBy)
	item.ChangedBy = stringFromDB(changedBy)
	item.RawFields = stringFromDB(rawFields)
	item.Priority = intFromDB(priority)
	item.ParentID = intFromDB(parentID)
	item.Watermark = intFromDB(watermark)
	item.CreatedDate = timeFromDB(createdDate)
	item.ChangedDate = timeFromDB(changedDate)
	if t := timeFromDB(syncedAt); t != nil {
		item.SyncedAt = *t
	}
	return &item, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func prepend(scopeID int64, ids []int) []any {
	args := make([]any, 0, len(ids)+1)
	args = append(args, scopeID)
	for _, id := range ids {
		args = append(args, id)
	}
	return args
}
