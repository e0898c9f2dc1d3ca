package store

import (
	"database/sql"
)

func upsertComment(e execer, c *Comment) error {
	_, err := e.Exec(`
		INSERT INTO comments (id, item_id, scope_id, body, created_by, created_date,
			modified_by, modified_date, version, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, scope_id) DO UPDATE SET
			item_id       = excluded.item_id,
			body          = excluded.body,
			created_by    = excluded.created_by,
			created_date  = excluded.created_date,
			modified_by   = excluded.modified_by,
			modified_date = excluded.modified_date,
			version       = excluded.version,
			synced_at     = excluded.synced_at`,
		c.ID, c.ItemID, c.ScopeID,
		nullableString(c.Text), nullableString(c.CreatedBy), timeToDB(c.CreatedDate),
		nullableString(c.ModifiedBy), timeToDB(c.ModifiedDate),
		c.Version, timeToDB(&c.SyncedAt),
	)
	return err
}

// UpsertComment inserts or replaces one comment. Comment writes happen
// in the best-effort cascade phase, outside the sync transaction.
func (s *Store) UpsertComment(c *Comment) error {
	return upsertComment(s.db, c)
}

// CommentsByItem returns an item's comments in creation order.
func (s *Store) CommentsByItem(itemID int, scopeID int64) ([]Comment, error) {
	rows, err := s.db.Query(`
		SELECT id, item_id, scope_id, body, created_by, created_date,
			modified_by, modified_date, version, synced_at
		FROM comments
		WHERE item_id = ? AND scope_id = ?
		ORDER BY created_date, id`,
		itemID, scopeID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var comments []Comment
	for rows.Next() {
		var c Comment
		var body, createdBy, modifiedBy sql.NullString
		var createdDate, modifiedDate, syncedAt sql.NullString
		if err := rows.Scan(&c.ID, &c.ItemID, &c.ScopeID, &body, &createdBy, &createdDate,
			&modifiedBy, &modifiedDate, &c.Version, &syncedAt); err != nil {
			return nil, err
		}
		c.Text = stringFromDB(body)
		c.CreatedBy = stringFromDB(createdBy)
		c.ModifiedBy = stringFromDB(modifiedBy)
		c.CreatedDate = timeFromDB(createdDate)
		c.ModifiedDate = timeFromDB(modifiedDate)
		if t := timeFromDB(syncedAt); t != nil {
			c.SyncedAt = *t
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// DeleteCommentsByItem removes one item's comments. Runs inside the
// sync transaction, before the owning item row is deleted.
func (t *Tx) DeleteCommentsByItem(itemID int, scopeID int64) error {
	_, err := t.tx.Exec(
		`DELETE FROM comments WHERE item_id = ? AND scope_id = ?`, itemID, scopeID)
	return err
}

// DeleteCommentsByScope removes every comment under a scope.
func (s *Store) DeleteCommentsByScope(scopeID int64) error {
	_, err := s.db.Exec(`DELETE FROM comments WHERE scope_id = ?`, scopeID)
	return err
}
