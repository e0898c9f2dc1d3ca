// Package store implements the local mirror database for worklens.
//
// It uses SQLite (WAL mode) to persist sync scopes, work items,
// comments, and embedding records, and serves the hybrid
// structured-filter + vector-similarity search that the smart search
// layer runs on. Items and comments are written only by the sync
// engine; embedding records only by the summarization pipeline.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// ─── Types ───────────────────────────────────────────────────────────────────

// Scope is one sync boundary: an area-path filter on the remote
// tracker plus the bookkeeping that selects full vs incremental mode.
// A nil LastSyncedAt means the scope has never synced.
type Scope struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	AreaPath     string     `json:"area_path"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Item is one mirrored work item. (ID, ScopeID) is the primary key:
// the same remote item may be mirrored under several scopes.
type Item struct {
	ID            int        `json:"id"`
	ScopeID       int64      `json:"scope_id"`
	Rev           int        `json:"rev"`
	Title         string     `json:"title"`
	Type          string     `json:"type"`
	State         string     `json:"state"`
	AssignedTo    string     `json:"assigned_to,omitempty"`
	Description   string     `json:"description,omitempty"`
	Priority      *int       `json:"priority,omitempty"`
	Tags          string     `json:"tags,omitempty"`
	AreaPath      string     `json:"area_path,omitempty"`
	IterationPath string     `json:"iteration_path,omitempty"`
	ParentID      *int       `json:"parent_id,omitempty"`
	Watermark     *int       `json:"watermark,omitempty"`
	CreatedDate   *time.Time `json:"created_date,omitempty"`
	ChangedDate   *time.Time `json:"changed_date,omitempty"`
	CreatedBy     string     `json:"created_by,omitempty"`
	ChangedBy     string     `json:"changed_by,omitempty"`
	RawFields     string     `json:"-"`
	SyncedAt      time.Time  `json:"synced_at"`
}

// Comment is one mirrored work item comment.
type Comment struct {
	ID           int        `json:"id"`
	ItemID       int        `json:"item_id"`
	ScopeID      int64      `json:"scope_id"`
	Text         string     `json:"text"`
	CreatedBy    string     `json:"created_by,omitempty"`
	CreatedDate  *time.Time `json:"created_date,omitempty"`
	ModifiedBy   string     `json:"modified_by,omitempty"`
	ModifiedDate *time.Time `json:"modified_date,omitempty"`
	Version      int        `json:"version"`
	SyncedAt     time.Time  `json:"synced_at"`
}

// Embedding is the derived summary + vector record for one item. It is
// eventually consistent: it may lag the item when summarization failed,
// and its absence simply means not-yet-indexed.
type Embedding struct {
	ItemID           int       `json:"item_id"`
	ScopeID          int64     `json:"scope_id"`
	Summary          string    `json:"summary"`
	Keywords         []string  `json:"keywords"`
	Vector           string    `json:"-"`
	ModelVersion     string    `json:"model_version"`
	DetectedLanguage string    `json:"detected_language,omitempty"`
	TranslationEn    string    `json:"translation_en,omitempty"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Config holds store configuration.
type Config struct {
	DataDir string
}

// Store is the mirror database backed by SQLite.
type Store struct {
	db *sql.DB
}

// execer abstracts *sql.DB and *sql.Tx so write helpers can run inside
// or outside a transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// New opens (creating if needed) the mirror database under
// cfg.DataDir and runs migrations.
func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "worklens.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sync_scopes (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			name           TEXT NOT NULL,
			area_path      TEXT NOT NULL,
			last_synced_at TEXT,
			created_at     TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS items (
			id             INTEGER NOT NULL,
			scope_id       INTEGER NOT NULL,
			rev            INTEGER NOT NULL DEFAULT 0,
			title          TEXT,
			item_type      TEXT,
			state          TEXT,
			assigned_to    TEXT,
			description    TEXT,
			priority       INTEGER,
			tags           TEXT,
			area_path      TEXT,
			iteration_path TEXT,
			parent_id      INTEGER,
			watermark      INTEGER,
			created_date   TEXT,
			changed_date   TEXT,
			created_by     TEXT,
			changed_by     TEXT,
			raw_fields     TEXT,
			synced_at      TEXT NOT NULL,
			PRIMARY KEY (id, scope_id),
			FOREIGN KEY (scope_id) REFERENCES sync_scopes(id)
		);

		CREATE INDEX IF NOT EXISTS idx_items_scope   ON items(scope_id);
		CREATE INDEX IF NOT EXISTS idx_items_state   ON items(scope_id, state);
		CREATE INDEX IF NOT EXISTS idx_items_type    ON items(scope_id, item_type);
		CREATE INDEX IF NOT EXISTS idx_items_parent  ON items(scope_id, parent_id);
		CREATE INDEX IF NOT EXISTS idx_items_changed ON items(scope_id, changed_date DESC);

		CREATE TABLE IF NOT EXISTS comments (
			id            INTEGER NOT NULL,
			item_id       INTEGER NOT NULL,
			scope_id      INTEGER NOT NULL,
			body          TEXT,
			created_by    TEXT,
			created_date  TEXT,
			modified_by   TEXT,
			modified_date TEXT,
			version       INTEGER NOT NULL DEFAULT 0,
			synced_at     TEXT NOT NULL,
			PRIMARY KEY (id, scope_id)
		);

		CREATE INDEX IF NOT EXISTS idx_comments_item ON comments(scope_id, item_id);

		CREATE TABLE IF NOT EXISTS embeddings (
			item_id           INTEGER NOT NULL,
			scope_id          INTEGER NOT NULL,
			summary_en        TEXT NOT NULL,
			keywords          TEXT NOT NULL DEFAULT '[]',
			embedding         TEXT NOT NULL,
			model_version     TEXT,
			detected_language TEXT,
			translation_en    TEXT,
			generated_at      TEXT NOT NULL,
			PRIMARY KEY (item_id, scope_id)
		);

		CREATE INDEX IF NOT EXISTS idx_embeddings_scope ON embeddings(scope_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─── Transactions ────────────────────────────────────────────────────────────

// Tx exposes the write operations that participate in the sync run's
// atomic phase. All writes through a Tx commit or roll back together.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside one transaction, committing on nil return and
// rolling back otherwise.
func (s *Store) WithTx(fn func(tx *Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(&Tx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// timeFormat is lexicographically sortable, so SQL comparisons on
// stored timestamps behave correctly.
const timeFormat = "2006-01-02T15:04:05Z"

func timeToDB(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeFormat)
}

func timeFromDB(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	// Two layouts appear in practice: our own writes and sqlite's
	// datetime('now') default.
	for _, layout := range []string{timeFormat, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s.String); err == nil {
			return &t
		}
	}
	return nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringFromDB(s sql.NullString) string {
	if !s.Valid {
		return ""
	}
	return s.String
}

func intFromDB(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	i := int(n.Int64)
	return &i
}
