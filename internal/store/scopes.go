package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrScopeNotFound is returned when a scope id has no row.
var ErrScopeNotFound = errors.New("store: scope not found")

// CreateScope inserts a new sync scope and returns its id.
func (s *Store) CreateScope(name, areaPath string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO sync_scopes (name, area_path) VALUES (?, ?)`,
		name, areaPath,
	)
	if err != nil {
		return 0, fmt.Errorf("store: create scope: %w", err)
	}
	return res.LastInsertId()
}

// GetScope retrieves a scope by id.
func (s *Store) GetScope(id int64) (*Scope, error) {
	row := s.db.QueryRow(
		`SELECT id, name, area_path, last_synced_at, created_at FROM sync_scopes WHERE id = ?`, id,
	)
	return scanScope(row)
}

// ListScopes returns all scopes in creation order.
func (s *Store) ListScopes() ([]Scope, error) {
	rows, err := s.db.Query(
		`SELECT id, name, area_path, last_synced_at, created_at FROM sync_scopes ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var scopes []Scope
	for rows.Next() {
		var sc Scope
		var lastSynced, created sql.NullString
		if err := rows.Scan(&sc.ID, &sc.Name, &sc.AreaPath, &lastSynced, &created); err != nil {
			return nil, err
		}
		sc.LastSyncedAt = timeFromDB(lastSynced)
		if t := timeFromDB(created); t != nil {
			sc.CreatedAt = *t
		}
		scopes = append(scopes, sc)
	}
	return scopes, rows.Err()
}

// UpdateLastSynced advances a scope's last-synced timestamp. Called
// only after a sync run's atomic phase has committed.
func (s *Store) UpdateLastSynced(id int64, at time.Time) error {
	res, err := s.db.Exec(
		`UPDATE sync_scopes SET last_synced_at = ? WHERE id = ?`,
		timeToDB(&at), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrScopeNotFound
	}
	return nil
}

func scanScope(row *sql.Row) (*Scope, error) {
	var sc Scope
	var lastSynced, created sql.NullString
	if err := row.Scan(&sc.ID, &sc.Name, &sc.AreaPath, &lastSynced, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrScopeNotFound
		}
		return nil, err
	}
	sc.LastSyncedAt = timeFromDB(lastSynced)
	if t := timeFromDB(created); t != nil {
		sc.CreatedAt = *t
	}
	return &sc, nil
}
