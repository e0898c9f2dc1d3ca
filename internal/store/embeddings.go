package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrEmbeddingNotFound is returned when an item has no embedding
// record yet (the valid not-yet-indexed state).
var ErrEmbeddingNotFound = errors.New("store: embedding not found")

// ─── Vector encoding ─────────────────────────────────────────────────────────

// EncodeVector serializes a vector as a bracket-delimited,
// comma-separated list of decimal literals at float32 granularity.
// This is the exact textual form the hybrid search decoder reads back.
func EncodeVector(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// DecodeVector parses the textual vector form back into floats.
func DecodeVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("store: malformed vector %q", truncateForError(s))
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return nil, nil
	}
	parts := strings.Split(body, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("store: malformed vector component %q: %w", p, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

func truncateForError(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}

// cosineSimilarity over float32 vectors; 0 for mismatched or zero
// vectors so unusable records rank last instead of erroring.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ─── Embedding records ───────────────────────────────────────────────────────

// UpsertEmbedding inserts or replaces the embedding record for
// (item, scope). Only the summarization pipeline writes these.
func (s *Store) UpsertEmbedding(e *Embedding) error {
	keywords, err := json.Marshal(e.Keywords)
	if err != nil {
		return fmt.Errorf("store: marshal keywords: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO embeddings (item_id, scope_id, summary_en, keywords, embedding,
			model_version, detected_language, translation_en, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id, scope_id) DO UPDATE SET
			summary_en        = excluded.summary_en,
			keywords          = excluded.keywords,
			embedding         = excluded.embedding,
			model_version     = excluded.model_version,
			detected_language = excluded.detected_language,
			translation_en    = excluded.translation_en,
			generated_at      = excluded.generated_at`,
		e.ItemID, e.ScopeID, e.Summary, string(keywords), e.Vector,
		nullableString(e.ModelVersion), nullableString(e.DetectedLanguage),
		nullableString(e.TranslationEn), timeToDB(&e.GeneratedAt),
	)
	return err
}

// EmbeddingByItem retrieves the embedding record for (item, scope).
func (s *Store) EmbeddingByItem(itemID int, scopeID int64) (*Embedding, error) {
	row := s.db.QueryRow(`
		SELECT item_id, scope_id, summary_en, keywords, embedding,
			model_version, detected_language, translation_en, generated_at
		FROM embeddings WHERE item_id = ? AND scope_id = ?`,
		itemID, scopeID)

	var e Embedding
	var keywords string
	var modelVersion, detectedLanguage, translationEn, generatedAt sql.NullString
	err := row.Scan(&e.ItemID, &e.ScopeID, &e.Summary, &keywords, &e.Vector,
		&modelVersion, &detectedLanguage, &translationEn, &generatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmbeddingNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(keywords), &e.Keywords); err != nil {
		e.Keywords = nil
	}
	e.ModelVersion = stringFromDB(modelVersion)
	e.DetectedLanguage = stringFromDB(detectedLanguage)
	e.TranslationEn = stringFromDB(translationEn)
	if t := timeFromDB(generatedAt); t != nil {
		e.GeneratedAt = *t
	}
	return &e, nil
}

// CountEmbeddings counts indexed items under a scope.
func (s *Store) CountEmbeddings(scopeID int64) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM embeddings WHERE scope_id = ?`, scopeID).Scan(&n)
	return n, err
}

// DeleteEmbeddingsByItems removes embedding records for deleted items.
// Runs in the same transaction as the comment and item deletions so
// orphans are cleaned up by the same path.
func (t *Tx) DeleteEmbeddingsByItems(scopeID int64, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(
		`DELETE FROM embeddings WHERE scope_id = ? AND item_id IN (%s)`, placeholders(len(ids)))
	_, err := t.tx.Exec(query, prepend(scopeID, ids)...)
	return err
}

// ─── Hybrid search ───────────────────────────────────────────────────────────

// Sort orders for hybrid search results.
const (
	SortRelevance = "relevance"
	SortDate      = "date"
	SortStaleness = "staleness"
)

// HybridQuery combines structured predicates with optional vector
// ranking. A nil Vector means purely structured search.
type HybridQuery struct {
	ScopeID       int64
	Vector        []float32
	States        []string
	NotStates     []string
	Types         []string
	AssignedTo    string
	DateFrom      string // ISO date YYYY-MM-DD
	DateTo        string // ISO date YYYY-MM-DD
	StalenessDays *int
	Sort          string
	Limit         int
}

// HybridSearch executes the structured predicates in SQL and, when a
// query vector is present, ranks the surviving rows by cosine
// similarity against their stored embeddings. Relevance sort without a
// vector falls back to date ordering.
func (s *Store) HybridSearch(q HybridQuery) ([]Item, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	var sb strings.Builder
	sb.WriteString(`SELECT `)
	prefixed := make([]string, 0, 20)
	for _, col := range strings.Split(itemColumns, ",") {
		prefixed = append(prefixed, "i."+strings.TrimSpace(col))
	}
	sb.WriteString(strings.Join(prefixed, ", "))
	semantic := len(q.Vector) > 0
	if semantic {
		sb.WriteString(`, e.embedding`)
		sb.WriteString(` FROM items i JOIN embeddings e ON e.item_id = i.id AND e.scope_id = i.scope_id`)
	} else {
		sb.WriteString(` FROM items i`)
	}
	sb.WriteString(` WHERE i.scope_id = ?`)
	args := []any{q.ScopeID}

	if len(q.States) > 0 {
		sb.WriteString(` AND i.state IN (` + placeholders(len(q.States)) + `)`)
		for _, st := range q.States {
			args = append(args, st)
		}
	}
	if len(q.NotStates) > 0 {
		sb.WriteString(` AND i.state NOT IN (` + placeholders(len(q.NotStates)) + `)`)
		for _, st := range q.NotStates {
			args = append(args, st)
		}
	}
	if len(q.Types) > 0 {
		sb.WriteString(` AND i.item_type IN (` + placeholders(len(q.Types)) + `)`)
		for _, tp := range q.Types {
			args = append(args, tp)
		}
	}
	if q.AssignedTo != "" {
		sb.WriteString(` AND i.assigned_to = ?`)
		args = append(args, q.AssignedTo)
	}
	if q.DateFrom != "" {
		sb.WriteString(` AND date(i.changed_date) >= date(?)`)
		args = append(args, q.DateFrom)
	}
	if q.DateTo != "" {
		sb.WriteString(` AND date(i.changed_date) <= date(?)`)
		args = append(args, q.DateTo)
	}
	if q.StalenessDays != nil && *q.StalenessDays > 0 {
		sb.WriteString(` AND i.changed_date <= datetime('now', ?)`)
		args = append(args, fmt.Sprintf("-%d days", *q.StalenessDays))
	}

	if semantic {
		// Ranking happens in Go; fetch all filtered rows.
		return s.rankBySimilarity(sb.String(), args, q.Vector, q.Sort, limit)
	}

	switch q.Sort {
	case SortStaleness:
		sb.WriteString(` ORDER BY i.changed_date ASC`)
	default:
		// date, and relevance without a semantic query
		sb.WriteString(` ORDER BY i.changed_date DESC`)
	}
	sb.WriteString(` LIMIT ?`)
	args = append(args, limit)

	return s.queryItems(sb.String(), args...)
}

type rankedItem struct {
	item  Item
	score float64
}

func (s *Store) rankBySimilarity(query string, args []any, vec []float32, sortBy string, limit int) ([]Item, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ranked []rankedItem
	for rows.Next() {
		var encoded string
		item, err := scanItemRow(func(dest ...any) error {
			dest = append(dest, &encoded)
			return rows.Scan(dest...)
		})
		if err != nil {
			return nil, err
		}
		stored, err := DecodeVector(encoded)
		if err != nil {
			// Skip records written by an incompatible encoder rather
			// than failing the whole search.
			continue
		}
		ranked = append(ranked, rankedItem{item: *item, score: cosineSimilarity(vec, stored)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch sortBy {
	case SortDate:
		sort.SliceStable(ranked, func(a, b int) bool {
			return laterChanged(ranked[a].item, ranked[b].item)
		})
	case SortStaleness:
		sort.SliceStable(ranked, func(a, b int) bool {
			return laterChanged(ranked[b].item, ranked[a].item)
		})
	default:
		sort.SliceStable(ranked, func(a, b int) bool {
			return ranked[a].score > ranked[b].score
		})
	}

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	items := make([]Item, len(ranked))
	for i, r := range ranked {
		items[i] = r.item
	}
	return items, nil
}

func laterChanged(a, b Item) bool {
	switch {
	case a.ChangedDate == nil:
		return false
	case b.ChangedDate == nil:
		return true
	default:
		return a.ChangedDate.After(*b.ChangedDate)
	}
}
