package search_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adolab/worklens/internal/search"
	"github.com/adolab/worklens/internal/store"
)

// fakeModel scripts completions as a queue so plan and narrative calls
// in one search can return different text, and counts Embed calls.
type fakeModel struct {
	completions   []string
	completionErr error
	embedVec      []float32
	embedErr      error
	embedCalls    int
	embedInputs   []string
}

func (f *fakeModel) Complete(_ context.Context, _, _ string) (string, error) {
	if f.completionErr != nil {
		return "", f.completionErr
	}
	if len(f.completions) == 0 {
		return "", errors.New("fakeModel: no scripted completion")
	}
	next := f.completions[0]
	f.completions = f.completions[1:]
	return next, nil
}

func (f *fakeModel) Embed(_ context.Context, text string) ([]float32, error) {
	f.embedCalls++
	f.embedInputs = append(f.embedInputs, text)
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return f.embedVec, nil
}

func newSearchFixture(t *testing.T, model *fakeModel) (*search.Engine, *store.Store, int64) {
	t.Helper()
	st, err := store.New(store.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	scopeID, err := st.CreateScope("Platform", `Contoso\Platform`)
	require.NoError(t, err)

	planner := search.NewPlanner(model, zerolog.Nop())
	engine := search.NewEngine(planner, model, st, zerolog.Nop())
	return engine, st, scopeID
}

func seedItem(t *testing.T, st *store.Store, scopeID int64, id int, state string, vec []float32) {
	t.Helper()
	changed := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Hour)
	item := &store.Item{
		ID:          id,
		ScopeID:     scopeID,
		Title:       "Item",
		Type:        "Bug",
		State:       state,
		ChangedDate: &changed,
		SyncedAt:    changed,
	}
	require.NoError(t, st.UpsertItem(item))
	if vec != nil {
		require.NoError(t, st.UpsertEmbedding(&store.Embedding{
			ItemID:      id,
			ScopeID:     scopeID,
			Summary:     "summary",
			Vector:      store.EncodeVector(vec),
			GeneratedAt: changed,
		}))
	}
}

// ─── Planner ─────────────────────────────────────────────────────────────────

func TestPlanner_ParsesValidPlan(t *testing.T) {
	model := &fakeModel{completions: []string{
		`{"response_type":"list","semantic_query":"login problems","filters":{"states":["Active"]},"sort":"date","explanation":"looking for active login items"}`,
	}}
	planner := search.NewPlanner(model, zerolog.Nop())

	outcome, err := planner.Plan(context.Background(), "active login problems")
	require.NoError(t, err)
	require.True(t, outcome.Parsed)
	assert.Equal(t, "list", outcome.Plan.ResponseType)
	assert.Equal(t, "login problems", outcome.Plan.SemanticQuery)
	assert.Equal(t, []string{"Active"}, outcome.Plan.Filters.States)
	assert.Equal(t, "date", outcome.Plan.Sort)
}

func TestPlanner_PeelsMarkdownFence(t *testing.T) {
	model := &fakeModel{completions: []string{
		"```json\n{\"response_type\":\"narrative\",\"explanation\":\"x\"}\n```",
	}}
	planner := search.NewPlanner(model, zerolog.Nop())

	outcome, err := planner.Plan(context.Background(), "what happened today?")
	require.NoError(t, err)
	require.True(t, outcome.Parsed)
	assert.Equal(t, "narrative", outcome.Plan.ResponseType)
}

func TestPlanner_DefaultsSortToRelevance(t *testing.T) {
	model := &fakeModel{completions: []string{
		`{"response_type":"list","explanation":"x"}`,
	}}
	planner := search.NewPlanner(model, zerolog.Nop())

	outcome, err := planner.Plan(context.Background(), "bugs")
	require.NoError(t, err)
	require.True(t, outcome.Parsed)
	assert.Equal(t, "relevance", outcome.Plan.Sort)
}

func TestPlanner_MalformedResponseIsFallbackNotError(t *testing.T) {
	model := &fakeModel{completions: []string{"I think you want bugs about login?"}}
	planner := search.NewPlanner(model, zerolog.Nop())

	outcome, err := planner.Plan(context.Background(), "bugs about login")
	require.NoError(t, err)
	assert.False(t, outcome.Parsed)
	assert.Equal(t, "I think you want bugs about login?", outcome.Raw)
}

func TestPlanner_CompletionErrorPropagates(t *testing.T) {
	model := &fakeModel{completionErr: errors.New("model overloaded")}
	planner := search.NewPlanner(model, zerolog.Nop())

	_, err := planner.Plan(context.Background(), "bugs")
	require.Error(t, err)
}

// ─── Execute ─────────────────────────────────────────────────────────────────

func TestExecute_NoSemanticQuerySkipsEmbedding(t *testing.T) {
	model := &fakeModel{}
	engine, st, scopeID := newSearchFixture(t, model)
	seedItem(t, st, scopeID, 1, "Active", nil)
	seedItem(t, st, scopeID, 2, "Closed", nil)

	plan := search.Plan{
		ResponseType: "list",
		Filters:      search.Filters{States: []string{"Active"}},
		Sort:         "date",
	}
	items, err := engine.Execute(context.Background(), plan, scopeID)
	require.NoError(t, err)

	assert.Len(t, items, 1)
	assert.Equal(t, 0, model.embedCalls, "structured plans must not call the embeddings API")
}

func TestExecute_BlankSemanticQuerySkipsEmbedding(t *testing.T) {
	model := &fakeModel{}
	engine, st, scopeID := newSearchFixture(t, model)
	seedItem(t, st, scopeID, 1, "Active", nil)

	plan := search.Plan{ResponseType: "list", SemanticQuery: "   "}
	_, err := engine.Execute(context.Background(), plan, scopeID)
	require.NoError(t, err)
	assert.Equal(t, 0, model.embedCalls)
}

func TestExecute_SemanticQueryEmbedsAndRanks(t *testing.T) {
	model := &fakeModel{embedVec: []float32{1, 0}}
	engine, st, scopeID := newSearchFixture(t, model)
	seedItem(t, st, scopeID, 1, "Active", []float32{1, 0})
	seedItem(t, st, scopeID, 2, "Active", []float32{0, 1})

	plan := search.Plan{ResponseType: "list", SemanticQuery: "login problems", Sort: "relevance"}
	items, err := engine.Execute(context.Background(), plan, scopeID)
	require.NoError(t, err)

	assert.Equal(t, 1, model.embedCalls)
	assert.Equal(t, []string{"login problems"}, model.embedInputs)
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].ID, "closest vector should rank first")
}

func TestExecute_EmbedErrorPropagates(t *testing.T) {
	model := &fakeModel{embedErr: errors.New("embeddings unavailable")}
	engine, _, scopeID := newSearchFixture(t, model)

	plan := search.Plan{ResponseType: "list", SemanticQuery: "login"}
	_, err := engine.Execute(context.Background(), plan, scopeID)
	require.Error(t, err)
}

// ─── SmartSearch ─────────────────────────────────────────────────────────────

func TestSmartSearch_UnparseablePlanYieldsEmptyListResult(t *testing.T) {
	model := &fakeModel{completions: []string{"not json at all"}}
	engine, _, scopeID := newSearchFixture(t, model)

	result, err := engine.SmartSearch(context.Background(), "rambling query", scopeID)
	require.NoError(t, err)

	assert.Equal(t, "list", result.ResponseType)
	assert.NotNil(t, result.Items)
	assert.Empty(t, result.Items)
	assert.Equal(t, "Failed to understand query", result.Explanation)
	assert.Empty(t, result.Narrative)
}

func TestSmartSearch_ListPlanReturnsItemsWithoutNarrative(t *testing.T) {
	model := &fakeModel{completions: []string{
		`{"response_type":"list","filters":{"states":["Active"]},"explanation":"active items"}`,
	}}
	engine, st, scopeID := newSearchFixture(t, model)
	seedItem(t, st, scopeID, 1, "Active", nil)

	result, err := engine.SmartSearch(context.Background(), "show active items", scopeID)
	require.NoError(t, err)

	assert.Equal(t, "list", result.ResponseType)
	assert.Len(t, result.Items, 1)
	assert.Empty(t, result.Narrative, "list results carry no narrative")
	assert.Equal(t, "active items", result.Explanation)
}

func TestSmartSearch_NarrativePlanGeneratesNarrative(t *testing.T) {
	model := &fakeModel{completions: []string{
		`{"response_type":"narrative","filters":{"states":["Active"]},"explanation":"status"}`,
		"One active bug remains: #1.",
	}}
	engine, st, scopeID := newSearchFixture(t, model)
	seedItem(t, st, scopeID, 1, "Active", nil)

	result, err := engine.SmartSearch(context.Background(), "what's still open?", scopeID)
	require.NoError(t, err)

	assert.Equal(t, "narrative", result.ResponseType)
	assert.Equal(t, "One active bug remains: #1.", result.Narrative)
}

func TestSmartSearch_NarrativeSkippedWhenNoItems(t *testing.T) {
	// Only one scripted completion: a narrative call would error out,
	// so an empty result set must never reach the model again.
	model := &fakeModel{completions: []string{
		`{"response_type":"narrative","filters":{"states":["Removed"]},"explanation":"x"}`,
	}}
	engine, _, scopeID := newSearchFixture(t, model)

	result, err := engine.SmartSearch(context.Background(), "what was removed?", scopeID)
	require.NoError(t, err)

	assert.Empty(t, result.Items)
	assert.Empty(t, result.Narrative)
}
