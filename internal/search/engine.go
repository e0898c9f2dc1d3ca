package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/adolab/worklens/internal/llm"
	"github.com/adolab/worklens/internal/store"
)

const narrativeSystemPrompt = `You are a helpful assistant that summarizes Azure DevOps work items.
Given a user's question and a list of relevant work items with their summaries, provide a clear, concise narrative answer in the SAME LANGUAGE as the user's question.

Format your response in markdown. Be specific - reference work item IDs and titles.
Keep it concise but informative. Focus on answering the user's actual question.`

// resultLimit caps every smart search.
const resultLimit = 50

// Result is the smart search response.
type Result struct {
	ResponseType string       `json:"response_type"`
	Items        []store.Item `json:"items"`
	Narrative    string       `json:"narrative,omitempty"`
	Explanation  string       `json:"explanation"`
}

// Engine executes search plans against the store.
type Engine struct {
	planner *Planner
	model   llm.Model
	store   *store.Store
	log     zerolog.Logger
}

// NewEngine creates a hybrid search engine.
func NewEngine(planner *Planner, model llm.Model, st *store.Store, log zerolog.Logger) *Engine {
	return &Engine{planner: planner, model: model, store: st, log: log}
}

// SmartSearch plans and executes a free-text query over one scope. An
// unparseable plan yields the fixed empty "list" result; it never
// raises. Narrative generation failure degrades to no narrative.
func (e *Engine) SmartSearch(ctx context.Context, query string, scopeID int64) (*Result, error) {
	e.log.Info().Str("query", query).Int64("scope", scopeID).Msg("smart search")

	outcome, err := e.planner.Plan(ctx, query)
	if err != nil {
		return nil, err
	}
	if !outcome.Parsed {
		return &Result{
			ResponseType: "list",
			Items:        []store.Item{},
			Explanation:  "Failed to understand query",
		}, nil
	}
	plan := outcome.Plan

	e.log.Info().
		Str("type", plan.ResponseType).
		Str("semantic", plan.SemanticQuery).
		Str("sort", plan.Sort).
		Msg("search plan")

	items, err := e.Execute(ctx, plan, scopeID)
	if err != nil {
		return nil, err
	}
	e.log.Info().Int("items", len(items)).Msg("smart search found items")

	result := &Result{
		ResponseType: plan.ResponseType,
		Items:        items,
		Explanation:  plan.Explanation,
	}
	if plan.ResponseType == "narrative" && len(items) > 0 {
		result.Narrative = e.generateNarrative(ctx, query, items)
	}
	return result, nil
}

// Execute runs one plan against the store. The query embedding is only
// requested when the plan carries a semantic query; purely structured
// plans issue no model calls at all.
func (e *Engine) Execute(ctx context.Context, plan Plan, scopeID int64) ([]store.Item, error) {
	var vector []float32
	if q := strings.TrimSpace(plan.SemanticQuery); q != "" {
		vec, err := e.model.Embed(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("embedding query: %w", err)
		}
		vector = vec
	}

	items, err := e.store.HybridSearch(store.HybridQuery{
		ScopeID:       scopeID,
		Vector:        vector,
		States:        plan.Filters.States,
		NotStates:     plan.Filters.NotStates,
		Types:         plan.Filters.Types,
		AssignedTo:    plan.Filters.Assignee,
		DateFrom:      plan.Filters.DateFrom,
		DateTo:        plan.Filters.DateTo,
		StalenessDays: plan.Filters.StalenessDays,
		Sort:          plan.Sort,
		Limit:         resultLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	return items, nil
}

// generateNarrative asks the model for a prose answer over the result
// set. Best-effort: any failure is logged and the narrative stays
// empty.
func (e *Engine) generateNarrative(ctx context.Context, query string, items []store.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User question: %s\n\n", query)
	fmt.Fprintf(&b, "Relevant work items (%d):\n\n", len(items))
	for _, item := range items {
		fmt.Fprintf(&b, "- #%d [%s] %s (State: %s", item.ID, item.Type, item.Title, item.State)
		if item.AssignedTo != "" {
			fmt.Fprintf(&b, ", Assigned: %s", item.AssignedTo)
		}
		if item.ChangedDate != nil {
			fmt.Fprintf(&b, ", Last changed: %s", item.ChangedDate.Format("2006-01-02"))
		}
		b.WriteString(")\n")
	}

	narrative, err := e.model.Complete(ctx, narrativeSystemPrompt, b.String())
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to generate narrative")
		return ""
	}
	return narrative
}
