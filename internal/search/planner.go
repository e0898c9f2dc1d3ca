// Package search implements smart search over the mirror: a query
// planner that turns free text into a structured search plan via the
// language model, and an engine that executes the plan against the
// store's hybrid search, optionally synthesizing a narrative answer.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/adolab/worklens/internal/llm"
)

const plannerSystemPrompt = `You decompose user queries about Azure DevOps work items into a structured search plan.
Translate the user query to English regardless of the input language.

Return ONLY valid JSON (no markdown) with this structure:
{
  "response_type": "list" or "narrative",
  "semantic_query": "English search text for semantic matching, or null if not needed",
  "filters": {
    "states": [],
    "not_states": [],
    "types": [],
    "assignee": null,
    "date_from": null,
    "date_to": null,
    "staleness_days": null
  },
  "sort": "relevance" or "date" or "staleness",
  "explanation": "brief reasoning in the same language as user query"
}

Rules:
- Use "narrative" when the user asks a question expecting a descriptive answer (e.g. "what happened today?", "which tasks are ready to close?", "summarize progress", "status update").
- Use "list" when the user is searching for items (e.g. "tasks about validation", "show me bugs", "find issues related to X").
- date_from/date_to should be ISO date strings (YYYY-MM-DD). Use today's date context.
- staleness_days: number of days of inactivity (e.g. 30 for "not handled for a long time")
- states/not_states: use Azure DevOps states like "New", "Active", "Resolved", "Closed", "Done", "Removed"
- types: use types like "User Story", "Bug", "Task", "Feature", "Epic"
- Always set semantic_query for conceptual/topic-based questions
- For time-based queries without topic, set semantic_query to null
- Keep explanation concise`

// Filters are the structured predicates a plan can carry.
type Filters struct {
	States        []string `json:"states"`
	NotStates     []string `json:"not_states"`
	Types         []string `json:"types"`
	Assignee      string   `json:"assignee"`
	DateFrom      string   `json:"date_from"`
	DateTo        string   `json:"date_to"`
	StalenessDays *int     `json:"staleness_days"`
}

// Plan is the structured search plan the planner produces.
type Plan struct {
	ResponseType  string  `json:"response_type"`
	SemanticQuery string  `json:"semantic_query"`
	Filters       Filters `json:"filters"`
	Sort          string  `json:"sort"`
	Explanation   string  `json:"explanation"`
}

// PlanOutcome is the tagged result of planning: a parsed plan, or a
// fallback carrying the raw model output when it was not valid JSON.
type PlanOutcome struct {
	Parsed bool
	Plan   Plan
	Raw    string
}

// Planner turns free-text queries into search plans.
type Planner struct {
	model llm.Model
	log   zerolog.Logger
	today func() time.Time
}

// NewPlanner creates a query planner.
func NewPlanner(model llm.Model, log zerolog.Logger) *Planner {
	return &Planner{model: model, log: log, today: time.Now}
}

// Plan asks the model for a search plan. The current date is included
// so relative time expressions ("last week") resolve correctly. A
// model call failure propagates; malformed JSON yields a fallback
// outcome, never an error.
func (p *Planner) Plan(ctx context.Context, query string) (PlanOutcome, error) {
	input := fmt.Sprintf("Today's date: %s\nUser query: %s",
		p.today().Format("2006-01-02"), query)

	raw, err := p.model.Complete(ctx, plannerSystemPrompt, input)
	if err != nil {
		return PlanOutcome{}, fmt.Errorf("planning query: %w", err)
	}

	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	var plan Plan
	if err := json.Unmarshal([]byte(text), &plan); err != nil || plan.ResponseType == "" {
		p.log.Warn().Str("response", raw).Msg("failed to parse search plan")
		return PlanOutcome{Raw: raw}, nil
	}
	if plan.Sort == "" {
		plan.Sort = "relevance"
	}
	return PlanOutcome{Parsed: true, Plan: plan}, nil
}
