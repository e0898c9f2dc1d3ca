// Package summarize implements the item summarization pipeline: it
// assembles LLM context from an item and its comments, requests a
// structured English summary, embeds the summary, and persists the
// resulting embedding record.
//
// Embedding the summary rather than the raw item bounds token cost and
// normalizes multilingual content to English first, so queries in any
// language compare against a consistent representation.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/adolab/worklens/internal/llm"
	"github.com/adolab/worklens/internal/store"
)

const summarizeSystemPrompt = `You summarize Azure DevOps work items in English. Given the title, description, and comments of a work item, produce a JSON response with exactly this structure:
{
  "summary": "2-3 sentence English summary covering the full context including key discussions from comments",
  "keywords": ["keyword1", "keyword2", "keyword3"],
  "detectedLanguage": "ISO 639-1 code of the primary language used in the description and comments (e.g. 'en', 'el', 'de')",
  "translationEn": "If the content is NOT in English, provide a thorough English translation of the description and key comment content. Preserve all meaningful information faithfully - this is a translation, not a summary. If the content is already in English, set this to null."
}
Include context from ALL comments - they often contain critical information about decisions, blockers, and progress. Extract 5-10 meaningful keywords that capture the essence of the work item. For detectedLanguage, detect the primary language of the description and comment text (ignore metadata fields like State, Type which are always in English). For translationEn, only produce a translation when the content language is NOT English. Return ONLY valid JSON, no markdown formatting.`

// summaryPayload is the JSON shape the summarize prompt requests.
type summaryPayload struct {
	Summary          string   `json:"summary"`
	Keywords         []string `json:"keywords"`
	DetectedLanguage string   `json:"detectedLanguage"`
	TranslationEn    string   `json:"translationEn"`
}

// parseOutcome is the tagged result of lenient summary parsing: either
// a parsed payload or a fallback carrying the raw model output.
type parseOutcome struct {
	Parsed  bool
	Payload summaryPayload
	Raw     string
}

// parseSummary never fails: any malformed model output degrades to a
// fallback whose summary is the raw text.
func parseSummary(raw string) parseOutcome {
	text := strings.TrimSpace(raw)
	// Models occasionally wrap JSON in a markdown fence despite the
	// prompt; peel it before parsing.
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	var payload summaryPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil || payload.Summary == "" {
		return parseOutcome{Raw: raw}
	}
	return parseOutcome{Parsed: true, Payload: payload}
}

// Pipeline generates and persists embedding records.
type Pipeline struct {
	model        llm.Model
	store        *store.Store
	modelVersion string
	log          zerolog.Logger
	now          func() time.Time
}

// New creates a summarization pipeline. modelVersion tags every
// generated record so a model upgrade can be detected and reindexed.
func New(model llm.Model, st *store.Store, modelVersion string, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		model:        model,
		store:        st,
		modelVersion: modelVersion,
		log:          log,
		now:          time.Now,
	}
}

// Generate summarizes one item with its comments, embeds the summary,
// and upserts the embedding record. Parse failures of the model's JSON
// degrade to the raw response; completion, embedding, and persistence
// failures propagate for the caller to skip the item.
func (p *Pipeline) Generate(ctx context.Context, item *store.Item, comments []store.Comment) error {
	input := BuildContext(item, comments)

	raw, err := p.model.Complete(ctx, summarizeSystemPrompt, input)
	if err != nil {
		return fmt.Errorf("summarize item %d: %w", item.ID, err)
	}

	outcome := parseSummary(raw)
	summary := outcome.Payload.Summary
	keywords := outcome.Payload.Keywords
	if !outcome.Parsed {
		p.log.Warn().Int("item", item.ID).Msg("summary response was not valid JSON, storing raw text")
		summary = outcome.Raw
		keywords = nil
	}

	vec, err := p.model.Embed(ctx, summary)
	if err != nil {
		return fmt.Errorf("embed summary for item %d: %w", item.ID, err)
	}

	record := &store.Embedding{
		ItemID:           item.ID,
		ScopeID:          item.ScopeID,
		Summary:          summary,
		Keywords:         keywords,
		Vector:           store.EncodeVector(vec),
		ModelVersion:     p.modelVersion,
		DetectedLanguage: outcome.Payload.DetectedLanguage,
		TranslationEn:    outcome.Payload.TranslationEn,
		GeneratedAt:      p.now(),
	}
	if err := p.store.UpsertEmbedding(record); err != nil {
		return fmt.Errorf("persist embedding for item %d: %w", item.ID, err)
	}

	p.log.Debug().
		Int("item", item.ID).
		Str("language", record.DetectedLanguage).
		Int("summary_chars", len(summary)).
		Int("keywords", len(keywords)).
		Msg("generated embedding")
	return nil
}
