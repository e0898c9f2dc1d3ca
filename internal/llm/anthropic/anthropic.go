// Package anthropic adapts the official Anthropic client to the
// llm.Model interface. The Messages API serves Complete; Anthropic has
// no embeddings API, so Embed always fails and callers compose this
// adapter with an embedding-capable provider via llm.Composite.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/adolab/worklens/internal/llm"
)

// Options configure the Anthropic adapter.
type Options struct {
	Model     anthropic.Model
	MaxTokens int64
	APIKey    string
}

// Model wraps the Anthropic Messages API behind llm.Model.
type Model struct {
	client *anthropic.Client
	opts   Options
}

var _ llm.Model = (*Model)(nil)

// NewModel creates an Anthropic model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 2048,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// Complete sends a system+user message and returns the text response.
func (m *Model) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	resp, err := m.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     m.opts.Model,
		MaxTokens: m.opts.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userText)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("anthropic messages: empty response")
	}
	return b.String(), nil
}

// Embed is unsupported.
func (m *Model) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, llm.ErrNoEmbeddings
}
