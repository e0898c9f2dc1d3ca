// Package llm defines the language model capability consumed by the
// summarization pipeline and the search layer: plain text completion
// and text embedding. Provider adapters live in subpackages.
package llm

import (
	"context"
	"errors"
)

// ErrNoEmbeddings is returned by completion-only providers.
var ErrNoEmbeddings = errors.New("llm: provider does not support embeddings")

// Model is the language model capability.
type Model interface {
	// Complete sends a system prompt plus user text and returns the
	// model's text response.
	Complete(ctx context.Context, systemPrompt, userText string) (string, error)
	// Embed returns an embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Composite routes completions and embeddings to different providers.
// Used when the chat provider (e.g. Anthropic) has no embeddings API.
type Composite struct {
	Chat     Model
	Embedder Model
}

var _ Model = (*Composite)(nil)

// Complete delegates to the chat provider.
func (c *Composite) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	return c.Chat.Complete(ctx, systemPrompt, userText)
}

// Embed delegates to the embedding provider.
func (c *Composite) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.Embedder.Embed(ctx, text)
}
