// Package openai adapts the official OpenAI client to the llm.Model
// interface: chat completions for Complete, the embeddings API for
// Embed.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/adolab/worklens/internal/llm"
)

// Options configure the OpenAI adapter. A low default temperature keeps
// the JSON-producing prompts (summaries, search plans) deterministic.
type Options struct {
	Model          string
	EmbeddingModel string
	Temperature    float64
	APIKey         string
}

// Model wraps the OpenAI API behind llm.Model.
type Model struct {
	client *openai.Client
	opts   Options
}

var _ llm.Model = (*Model)(nil)

// NewModel creates an OpenAI model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates an OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:          openai.ChatModelGPT4oMini,
		EmbeddingModel: string(openai.EmbeddingModelTextEmbedding3Small),
		Temperature:    0.2,
	}
}

// Complete sends a system+user chat completion and returns the text.
func (m *Model) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	resp, err := m.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: m.opts.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userText),
		},
		Temperature: openai.Float(m.opts.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat completion: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns an embedding vector for text.
func (m *Model) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := m.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: m.opts.EmbeddingModel,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// EmbeddingModel reports the embedding model identifier, recorded on
// each generated embedding for later reindexing decisions.
func (m *Model) EmbeddingModel() string { return m.opts.EmbeddingModel }
