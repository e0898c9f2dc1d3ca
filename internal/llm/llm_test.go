package llm_test

import (
	"context"
	"testing"

	"github.com/adolab/worklens/internal/llm"
)

type stubModel struct {
	name       string
	completes  int
	embeds     int
	embedError error
}

func (s *stubModel) Complete(_ context.Context, _, _ string) (string, error) {
	s.completes++
	return s.name, nil
}

func (s *stubModel) Embed(_ context.Context, _ string) ([]float32, error) {
	s.embeds++
	if s.embedError != nil {
		return nil, s.embedError
	}
	return []float32{1}, nil
}

func TestComposite_RoutesByCapability(t *testing.T) {
	chat := &stubModel{name: "chat"}
	embedder := &stubModel{name: "embedder", embedError: nil}
	c := &llm.Composite{Chat: chat, Embedder: embedder}

	got, err := c.Complete(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if got != "chat" {
		t.Errorf("Complete() = %q, want routed to the chat provider", got)
	}

	if _, err := c.Embed(context.Background(), "text"); err != nil {
		t.Fatalf("Embed() error: %v", err)
	}

	if chat.completes != 1 || chat.embeds != 0 {
		t.Errorf("chat provider calls = %d/%d, want 1 completion only", chat.completes, chat.embeds)
	}
	if embedder.embeds != 1 || embedder.completes != 0 {
		t.Errorf("embedder calls = %d/%d, want 1 embedding only", embedder.completes, embedder.embeds)
	}
}

func TestComposite_PropagatesEmbedError(t *testing.T) {
	c := &llm.Composite{
		Chat:     &stubModel{name: "chat"},
		Embedder: &stubModel{name: "embedder", embedError: llm.ErrNoEmbeddings},
	}

	if _, err := c.Embed(context.Background(), "text"); err != llm.ErrNoEmbeddings {
		t.Errorf("Embed() error = %v, want ErrNoEmbeddings", err)
	}
}
