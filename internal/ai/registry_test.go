package ai

import (
	"context"
	"testing"
)

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	reg.Register("Ollama", func(ctx context.Context, model string) (Provider, error) {
		return NewOllamaProvider("", model), nil
	})

	// names are matched case-insensitively, ignoring surrounding whitespace
	p, err := reg.Get(context.Background(), " OLLAMA ", "llama3.2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	op, ok := p.(*OllamaProvider)
	if !ok || op.Model != "llama3.2" {
		t.Fatalf("factory received the wrong model: %+v", p)
	}

	if _, err := reg.Get(context.Background(), "nope", ""); err == nil {
		t.Fatalf("expected an error for an unregistered provider")
	}
}
