package embed

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"

	"github.com/parleyhq/parley/internal/log"
)

// mockEmbedder records batch sizes and returns deterministic vectors of the
// configured dimension.
type mockEmbedder struct {
	dim     int
	batches []int
	err     error
}

func (m *mockEmbedder) Name() string { return "mock-embedder" }

func (m *mockEmbedder) Register(_ api.Registry) {}

func (m *mockEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.batches = append(m.batches, len(req.Input))

	embeddings := make([]*ai.Embedding, len(req.Input))
	for i := range req.Input {
		vec := make([]float32, m.dim)
		for j := range vec {
			vec[j] = float32(i)
		}
		embeddings[i] = &ai.Embedding{Embedding: vec}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

// shortEmbedder returns one fewer embedding than requested.
type shortEmbedder struct{}

func (s *shortEmbedder) Name() string { return "short-embedder" }

func (s *shortEmbedder) Register(_ api.Registry) {}

func (s *shortEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	embeddings := make([]*ai.Embedding, 0, len(req.Input))
	for i := 0; i < len(req.Input)-1; i++ {
		embeddings = append(embeddings, &ai.Embedding{Embedding: make([]float32, 4)})
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

func TestClientEmbed(t *testing.T) {
	mock := &mockEmbedder{dim: 4}
	client, err := NewClient(mock, 4, 0, log.NewNop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	vecs, err := client.Embed(context.Background(), []string{"alpha", "beta", "gamma"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 4 {
			t.Errorf("vector %d has dimension %d, want 4", i, len(v))
		}
	}
}

func TestClientEmbed_EmptyInput(t *testing.T) {
	client, err := NewClient(&mockEmbedder{dim: 4}, 4, 0, log.NewNop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	vecs, err := client.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if vecs != nil {
		t.Errorf("expected nil vectors for empty input, got %v", vecs)
	}
}

func TestClientEmbed_SplitsBatches(t *testing.T) {
	mock := &mockEmbedder{dim: 4}
	client, err := NewClient(mock, 4, 2, log.NewNop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	texts := []string{"a", "b", "c", "d", "e"}
	vecs, err := client.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}

	wantBatches := []int{2, 2, 1}
	if len(mock.batches) != len(wantBatches) {
		t.Fatalf("expected %d provider calls, got %d", len(wantBatches), len(mock.batches))
	}
	for i, want := range wantBatches {
		if mock.batches[i] != want {
			t.Errorf("batch %d size = %d, want %d", i, mock.batches[i], want)
		}
	}
}

func TestClientEmbed_ProviderError(t *testing.T) {
	mock := &mockEmbedder{dim: 4, err: fmt.Errorf("connection refused")}
	client, err := NewClient(mock, 4, 0, log.NewNop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Embed(context.Background(), []string{"text"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestClientEmbed_WrongDimension(t *testing.T) {
	mock := &mockEmbedder{dim: 3}
	client, err := NewClient(mock, 4, 0, log.NewNop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Embed(context.Background(), []string{"text"})
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestClientEmbed_CountMismatch(t *testing.T) {
	client, err := NewClient(&shortEmbedder{}, 4, 0, log.NewNop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Embed(context.Background(), []string{"one", "two"})
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestClientEmbedOne(t *testing.T) {
	client, err := NewClient(&mockEmbedder{dim: 4}, 4, 0, log.NewNop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	vec, err := client.EmbedOne(context.Background(), "query")
	if err != nil {
		t.Fatalf("EmbedOne failed: %v", err)
	}
	if len(vec) != 4 {
		t.Errorf("expected dimension 4, got %d", len(vec))
	}
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(nil, 4, 0, log.NewNop()); err == nil {
		t.Error("expected error for nil embedder")
	}
	if _, err := NewClient(&mockEmbedder{dim: 4}, 0, 0, log.NewNop()); err == nil {
		t.Error("expected error for zero dimension")
	}
}
