// Package embed wraps the external embedding capability behind a batching
// client with a fixed output dimensionality.
//
// The embedding model is reached through Genkit's ai.Embedder; the client
// never talks to a provider SDK directly. Callers distinguish two failure
// modes with errors.Is:
//
//   - ErrUnavailable: transport or auth failure. Transient; retry with
//     backoff (the ingestion worker does).
//   - ErrMalformed: the provider returned vectors of the wrong shape.
//     Fatal configuration error; never retried.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"google.golang.org/genai"
)

var (
	// ErrUnavailable indicates a transient failure reaching the embedding
	// capability.
	ErrUnavailable = errors.New("embedding capability unavailable")

	// ErrMalformed indicates the returned vectors do not match the
	// configured dimensionality. Configuration error; do not retry.
	ErrMalformed = errors.New("malformed embedding response")
)

// DefaultMaxBatchSize bounds how many texts are sent per provider call.
const DefaultMaxBatchSize = 64

// Client batches embedding requests against an ai.Embedder.
// Client is safe for concurrent use.
type Client struct {
	embedder  ai.Embedder
	dimension int32
	maxBatch  int
	logger    *slog.Logger
}

// NewClient creates a Client. dimension is the deployment's fixed vector
// size (must match the vector column width); maxBatch <= 0 selects
// DefaultMaxBatchSize.
func NewClient(embedder ai.Embedder, dimension int32, maxBatch int, logger *slog.Logger) (*Client, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		embedder:  embedder,
		dimension: dimension,
		maxBatch:  maxBatch,
		logger:    logger,
	}, nil
}

// Dimension returns the fixed vector size every returned embedding has.
func (c *Client) Dimension() int32 {
	return c.dimension
}

// Embed converts texts to vectors, preserving order. Inputs longer than the
// batch limit are split across multiple provider calls.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.maxBatch {
		end := min(start+c.maxBatch, len(texts))
		batch, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// EmbedOne embeds a single text, typically a retrieval query.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: expected 1 vector, got %d", ErrMalformed, len(vecs))
	}
	return vecs[0], nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	input := make([]*ai.Document, len(texts))
	for i, t := range texts {
		input[i] = ai.DocumentFromText(t, nil)
	}

	dim := c.dimension
	resp, err := c.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   input,
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d texts, got %d embeddings",
			ErrMalformed, len(texts), len(resp.Embeddings))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if int32(len(e.Embedding)) != c.dimension {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d",
				ErrMalformed, i, len(e.Embedding), c.dimension)
		}
		vectors[i] = e.Embedding
	}

	c.logger.Debug("embedded batch", "count", len(texts))
	return vectors, nil
}
