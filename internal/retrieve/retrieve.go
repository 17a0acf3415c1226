// Package retrieve turns a user query into ranked, deduplicated grounding
// passages with provenance.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/agents"
	"github.com/parleyhq/parley/internal/index"
)

// Citation identifies the exact chunk a passage came from, pinned to the
// document version that produced it.
type Citation struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Version    int64     `json:"version"`
	Ordinal    int       `json:"ordinal"`
}

// Passage is one grounding candidate, ordered by similarity descending.
type Passage struct {
	Text       string
	Tokens     int
	Similarity float64
	Citation   Citation
}

// searcher is the index slice the retriever needs. Satisfied by *index.Store.
type searcher interface {
	Search(ctx context.Context, scopes []string, vec []float32, k int) ([]index.Hit, error)
}

// queryEmbedder is the embedding slice the retriever needs.
// Satisfied by *embed.Client.
type queryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// overfetchFactor widens the index query so deduplication still leaves
// enough passages to fill topK.
const overfetchFactor = 2

// Retriever embeds queries and searches the index within an agent's scopes.
type Retriever struct {
	embedder queryEmbedder
	index    searcher
	logger   *slog.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(embedder queryEmbedder, idx searcher, logger *slog.Logger) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if idx == nil {
		return nil, fmt.Errorf("index is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, index: idx, logger: logger}, nil
}

// Retrieve returns up to topK passages for the query within agent's scopes.
//
// Overlapping chunks from the same document (ordinals one apart) mostly
// repeat each other, so only the most similar of such a group is kept.
// An agent with no scopes, or a scope with no ready documents, yields an
// empty result and no error; the caller proceeds ungrounded.
func (r *Retriever) Retrieve(ctx context.Context, agent agents.Agent, query string, topK int) ([]Passage, error) {
	if len(agent.Scopes) == 0 || topK <= 0 {
		return nil, nil
	}

	vec, err := r.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := r.index.Search(ctx, agent.Scopes, vec, topK*overfetchFactor)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	passages := dedupe(hits)
	if len(passages) > topK {
		passages = passages[:topK]
	}

	r.logger.Debug("retrieved passages",
		"agent", agent.Name, "hits", len(hits), "passages", len(passages))
	return passages, nil
}

// dedupe collapses near-duplicates: hits from the same document whose
// ordinals differ by at most one. Hits arrive ordered by similarity, so the
// first of a group is the one kept.
func dedupe(hits []index.Hit) []Passage {
	var passages []Passage
	for _, h := range hits {
		if coveredBy(passages, h) {
			continue
		}
		passages = append(passages, Passage{
			Text:       h.Text,
			Tokens:     h.Tokens,
			Similarity: h.Similarity,
			Citation: Citation{
				ChunkID:    h.ChunkID,
				DocumentID: h.DocumentID,
				Version:    h.Version,
				Ordinal:    h.Ordinal,
			},
		})
	}
	return passages
}

func coveredBy(passages []Passage, h index.Hit) bool {
	for _, p := range passages {
		if p.Citation.DocumentID != h.DocumentID {
			continue
		}
		diff := p.Citation.Ordinal - h.Ordinal
		if diff >= -1 && diff <= 1 {
			return true
		}
	}
	return false
}
