package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/index"
)

// Indexer is the slice of the vector index the pipeline needs.
// Satisfied by *index.Store.
type Indexer interface {
	Upsert(ctx context.Context, documentID uuid.UUID, version int64, chunks []index.Chunk) error
	Delete(ctx context.Context, documentID uuid.UUID) error
}

// Service is the ingestion entry point used by the API layer. Job execution
// itself lives in the worker Pool; the Service only manages document and
// job records, plus vector removal on delete.
type Service struct {
	store   *Store
	indexer Indexer
	logger  *slog.Logger
}

// NewService creates an ingestion Service.
func NewService(store *Store, indexer Indexer, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if indexer == nil {
		return nil, fmt.Errorf("indexer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, indexer: indexer, logger: logger}, nil
}

// Submit registers content for asynchronous indexing and returns the
// governing job. See Store.Submit for the idempotency rules.
func (s *Service) Submit(ctx context.Context, scope string, documentID uuid.UUID, content string) (Job, error) {
	return s.store.Submit(ctx, scope, documentID, content)
}

// Status returns the document's ingestion status and error detail.
func (s *Service) Status(ctx context.Context, documentID uuid.UUID) (Document, error) {
	return s.store.GetDocument(ctx, documentID)
}

// List returns documents newest first. An empty scope means all scopes.
func (s *Service) List(ctx context.Context, scope string) ([]Document, error) {
	return s.store.ListDocuments(ctx, scope)
}

// Resubmit returns a failed document to the pending state.
func (s *Service) Resubmit(ctx context.Context, documentID uuid.UUID) (Job, error) {
	return s.store.Resubmit(ctx, documentID)
}

// Delete marks the document deleted and removes its vectors. Conversations
// referencing the document keep their recorded citations; future retrievals
// simply no longer see it.
func (s *Service) Delete(ctx context.Context, documentID uuid.UUID) error {
	if err := s.store.MarkDeleted(ctx, documentID); err != nil {
		return err
	}
	if err := s.indexer.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("removing vectors: %w", err)
	}
	return nil
}
