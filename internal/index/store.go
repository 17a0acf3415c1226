// Package index is the pgvector-backed chunk index.
//
// Similarity is cosine: pgvector's `<=>` operator returns cosine distance and
// similarity is reported as 1 - distance. The metric is fixed per deployment;
// changing it invalidates ranking expectations in stored conversations.
//
// Writers for the same document are mutually exclusive through a
// per-document advisory lock; searches never take locks and read only
// committed chunk sets, so a half-finished replace is invisible to them.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Chunk is one embedded text window to be stored for a document version.
type Chunk struct {
	Ordinal   int
	Text      string
	Tokens    int
	Embedding []float32
}

// Hit is a single search result. Similarity is 1 - cosine distance, in
// [-1, 1] with 1 meaning identical direction.
type Hit struct {
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	Version    int64
	Ordinal    int
	Text       string
	Tokens     int
	Similarity float64
}

// Store persists chunk vectors in PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates an index Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Upsert atomically replaces all chunks for documentID with the given set at
// the given version. When the stored version is already equal or newer the
// call is a no-op, which makes duplicate or late ingestion jobs harmless.
func (s *Store) Upsert(ctx context.Context, documentID uuid.UUID, version int64, chunks []Chunk) error {
	if version <= 0 {
		return fmt.Errorf("version must be positive, got %d", version)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	if err := s.lockDocument(ctx, tx, documentID); err != nil {
		return err
	}

	var stored int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(document_version), 0) FROM document_chunks WHERE document_id = $1`,
		documentID).Scan(&stored)
	if err != nil {
		return fmt.Errorf("reading stored version: %w", err)
	}
	if stored >= version {
		s.logger.Debug("upsert skipped, stored version is current",
			"document_id", documentID, "stored", stored, "incoming", version)
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("purging old chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`INSERT INTO document_chunks (document_id, document_version, ordinal, content, tokens, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			documentID, version, c.Ordinal, c.Text, c.Tokens, pgvector.NewVector(c.Embedding))
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting chunks: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing upsert: %w", err)
	}

	s.logger.Info("chunks replaced",
		"document_id", documentID, "version", version, "count", len(chunks))
	return nil
}

// Delete removes all chunks for documentID. Deleting a document with no
// chunks is a no-op.
func (s *Store) Delete(ctx context.Context, documentID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	if err := s.lockDocument(ctx, tx, documentID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	s.logger.Info("chunks deleted", "document_id", documentID, "count", tag.RowsAffected())
	return nil
}

// Search returns up to k nearest chunks within the given scopes.
//
// Only chunks of ready documents at their current version are candidates, so
// a reader never observes a mix of versions or a half-ingested document.
// Ties in distance break by lower ordinal, then lower document id, keeping
// results stable across index rebuilds.
func (s *Store) Search(ctx context.Context, scopes []string, vec []float32, k int) ([]Hit, error) {
	if len(scopes) == 0 || k <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.document_id, c.document_version, c.ordinal, c.content, c.tokens,
			1 - (c.embedding <=> $1) AS similarity
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.scope = ANY($2)
			AND d.status = 'ready'
			AND c.document_version = d.version
		ORDER BY c.embedding <=> $1, c.ordinal, c.document_id
		LIMIT $3`,
		pgvector.NewVector(vec), scopes, k)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.Version, &h.Ordinal,
			&h.Text, &h.Tokens, &h.Similarity); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating hits: %w", err)
	}
	return hits, nil
}

// lockDocument serializes writers for a single document.
// pg_advisory_xact_lock releases automatically at commit/rollback.
func (s *Store) lockDocument(ctx context.Context, tx pgx.Tx, documentID uuid.UUID) error {
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, documentID.String()); err != nil {
		return fmt.Errorf("acquiring document lock: %w", err)
	}
	return nil
}

func (s *Store) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.logger.Debug("transaction rollback", "error", err)
	}
}
