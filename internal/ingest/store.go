package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// jobCols is the standard SELECT column list for scanJob.
const jobCols = `id, document_id, document_version, status, attempts,
	COALESCE(error_detail, ''), lease_expires_at, created_at, updated_at`

// documentCols is the standard SELECT column list for scanDocument.
const documentCols = `id, scope, content, content_hash, status, version,
	COALESCE(error_detail, ''), created_at, updated_at`

// Store persists documents and ingestion jobs.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates an ingestion Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// HashContent returns the content hash used for submit idempotency.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Submit registers content for indexing and returns the governing job.
//
// Submitting the same document id with unchanged content returns the
// existing job without requeueing anything, including when that job already
// failed (failed jobs restart only via Resubmit). Changed content bumps the
// document version, marks any live job superseded and enqueues a fresh one.
func (s *Store) Submit(ctx context.Context, scope string, documentID uuid.UUID, content string) (Job, error) {
	hash := HashContent(content)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	if err := lockDocument(ctx, tx, documentID); err != nil {
		return Job{}, err
	}

	var (
		storedHash   string
		storedStatus DocumentStatus
		version      int64
	)
	err = tx.QueryRow(ctx,
		`SELECT content_hash, status, version FROM documents WHERE id = $1`,
		documentID).Scan(&storedHash, &storedStatus, &version)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return s.submitNew(ctx, tx, scope, documentID, content, hash)
	case err != nil:
		return Job{}, fmt.Errorf("loading document: %w", err)
	}

	if storedHash == hash && storedStatus != DocumentDeleted {
		job, err := latestJob(ctx, tx, documentID)
		if err != nil {
			return Job{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return Job{}, fmt.Errorf("committing submit: %w", err)
		}
		s.logger.Debug("submit matched existing content",
			"document_id", documentID, "job_id", job.ID, "job_status", job.Status)
		return job, nil
	}

	return s.submitNewVersion(ctx, tx, scope, documentID, content, hash, version+1)
}

func (s *Store) submitNew(ctx context.Context, tx pgx.Tx, scope string, documentID uuid.UUID, content, hash string) (Job, error) {
	if _, err := tx.Exec(ctx,
		`INSERT INTO documents (id, scope, content, content_hash, status, version)
		VALUES ($1, $2, $3, $4, 'pending', 1)`,
		documentID, scope, content, hash); err != nil {
		return Job{}, fmt.Errorf("inserting document: %w", err)
	}

	job, err := insertJob(ctx, tx, documentID, 1)
	if err != nil {
		return Job{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("committing submit: %w", err)
	}

	s.logger.Info("document submitted",
		"document_id", documentID, "scope", scope, "job_id", job.ID)
	return job, nil
}

func (s *Store) submitNewVersion(ctx context.Context, tx pgx.Tx, scope string, documentID uuid.UUID, content, hash string, version int64) (Job, error) {
	if _, err := tx.Exec(ctx,
		`UPDATE documents
		SET scope = $2, content = $3, content_hash = $4,
			status = 'pending', version = $5, error_detail = NULL, updated_at = now()
		WHERE id = $1`,
		documentID, scope, content, hash, version); err != nil {
		return Job{}, fmt.Errorf("updating document: %w", err)
	}

	// A job still running against the old version keeps running, but its
	// upsert is version-gated and its completion is version-guarded, so it
	// can no longer affect the visible state.
	if _, err := tx.Exec(ctx,
		`UPDATE ingestion_jobs
		SET status = 'failed', error_detail = 'superseded by newer submission',
			lease_expires_at = NULL, updated_at = now()
		WHERE document_id = $1 AND status IN ('pending', 'indexing')`,
		documentID); err != nil {
		return Job{}, fmt.Errorf("superseding live jobs: %w", err)
	}

	job, err := insertJob(ctx, tx, documentID, version)
	if err != nil {
		return Job{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("committing submit: %w", err)
	}

	s.logger.Info("document resubmitted with new content",
		"document_id", documentID, "version", version, "job_id", job.ID)
	return job, nil
}

// Resubmit returns a failed document to pending so workers pick it up again.
// This is the only path out of the failed state.
func (s *Store) Resubmit(ctx context.Context, documentID uuid.UUID) (Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	if err := lockDocument(ctx, tx, documentID); err != nil {
		return Job{}, err
	}

	var (
		status  DocumentStatus
		version int64
	)
	err = tx.QueryRow(ctx,
		`SELECT status, version FROM documents WHERE id = $1`, documentID).Scan(&status, &version)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return Job{}, ErrDocumentNotFound
	case err != nil:
		return Job{}, fmt.Errorf("loading document: %w", err)
	}
	if status != DocumentFailed {
		return Job{}, fmt.Errorf("%w: status is %s", ErrNotFailed, status)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE documents SET status = 'pending', error_detail = NULL, updated_at = now()
		WHERE id = $1`, documentID); err != nil {
		return Job{}, fmt.Errorf("updating document: %w", err)
	}

	var job Job
	row := tx.QueryRow(ctx,
		`UPDATE ingestion_jobs
		SET status = 'pending', error_detail = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE id = (
			SELECT id FROM ingestion_jobs
			WHERE document_id = $1 AND status = 'failed' AND document_version = $2
			ORDER BY created_at DESC
			LIMIT 1
		)
		RETURNING `+jobCols, documentID, version)
	job, err = scanJob(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// No failed job at the current version; enqueue a fresh one.
		job, err = insertJob(ctx, tx, documentID, version)
		if err != nil {
			return Job{}, err
		}
	case err != nil:
		return Job{}, fmt.Errorf("reviving job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("committing resubmit: %w", err)
	}

	s.logger.Info("document resubmitted", "document_id", documentID, "job_id", job.ID)
	return job, nil
}

// GetDocument returns the document, including its status and error detail.
func (s *Store) GetDocument(ctx context.Context, documentID uuid.UUID) (Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentCols+` FROM documents WHERE id = $1`, documentID)
	doc, err := scanDocument(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return Document{}, ErrDocumentNotFound
	case err != nil:
		return Document{}, fmt.Errorf("loading document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns documents newest first, optionally filtered to one
// scope. An empty scope returns every document, deleted ones included; their
// status says so.
func (s *Store) ListDocuments(ctx context.Context, scope string) ([]Document, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if scope != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+documentCols+` FROM documents
			WHERE scope = $1
			ORDER BY created_at DESC`, scope)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+documentCols+` FROM documents
			ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// MarkDeleted flags the document as deleted and fails any live job for it.
// Chunk removal is the caller's concern (Service pairs this with an index
// delete).
func (s *Store) MarkDeleted(ctx context.Context, documentID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	if err := lockDocument(ctx, tx, documentID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE documents SET status = 'deleted', updated_at = now() WHERE id = $1`,
		documentID)
	if err != nil {
		return fmt.Errorf("marking document deleted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}

	if _, err := tx.Exec(ctx,
		`UPDATE ingestion_jobs
		SET status = 'failed', error_detail = 'document deleted',
			lease_expires_at = NULL, updated_at = now()
		WHERE document_id = $1 AND status IN ('pending', 'indexing')`,
		documentID); err != nil {
		return fmt.Errorf("failing live jobs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	s.logger.Info("document deleted", "document_id", documentID)
	return nil
}

// Claim atomically takes the oldest claimable job: pending, or indexing with
// an expired lease (the previous claimer is presumed dead). Returns false
// when nothing is claimable. The single UPDATE plus SKIP LOCKED guarantees
// at most one live indexer per job.
func (s *Store) Claim(ctx context.Context, lease time.Duration) (Job, bool, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE ingestion_jobs
		SET status = 'indexing', attempts = attempts + 1,
			lease_expires_at = now() + make_interval(secs => $1), updated_at = now()
		WHERE id = (
			SELECT id FROM ingestion_jobs
			WHERE status = 'pending'
				OR (status = 'indexing' AND lease_expires_at < now())
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobCols, lease.Seconds())

	job, err := scanJob(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return Job{}, false, nil
	case err != nil:
		return Job{}, false, fmt.Errorf("claiming job: %w", err)
	}
	return job, true, nil
}

// MarkDocumentIndexing flips a pending document to indexing. Zero rows
// affected is fine: a reclaimed job finds the document already past pending.
func (s *Store) MarkDocumentIndexing(ctx context.Context, documentID uuid.UUID, version int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = 'indexing', updated_at = now()
		WHERE id = $1 AND version = $2 AND status = 'pending'`,
		documentID, version)
	if err != nil {
		return fmt.Errorf("marking document indexing: %w", err)
	}
	return nil
}

// CompleteJob records a successful ingestion. The document flip to ready is
// guarded by version so a job finishing late for a superseded version
// cannot overwrite the newer submission's state.
func (s *Store) CompleteJob(ctx context.Context, job Job) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	if _, err := tx.Exec(ctx,
		`UPDATE ingestion_jobs
		SET status = 'ready', error_detail = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE id = $1`, job.ID); err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE documents SET status = 'ready', error_detail = NULL, updated_at = now()
		WHERE id = $1 AND version = $2`,
		job.DocumentID, job.DocumentVersion); err != nil {
		return fmt.Errorf("marking document ready: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing completion: %w", err)
	}
	return nil
}

// FailJob records a failed ingestion with its error detail. The document is
// marked failed only at the job's version; prior ready vectors of an older
// version stay searchable.
func (s *Store) FailJob(ctx context.Context, job Job, detail string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	if _, err := tx.Exec(ctx,
		`UPDATE ingestion_jobs
		SET status = 'failed', error_detail = $2, lease_expires_at = NULL, updated_at = now()
		WHERE id = $1`, job.ID, detail); err != nil {
		return fmt.Errorf("failing job: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE documents SET status = 'failed', error_detail = $3, updated_at = now()
		WHERE id = $1 AND version = $2 AND status IN ('pending', 'indexing')`,
		job.DocumentID, job.DocumentVersion, detail); err != nil {
		return fmt.Errorf("marking document failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing failure: %w", err)
	}
	return nil
}

func insertJob(ctx context.Context, q querier, documentID uuid.UUID, version int64) (Job, error) {
	row := q.QueryRow(ctx,
		`INSERT INTO ingestion_jobs (document_id, document_version, status)
		VALUES ($1, $2, 'pending')
		RETURNING `+jobCols, documentID, version)
	job, err := scanJob(row)
	if err != nil {
		return Job{}, fmt.Errorf("inserting job: %w", err)
	}
	return job, nil
}

func latestJob(ctx context.Context, q querier, documentID uuid.UUID) (Job, error) {
	row := q.QueryRow(ctx,
		`SELECT `+jobCols+` FROM ingestion_jobs
		WHERE document_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, documentID)
	job, err := scanJob(row)
	if err != nil {
		return Job{}, fmt.Errorf("loading latest job: %w", err)
	}
	return job, nil
}

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.DocumentID, &j.DocumentVersion, &j.Status, &j.Attempts,
		&j.ErrorDetail, &j.LeaseExpiresAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return Job{}, err
	}
	return j, nil
}

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.Scope, &d.Content, &d.ContentHash, &d.Status, &d.Version,
		&d.ErrorDetail, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return d, nil
}

// lockDocument serializes document writers, matching the lock the index
// store takes for the same document id.
func lockDocument(ctx context.Context, tx pgx.Tx, documentID uuid.UUID) error {
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
