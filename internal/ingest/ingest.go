// Package ingest drives documents through the indexing pipeline.
//
// A submitted document gets an ingestion job. Jobs move strictly
// pending -> indexing -> ready or failed; a failed job returns to pending
// only through an explicit Resubmit, never automatically. Workers claim the
// pending -> indexing transition with a time-bounded lease, so a crashed
// worker's claim expires and another worker picks the job up. All progress
// lives in the documents and ingestion_jobs tables; nothing is handed off
// in memory, which is what makes the crash recovery work.
package ingest

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDocumentNotFound indicates the document id is unknown.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrNotFailed indicates a resubmit was attempted on a document that is
	// not in the failed state.
	ErrNotFailed = errors.New("document is not in a failed state")
)

// DocumentStatus is the ingestion state of a document.
type DocumentStatus string

const (
	DocumentPending  DocumentStatus = "pending"
	DocumentIndexing DocumentStatus = "indexing"
	DocumentReady    DocumentStatus = "ready"
	DocumentFailed   DocumentStatus = "failed"
	DocumentDeleted  DocumentStatus = "deleted"
)

// JobStatus is the state of an ingestion job.
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobIndexing JobStatus = "indexing"
	JobReady    JobStatus = "ready"
	JobFailed   JobStatus = "failed"
)

// Document is a unit of ingestable content. Version increments on every
// content change; chunks always belong to exactly one version.
type Document struct {
	ID          uuid.UUID
	Scope       string
	Content     string
	ContentHash string
	Status      DocumentStatus
	Version     int64
	ErrorDetail string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Job is one ingestion attempt for a document version.
type Job struct {
	ID              uuid.UUID
	DocumentID      uuid.UUID
	DocumentVersion int64
	Status          JobStatus
	Attempts        int
	ErrorDetail     string
	LeaseExpiresAt  *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
