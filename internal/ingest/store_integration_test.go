package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/testutil"
)

func TestStore_SubmitIdempotent_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pool, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store, err := NewStore(pool, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	docID := uuid.New()
	first, err := store.Submit(ctx, "kb", docID, "same content")
	if err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	second, err := store.Submit(ctx, "kb", docID, "same content")
	if err != nil {
		t.Fatalf("second Submit failed: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("expected the same job for unchanged content, got %s and %s", first.ID, second.ID)
	}

	var jobCount int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ingestion_jobs WHERE document_id = $1`, docID).Scan(&jobCount); err != nil {
		t.Fatalf("counting jobs: %v", err)
	}
	if jobCount != 1 {
		t.Errorf("expected 1 job row, got %d", jobCount)
	}
}

func TestStore_ListDocuments_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pool, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store, err := NewStore(pool, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	kbID := uuid.New()
	faqID := uuid.New()
	if _, err := store.Submit(ctx, "kb", kbID, "knowledge base content"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := store.Submit(ctx, "faq", faqID, "faq content"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	all, err := store.ListDocuments(ctx, "")
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(all))
	}

	faqOnly, err := store.ListDocuments(ctx, "faq")
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(faqOnly) != 1 || faqOnly[0].ID != faqID {
		t.Errorf("scope filter returned %+v, want only %s", faqOnly, faqID)
	}

	// Deleted documents stay listed; their status says so.
	if err := store.MarkDeleted(ctx, kbID); err != nil {
		t.Fatalf("MarkDeleted failed: %v", err)
	}
	all, err = store.ListDocuments(ctx, "")
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected deleted document still listed, got %d documents", len(all))
	}
	for _, d := range all {
		if d.ID == kbID && d.Status != DocumentDeleted {
			t.Errorf("deleted document has status %s", d.Status)
		}
	}
}

func TestStore_SubmitChangedContent_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pool, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store, err := NewStore(pool, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	docID := uuid.New()
	first, err := store.Submit(ctx, "kb", docID, "version one")
	if err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	second, err := store.Submit(ctx, "kb", docID, "version two")
	if err != nil {
		t.Fatalf("second Submit failed: %v", err)
	}

	if second.DocumentVersion != 2 {
		t.Errorf("expected new job at version 2, got %d", second.DocumentVersion)
	}

	doc, err := store.GetDocument(ctx, docID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if doc.Version != 2 || doc.Status != DocumentPending {
		t.Errorf("document = version %d status %s, want version 2 pending", doc.Version, doc.Status)
	}

	var oldStatus JobStatus
	if err := pool.QueryRow(ctx,
		`SELECT status FROM ingestion_jobs WHERE id = $1`, first.ID).Scan(&oldStatus); err != nil {
		t.Fatalf("loading old job: %v", err)
	}
	if oldStatus != JobFailed {
		t.Errorf("old job status = %s, want failed (superseded)", oldStatus)
	}
}

func TestStore_ClaimLease_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pool, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store, err := NewStore(pool, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	docID := uuid.New()
	submitted, err := store.Submit(ctx, "kb", docID, "claimable content")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	claimed, ok, err := store.Claim(ctx, time.Minute)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if !ok || claimed.ID != submitted.ID {
		t.Fatalf("expected to claim job %s, got ok=%v id=%s", submitted.ID, ok, claimed.ID)
	}
	if claimed.Status != JobIndexing || claimed.Attempts != 1 {
		t.Errorf("claimed job = status %s attempts %d, want indexing/1", claimed.Status, claimed.Attempts)
	}

	// Lease held: nothing else claimable.
	if _, ok, err := store.Claim(ctx, time.Minute); err != nil || ok {
		t.Fatalf("expected no claimable job while lease held, ok=%v err=%v", ok, err)
	}

	// Expire the lease; the job becomes reclaimable.
	if _, err := pool.Exec(ctx,
		`UPDATE ingestion_jobs SET lease_expires_at = now() - interval '1 minute' WHERE id = $1`,
		claimed.ID); err != nil {
		t.Fatalf("expiring lease: %v", err)
	}
	reclaimed, ok, err := store.Claim(ctx, time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected to reclaim expired job, ok=%v err=%v", ok, err)
	}
	if reclaimed.ID != claimed.ID || reclaimed.Attempts != 2 {
		t.Errorf("reclaimed = id %s attempts %d, want id %s attempts 2",
			reclaimed.ID, reclaimed.Attempts, claimed.ID)
	}
}

func TestStore_FailAndResubmit_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pool, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store, err := NewStore(pool, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	docID := uuid.New()
	job, err := store.Submit(ctx, "kb", docID, "content that will fail")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Resubmitting a non-failed document is rejected.
	if _, err := store.Resubmit(ctx, docID); !errors.Is(err, ErrNotFailed) {
		t.Fatalf("expected ErrNotFailed, got %v", err)
	}

	if err := store.FailJob(ctx, job, "embedding capability unavailable"); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}
	doc, err := store.GetDocument(ctx, docID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if doc.Status != DocumentFailed || doc.ErrorDetail == "" {
		t.Fatalf("document = status %s detail %q, want failed with detail", doc.Status, doc.ErrorDetail)
	}

	// A failed job must not be claimable without an explicit resubmit.
	if _, ok, err := store.Claim(ctx, time.Minute); err != nil || ok {
		t.Fatalf("expected failed job to be unclaimable, ok=%v err=%v", ok, err)
	}

	revived, err := store.Resubmit(ctx, docID)
	if err != nil {
		t.Fatalf("Resubmit failed: %v", err)
	}
	if revived.ID != job.ID || revived.Status != JobPending {
		t.Errorf("revived = id %s status %s, want original id pending", revived.ID, revived.Status)
	}

	doc, err = store.GetDocument(ctx, docID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if doc.Status != DocumentPending || doc.ErrorDetail != "" {
		t.Errorf("document = status %s detail %q, want pending with no detail", doc.Status, doc.ErrorDetail)
	}
}

func TestStore_MarkDeleted_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pool, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store, err := NewStore(pool, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if err := store.MarkDeleted(ctx, uuid.New()); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}

	docID := uuid.New()
	job, err := store.Submit(ctx, "kb", docID, "short lived")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := store.MarkDeleted(ctx, docID); err != nil {
		t.Fatalf("MarkDeleted failed: %v", err)
	}

	doc, err := store.GetDocument(ctx, docID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if doc.Status != DocumentDeleted {
		t.Errorf("document status = %s, want deleted", doc.Status)
	}

	var jobStatus JobStatus
	if err := pool.QueryRow(ctx,
		`SELECT status FROM ingestion_jobs WHERE id = $1`, job.ID).Scan(&jobStatus); err != nil {
		t.Fatalf("loading job: %v", err)
	}
	if jobStatus != JobFailed {
		t.Errorf("job status = %s, want failed", jobStatus)
	}
}
