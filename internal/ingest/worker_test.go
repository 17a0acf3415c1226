package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/parleyhq/parley/internal/chunker"
	"github.com/parleyhq/parley/internal/embed"
	"github.com/parleyhq/parley/internal/index"
	"github.com/parleyhq/parley/internal/log"
)

// mockJobStore serves queued jobs and records completions and failures.
type mockJobStore struct {
	mu        sync.Mutex
	queue     []Job
	documents map[uuid.UUID]Document
	completed []Job
	failed    map[uuid.UUID]string
	done      chan struct{}
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{
		documents: make(map[uuid.UUID]Document),
		failed:    make(map[uuid.UUID]string),
		done:      make(chan struct{}, 16),
	}
}

func (m *mockJobStore) Claim(_ context.Context, _ time.Duration) (Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return Job{}, false, nil
	}
	job := m.queue[0]
	m.queue = m.queue[1:]
	job.Status = JobIndexing
	job.Attempts++
	return job, true, nil
}

func (m *mockJobStore) GetDocument(_ context.Context, documentID uuid.UUID) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return Document{}, ErrDocumentNotFound
	}
	return doc, nil
}

func (m *mockJobStore) MarkDocumentIndexing(_ context.Context, _ uuid.UUID, _ int64) error {
	return nil
}

func (m *mockJobStore) CompleteJob(_ context.Context, job Job) error {
	m.mu.Lock()
	m.completed = append(m.completed, job)
	m.mu.Unlock()
	m.done <- struct{}{}
	return nil
}

func (m *mockJobStore) FailJob(_ context.Context, job Job, detail string) error {
	m.mu.Lock()
	m.failed[job.ID] = detail
	m.mu.Unlock()
	m.done <- struct{}{}
	return nil
}

// mockEmbedClient returns basis vectors, optionally failing the first few
// calls with the given error.
type mockEmbedClient struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
}

func (m *mockEmbedClient) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failures {
		return nil, m.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(i), 1}
	}
	return vectors, nil
}

func (m *mockEmbedClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockIndexer records upserts and deletes.
type mockIndexer struct {
	mu      sync.Mutex
	upserts map[uuid.UUID][]index.Chunk
	deleted []uuid.UUID
}

func newMockIndexer() *mockIndexer {
	return &mockIndexer{upserts: make(map[uuid.UUID][]index.Chunk)}
}

func (m *mockIndexer) Upsert(_ context.Context, documentID uuid.UUID, _ int64, chunks []index.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts[documentID] = chunks
	return nil
}

func (m *mockIndexer) Delete(_ context.Context, documentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, documentID)
	return nil
}

func testPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:       1,
		PollInterval:  10 * time.Millisecond,
		Lease:         time.Minute,
		Chunk:         chunker.Options{MaxChunkTokens: 10, OverlapTokens: 2},
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}
}

func queueJob(store *mockJobStore, content string) (Job, Document) {
	doc := Document{
		ID:      uuid.New(),
		Scope:   "kb",
		Content: content,
		Status:  DocumentPending,
		Version: 1,
	}
	job := Job{ID: uuid.New(), DocumentID: doc.ID, DocumentVersion: 1, Status: JobPending}
	store.documents[doc.ID] = doc
	store.queue = append(store.queue, job)
	return job, doc
}

func waitDone(t *testing.T, store *mockJobStore) {
	t.Helper()
	select {
	case <-store.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job to finish")
	}
}

func TestPool_ProcessesJob(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newMockJobStore()
	embedder := &mockEmbedClient{}
	indexer := newMockIndexer()
	_, doc := queueJob(store, "alpha beta gamma delta")

	pool, err := NewPool(store, embedder, indexer, testPoolConfig(), log.NewNop())
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	pool.Start(context.Background())
	waitDone(t, store)
	pool.Stop()

	if len(store.completed) != 1 {
		t.Fatalf("expected 1 completed job, got %d (failed: %v)", len(store.completed), store.failed)
	}
	chunks := indexer.upserts[doc.ID]
	if len(chunks) == 0 {
		t.Fatal("expected chunks upserted for document")
	}
	for i, c := range chunks {
		if c.Ordinal != i {
			t.Errorf("chunk %d has ordinal %d", i, c.Ordinal)
		}
		if len(c.Embedding) == 0 {
			t.Errorf("chunk %d has no embedding", i)
		}
	}
}

func TestPool_RetriesTransientEmbedFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newMockJobStore()
	embedder := &mockEmbedClient{failures: 2, err: fmt.Errorf("%w: connection reset", embed.ErrUnavailable)}
	indexer := newMockIndexer()
	queueJob(store, "some text to index")

	pool, err := NewPool(store, embedder, indexer, testPoolConfig(), log.NewNop())
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	pool.Start(context.Background())
	waitDone(t, store)
	pool.Stop()

	if len(store.completed) != 1 {
		t.Fatalf("expected job to complete after retries, failed: %v", store.failed)
	}
	if got := embedder.callCount(); got != 3 {
		t.Errorf("expected 3 embed calls, got %d", got)
	}
}

func TestPool_MalformedEmbeddingFailsImmediately(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newMockJobStore()
	embedder := &mockEmbedClient{failures: 100, err: fmt.Errorf("%w: dimension 4, want 768", embed.ErrMalformed)}
	indexer := newMockIndexer()
	job, _ := queueJob(store, "some text to index")

	pool, err := NewPool(store, embedder, indexer, testPoolConfig(), log.NewNop())
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	pool.Start(context.Background())
	waitDone(t, store)
	pool.Stop()

	if len(store.completed) != 0 {
		t.Fatal("expected no completed jobs")
	}
	if _, ok := store.failed[job.ID]; !ok {
		t.Fatal("expected job to be failed")
	}
	// Malformed responses are configuration errors; no retry.
	if got := embedder.callCount(); got != 1 {
		t.Errorf("expected 1 embed call, got %d", got)
	}
	if len(indexer.upserts) != 0 {
		t.Error("expected no upserts after embedding failure")
	}
}

func TestPool_SupersededJobFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newMockJobStore()
	embedder := &mockEmbedClient{}
	indexer := newMockIndexer()
	job, doc := queueJob(store, "old content")
	// Document moved on to version 2 after the job was created.
	doc.Version = 2
	store.documents[doc.ID] = doc

	pool, err := NewPool(store, embedder, indexer, testPoolConfig(), log.NewNop())
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	pool.Start(context.Background())
	waitDone(t, store)
	pool.Stop()

	if detail, ok := store.failed[job.ID]; !ok || detail != "superseded by newer submission" {
		t.Fatalf("expected superseded failure, got %q (ok=%v)", detail, ok)
	}
	if got := embedder.callCount(); got != 0 {
		t.Errorf("expected no embed calls for superseded job, got %d", got)
	}
}

func TestPool_StopWithoutJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool, err := NewPool(newMockJobStore(), &mockEmbedClient{}, newMockIndexer(), testPoolConfig(), log.NewNop())
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	pool.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	pool.Stop()
}
