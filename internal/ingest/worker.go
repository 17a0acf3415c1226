package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/chunker"
	"github.com/parleyhq/parley/internal/embed"
	"github.com/parleyhq/parley/internal/index"
)

// Embedder is the slice of the embedding client workers need.
// Satisfied by *embed.Client.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// jobStore is what a worker needs from the Store. Narrowed for testability.
type jobStore interface {
	Claim(ctx context.Context, lease time.Duration) (Job, bool, error)
	GetDocument(ctx context.Context, documentID uuid.UUID) (Document, error)
	MarkDocumentIndexing(ctx context.Context, documentID uuid.UUID, version int64) error
	CompleteJob(ctx context.Context, job Job) error
	FailJob(ctx context.Context, job Job, detail string) error
}

// PoolConfig sizes the worker pool and its per-job behavior.
type PoolConfig struct {
	// Workers is the number of concurrent job processors.
	Workers int

	// PollInterval is how often an idle worker checks for claimable jobs.
	PollInterval time.Duration

	// Lease is how long a claim holds before another worker may reclaim
	// the job. Must comfortably exceed the expected job duration.
	Lease time.Duration

	// JobTimeout bounds a single job end to end.
	JobTimeout time.Duration

	// Chunk controls document splitting.
	Chunk chunker.Options

	// RetryAttempts bounds embedding retries per job. Only transient
	// embedding failures are retried.
	RetryAttempts uint

	// RetryDelay and RetryMaxDelay shape the exponential backoff.
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
}

func (c PoolConfig) normalize() PoolConfig {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Lease <= 0 {
		c.Lease = 5 * time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 2 * time.Minute
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

// Pool runs ingestion jobs on a fixed set of worker goroutines. Workers
// coordinate purely through job rows: claims, leases and status updates all
// live in the database, so pools on different processes cooperate safely.
type Pool struct {
	store    jobStore
	embedder Embedder
	indexer  Indexer
	cfg      PoolConfig
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a worker pool. Start must be called before jobs run.
func NewPool(store jobStore, embedder Embedder, indexer Indexer, cfg PoolConfig, logger *slog.Logger) (*Pool, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if indexer == nil {
		return nil, fmt.Errorf("indexer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		store:    store,
		embedder: embedder,
		indexer:  indexer,
		cfg:      cfg.normalize(),
		logger:   logger,
	}, nil
}

// Start launches the workers. They run until Stop is called or ctx is
// canceled.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
	p.logger.Info("ingestion workers started", "count", p.cfg.Workers)
}

// Stop cancels the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("ingestion workers stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	logger := p.logger.With("worker", id)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		p.drain(ctx, logger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain processes claimable jobs until the queue is empty or ctx ends.
func (p *Pool) drain(ctx context.Context, logger *slog.Logger) {
	for ctx.Err() == nil {
		job, ok, err := p.store.Claim(ctx, p.cfg.Lease)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("claiming job failed", "error", err)
			}
			return
		}
		if !ok {
			return
		}
		p.process(ctx, logger, job)
	}
}

func (p *Pool) process(ctx context.Context, logger *slog.Logger, job Job) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	logger = logger.With("job_id", job.ID, "document_id", job.DocumentID, "version", job.DocumentVersion)

	doc, err := p.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		p.fail(ctx, logger, job, fmt.Sprintf("loading document: %v", err))
		return
	}
	if doc.Status == DocumentDeleted || doc.Version != job.DocumentVersion {
		p.fail(ctx, logger, job, "superseded by newer submission")
		return
	}
	if err := p.store.MarkDocumentIndexing(ctx, job.DocumentID, job.DocumentVersion); err != nil {
		logger.Warn("marking document indexing failed", "error", err)
	}

	chunks, warnings := chunker.Split(doc.Content, p.cfg.Chunk)
	for _, w := range warnings {
		logger.Warn("chunking warning", "ordinal", w.Ordinal, "reason", w.Reason)
	}

	entries, err := p.embedChunks(ctx, chunks)
	if err != nil {
		p.fail(ctx, logger, job, err.Error())
		return
	}

	if err := p.indexer.Upsert(ctx, job.DocumentID, job.DocumentVersion, entries); err != nil {
		p.fail(ctx, logger, job, fmt.Sprintf("upserting vectors: %v", err))
		return
	}

	if err := p.store.CompleteJob(ctx, job); err != nil {
		logger.Error("recording job completion failed", "error", err)
		return
	}
	logger.Info("document indexed", "chunks", len(entries), "attempt", job.Attempts)
}

// embedChunks embeds chunk texts, retrying transient failures with
// exponential backoff. Malformed responses abort immediately.
func (p *Pool) embedChunks(ctx context.Context, chunks []chunker.Chunk) ([]index.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	var vectors [][]float32
	err := retry.Do(
		func() error {
			var embedErr error
			vectors, embedErr = p.embedder.Embed(ctx, texts)
			return embedErr
		},
		retry.Context(ctx),
		retry.Attempts(p.cfg.RetryAttempts),
		retry.Delay(p.cfg.RetryDelay),
		retry.MaxDelay(p.cfg.RetryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, embed.ErrUnavailable)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedding chunks: got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	entries := make([]index.Chunk, len(chunks))
	for i, c := range chunks {
		entries[i] = index.Chunk{
			Ordinal:   c.Ordinal,
			Text:      c.Text,
			Tokens:    c.Tokens,
			Embedding: vectors[i],
		}
	}
	return entries, nil
}

func (p *Pool) fail(ctx context.Context, logger *slog.Logger, job Job, detail string) {
	// Use a fresh context so a timed-out job can still record its failure.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if err := p.store.FailJob(ctx, job, detail); err != nil {
		logger.Error("recording job failure failed", "error", err, "detail", detail)
		return
	}
	logger.Warn("ingestion job failed", "detail", detail, "attempt", job.Attempts)
}
