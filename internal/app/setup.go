package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/api"
	"github.com/parleyhq/parley/db"
	"github.com/parleyhq/parley/internal/agents"
	"github.com/parleyhq/parley/internal/chunker"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/embed"
	"github.com/parleyhq/parley/internal/index"
	"github.com/parleyhq/parley/internal/ingest"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/internal/retrieve"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})

	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	if cfg.Tracing.Enabled {
		a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)
	}

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}

	a.Embedder, err = embed.NewClient(embedder, cfg.EmbedDimension, cfg.EmbedBatchSize,
		logger.With("component", "embed"))
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}

	if err := provideDomain(a, g, logger); err != nil {
		return nil, err
	}

	a.Server = provideServer(a, logger)
	return a, nil
}

// provideOtelShutdown sets up OTLP trace export before Genkit initialization,
// so the TracerProvider is ready when the first span starts.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Tracing.Environment,
		ServiceName: cfg.Tracing.ServiceName,
	}, logger)
	if err != nil {
		logger.Warn("setting up tracing", "error", err)
		return func() {}
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes Genkit with the Google AI plugin. The plugin
// reads GEMINI_API_KEY from the environment.
func provideGenkit(ctx context.Context) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit with gemini provider")
	}
	return g, nil
}

// provideEmbedder looks up the embedder registered by the Google AI plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
// Pool is configured with sensible defaults for connection management.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideDomain wires the stores, the ingestion pipeline and the
// conversation manager onto the already-initialized core services.
func provideDomain(a *App, g *genkit.Genkit, logger log.Logger) error {
	cfg := a.Config

	idx, err := index.NewStore(a.DBPool, logger.With("component", "index"))
	if err != nil {
		return fmt.Errorf("creating index store: %w", err)
	}
	a.Index = idx

	ingestStore, err := ingest.NewStore(a.DBPool, logger.With("component", "ingest"))
	if err != nil {
		return fmt.Errorf("creating ingest store: %w", err)
	}

	a.Ingest, err = ingest.NewService(ingestStore, idx, logger.With("component", "ingest"))
	if err != nil {
		return fmt.Errorf("creating ingest service: %w", err)
	}

	a.Workers, err = ingest.NewPool(ingestStore, a.Embedder, idx, ingest.PoolConfig{
		Workers:      cfg.Ingest.Workers,
		PollInterval: cfg.Ingest.PollInterval,
		Lease:        cfg.Ingest.Lease,
		JobTimeout:   cfg.Ingest.JobTimeout,
		Chunk: chunker.Options{
			MaxChunkTokens: cfg.Ingest.MaxChunkTokens,
			OverlapTokens:  cfg.Ingest.OverlapTokens,
		},
		RetryAttempts: cfg.Ingest.RetryAttempts,
		RetryDelay:    cfg.Ingest.RetryDelay,
		RetryMaxDelay: cfg.Ingest.RetryMaxDelay,
	}, logger.With("component", "ingest-worker"))
	if err != nil {
		return fmt.Errorf("creating ingest worker pool: %w", err)
	}

	a.Agents, err = agents.NewStore(a.DBPool, logger.With("component", "agents"))
	if err != nil {
		return fmt.Errorf("creating agent store: %w", err)
	}

	a.Router, err = agents.NewRouter(a.Agents, logger.With("component", "router"))
	if err != nil {
		return fmt.Errorf("creating agent router: %w", err)
	}

	a.Retriever, err = retrieve.NewRetriever(a.Embedder, idx, logger.With("component", "retrieve"))
	if err != nil {
		return fmt.Errorf("creating retriever: %w", err)
	}

	a.Completer, err = llm.NewGenerator(g, cfg.ModelName, logger.With("component", "llm"))
	if err != nil {
		return fmt.Errorf("creating completion client: %w", err)
	}

	convStore, err := conversation.NewStore(a.DBPool, logger.With("component", "conversation"))
	if err != nil {
		return fmt.Errorf("creating conversation store: %w", err)
	}

	a.Conversations, err = conversation.NewManager(convStore, a.Router, a.Retriever, a.Completer,
		conversation.ManagerConfig{
			HistoryLimit:      cfg.Conversation.HistoryLimit,
			TopK:              cfg.Conversation.TopK,
			PromptBudget:      cfg.Conversation.PromptBudget,
			CompletionTimeout: cfg.Conversation.CompletionTimeout,
		}, logger.With("component", "conversation"))
	if err != nil {
		return fmt.Errorf("creating conversation manager: %w", err)
	}

	return nil
}

// provideServer assembles the HTTP handlers and server.
func provideServer(a *App, logger log.Logger) *api.Server {
	apiLogger := logger.With("component", "api")
	return api.NewServer(
		api.NewHealthHandler(a.DBPool, apiLogger),
		api.NewAgentHandler(a.Agents, apiLogger),
		api.NewDocumentHandler(a.Ingest, apiLogger),
		api.NewConversationHandler(a.Conversations, apiLogger),
		apiLogger,
	)
}
