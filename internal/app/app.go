// Package app provides application initialization and dependency wiring.
//
// App is the container that owns every long-lived component: the database
// pool, the Genkit runtime, the ingestion worker pool, and the HTTP server.
// Setup builds it in dependency order; Close releases in reverse.
package app

import (
	"context"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/api"
	"github.com/parleyhq/parley/internal/agents"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/embed"
	"github.com/parleyhq/parley/internal/index"
	"github.com/parleyhq/parley/internal/ingest"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/retrieve"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	// Core services
	DBPool   *pgxpool.Pool
	Genkit   *genkit.Genkit
	Embedder *embed.Client

	// Domain components
	Index         *index.Store
	Ingest        *ingest.Service
	Workers       *ingest.Pool
	Agents        *agents.Store
	Router        *agents.Router
	Retriever     *retrieve.Retriever
	Completer     *llm.Generator
	Conversations *conversation.Manager

	// HTTP surface
	Server *api.Server

	// Lifecycle management
	otelCleanup func()
	cancel      context.CancelFunc
}

// Run starts the ingestion workers and the HTTP server, blocking until the
// context is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.Workers.Start(runCtx)
	defer a.Workers.Stop()

	return a.Server.Run(runCtx, a.Config.ListenAddr)
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.cancel != nil {
		a.cancel()
	}

	if a.Workers != nil {
		a.Workers.Stop()
	}

	if a.DBPool != nil {
		a.DBPool.Close()
	}

	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}
