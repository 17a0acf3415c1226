// Package api provides the HTTP REST API for Parley.
//
// Endpoints:
//
//	GET  /health                              liveness probe
//	GET  /ready                               readiness probe
//	POST /api/agents                          create agent
//	GET  /api/agents                          list agents
//	GET  /api/agents/{id}                     get agent
//	PUT  /api/agents/{id}                     update agent
//	DELETE /api/agents/{id}                   delete agent
//	POST /api/documents                       submit content for indexing
//	GET  /api/documents                       list documents
//	GET  /api/documents/{id}                  ingestion status
//	POST /api/documents/{id}/resubmit         retry a failed document
//	DELETE /api/documents/{id}                delete document and vectors
//	POST /api/conversations                   create conversation
//	GET  /api/conversations                   list the caller's conversations
//	GET  /api/conversations/{id}              get conversation
//	DELETE /api/conversations/{id}            delete conversation and turns
//	GET  /api/conversations/{id}/turns        full turn history
//	POST /api/conversations/{id}/messages     post a message, get the reply turn
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - health.go: health check endpoints (/health, /ready)
//   - agents.go: agent configuration endpoints (CRUD)
//   - documents.go: document ingestion endpoints
//   - conversations.go: conversation and turn endpoints
//   - response.go: JSON response helpers and error mapping
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = ":8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	// This prevents Slowloris attacks (CWE-400).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response. Turn
	// completion waits on the model, so this is generous.
	WriteTimeout = 120 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on
	// keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for Parley's REST API.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger

	// Handlers
	health        *HealthHandler
	agents        *AgentHandler
	documents     *DocumentHandler
	conversations *ConversationHandler
}

// NewServer creates a new HTTP server with all routes registered.
func NewServer(health *HealthHandler, agents *AgentHandler, documents *DocumentHandler, conversations *ConversationHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	s := &Server{
		mux:           mux,
		logger:        logger,
		health:        health,
		agents:        agents,
		documents:     documents,
		conversations: conversations,
	}

	s.health.RegisterRoutes(mux)
	s.agents.RegisterRoutes(mux)
	s.documents.RegisterRoutes(mux)
	s.conversations.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → handler
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware(s.logger), loggingMiddleware(s.logger))
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
