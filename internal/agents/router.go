package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// getter is the store slice the Router needs. Satisfied by *Store.
type getter interface {
	Get(ctx context.Context, id uuid.UUID) (Agent, error)
}

// Router resolves a conversation's bound agent id to a configuration
// snapshot. There is deliberately no default agent: a dangling binding is a
// user-visible error, not a silent fallback.
type Router struct {
	store  getter
	logger *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(store getter, logger *slog.Logger) (*Router, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{store: store, logger: logger}, nil
}

// Resolve returns the agent bound to agentID, or ErrAgentNotFound if it was
// deleted after binding. The returned value is a snapshot; later updates
// affect later turns only.
func (r *Router) Resolve(ctx context.Context, agentID uuid.UUID) (Agent, error) {
	agent, err := r.store.Get(ctx, agentID)
	if err != nil {
		return Agent{}, err
	}
	return agent, nil
}
