package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/agents"
)

// Agent validation constants.
const (
	MaxAgentNameLength    = 100
	MaxInstructionsLength = 10000
	MaxScopes             = 50
)

// agentStore is the slice of the agent store the handler needs.
// Satisfied by *agents.Store.
type agentStore interface {
	Create(ctx context.Context, agent agents.Agent) (agents.Agent, error)
	Get(ctx context.Context, id uuid.UUID) (agents.Agent, error)
	List(ctx context.Context) ([]agents.Agent, error)
	Update(ctx context.Context, agent agents.Agent) (agents.Agent, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// AgentHandler handles agent configuration endpoints.
type AgentHandler struct {
	store  agentStore
	logger *slog.Logger
}

// NewAgentHandler creates a new agent handler.
func NewAgentHandler(store agentStore, logger *slog.Logger) *AgentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentHandler{store: store, logger: logger}
}

// RegisterRoutes registers agent routes on the given mux.
func (h *AgentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/agents", h.create)
	mux.HandleFunc("GET /api/agents", h.list)
	mux.HandleFunc("GET /api/agents/{id}", h.get)
	mux.HandleFunc("PUT /api/agents/{id}", h.update)
	mux.HandleFunc("DELETE /api/agents/{id}", h.delete)
}

// AgentRequest is the request body for creating or updating an agent.
type AgentRequest struct {
	Name            string   `json:"name"`
	Instructions    string   `json:"instructions"`
	Scopes          []string `json:"scopes"`
	Temperature     float64  `json:"temperature"`
	MaxOutputTokens int      `json:"max_output_tokens"`
}

func (r AgentRequest) validate() string {
	if len(r.Name) > MaxAgentNameLength {
		return "name too long (max 100 characters)"
	}
	if len(r.Instructions) > MaxInstructionsLength {
		return "instructions too long (max 10000 characters)"
	}
	if len(r.Scopes) > MaxScopes {
		return "too many scopes (max 50)"
	}
	return ""
}

// AgentResponse is the JSON shape of an agent.
type AgentResponse struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Instructions    string    `json:"instructions"`
	Scopes          []string  `json:"scopes"`
	Temperature     float64   `json:"temperature"`
	MaxOutputTokens int       `json:"max_output_tokens"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toAgentResponse(a agents.Agent) AgentResponse {
	scopes := a.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	return AgentResponse{
		ID:              a.ID,
		Name:            a.Name,
		Instructions:    a.Instructions,
		Scopes:          scopes,
		Temperature:     a.Temperature,
		MaxOutputTokens: a.MaxOutputTokens,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

// create creates a new agent configuration.
func (h *AgentHandler) create(w http.ResponseWriter, r *http.Request) {
	var req AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}

	agent, err := h.store.Create(r.Context(), agents.Agent{
		Name:            req.Name,
		Instructions:    req.Instructions,
		Scopes:          req.Scopes,
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
	})
	if err != nil {
		h.logger.Error("failed to create agent", "error", err)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAgentResponse(agent))
}

// list returns all agents ordered by name.
func (h *AgentHandler) list(w http.ResponseWriter, r *http.Request) {
	all, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list agents", "error", err)
		writeDomainError(w, err)
		return
	}

	resp := make([]AgentResponse, 0, len(all))
	for _, a := range all {
		resp = append(resp, toAgentResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": resp, "total": len(resp)})
}

// get returns a single agent by id.
func (h *AgentHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	agent, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentResponse(agent))
}

// update replaces an agent's configuration. Conversations bound to the agent
// pick up the new snapshot on their next turn.
func (h *AgentHandler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}

	agent, err := h.store.Update(r.Context(), agents.Agent{
		ID:              id,
		Name:            req.Name,
		Instructions:    req.Instructions,
		Scopes:          req.Scopes,
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentResponse(agent))
}

// delete removes an agent. Existing conversations keep their binding and
// surface the missing agent on their next turn.
func (h *AgentHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pathUUID parses the named path segment as a UUID, answering 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
