package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/conversation"
)

// Conversation validation constants.
const (
	MaxConversationTitleLength = 200
	MaxMessageLength           = 32000
	MaxUserIDLength            = 200
)

// userIDHeader carries the caller identity. Parley trusts the reverse proxy
// in front of it to authenticate and set this header.
const userIDHeader = "X-User-ID"

// conversationManager is the slice of the conversation manager the handler
// needs. Satisfied by *conversation.Manager.
type conversationManager interface {
	Create(ctx context.Context, userID string, agentID uuid.UUID, title string) (conversation.Conversation, error)
	Get(ctx context.Context, id uuid.UUID, userID string) (conversation.Conversation, error)
	List(ctx context.Context, userID string) ([]conversation.Conversation, error)
	Delete(ctx context.Context, id uuid.UUID, userID string) error
	History(ctx context.Context, id uuid.UUID, userID string) ([]conversation.Turn, error)
	PostMessage(ctx context.Context, conversationID uuid.UUID, userID, text string) (conversation.Turn, error)
}

// ConversationHandler handles conversation and turn endpoints.
type ConversationHandler struct {
	manager conversationManager
	logger  *slog.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(manager conversationManager, logger *slog.Logger) *ConversationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationHandler{manager: manager, logger: logger}
}

// RegisterRoutes registers conversation routes on the given mux.
func (h *ConversationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/conversations", h.create)
	mux.HandleFunc("GET /api/conversations", h.list)
	mux.HandleFunc("GET /api/conversations/{id}", h.get)
	mux.HandleFunc("DELETE /api/conversations/{id}", h.delete)
	mux.HandleFunc("GET /api/conversations/{id}/turns", h.turns)
	mux.HandleFunc("POST /api/conversations/{id}/messages", h.postMessage)
}

// CreateConversationRequest is the request body for creating a conversation.
type CreateConversationRequest struct {
	AgentID string `json:"agent_id"`
	Title   string `json:"title"`
}

// ConversationResponse is the JSON shape of a conversation.
type ConversationResponse struct {
	ID             uuid.UUID `json:"id"`
	UserID         string    `json:"user_id"`
	AgentID        uuid.UUID `json:"agent_id"`
	Title          string    `json:"title"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

func toConversationResponse(c conversation.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:             c.ID,
		UserID:         c.UserID,
		AgentID:        c.AgentID,
		Title:          c.Title,
		CreatedAt:      c.CreatedAt,
		LastActivityAt: c.LastActivityAt,
	}
}

// TurnResponse is the JSON shape of a turn.
type TurnResponse struct {
	ID             uuid.UUID   `json:"id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	Sequence       int64       `json:"sequence"`
	Role           string      `json:"role"`
	Content        string      `json:"content"`
	Citations      []uuid.UUID `json:"citations"`
	CreatedAt      time.Time   `json:"created_at"`
}

func toTurnResponse(t conversation.Turn) TurnResponse {
	citations := t.Citations
	if citations == nil {
		citations = []uuid.UUID{}
	}
	return TurnResponse{
		ID:             t.ID,
		ConversationID: t.ConversationID,
		Sequence:       t.Sequence,
		Role:           string(t.Role),
		Content:        t.Content,
		Citations:      citations,
		CreatedAt:      t.CreatedAt,
	}
}

// PostMessageRequest is the request body for posting a message.
type PostMessageRequest struct {
	Text string `json:"text"`
}

// userID extracts the caller identity header, answering 401 when absent.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(userIDHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing "+userIDHeader+" header")
		return "", false
	}
	if len(id) > MaxUserIDLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "user id too long")
		return "", false
	}
	return id, true
}

// create starts a conversation bound to an agent.
func (h *ConversationHandler) create(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid agent_id")
		return
	}
	if len(req.Title) > MaxConversationTitleLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "title too long (max 200 characters)")
		return
	}

	conv, err := h.manager.Create(r.Context(), user, agentID, req.Title)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConversationResponse(conv))
}

// get returns the conversation metadata.
func (h *ConversationHandler) get(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	conv, err := h.manager.Get(r.Context(), id, user)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

// list returns the caller's conversations, most recently active first.
func (h *ConversationHandler) list(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	convs, err := h.manager.List(r.Context(), user)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := make([]ConversationResponse, 0, len(convs))
	for _, c := range convs {
		resp = append(resp, toConversationResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": resp, "total": len(resp)})
}

// delete removes the conversation and its turns.
func (h *ConversationHandler) delete(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.manager.Delete(r.Context(), id, user); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// turns returns the full turn history in sequence order.
func (h *ConversationHandler) turns(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	history, err := h.manager.History(r.Context(), id, user)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := make([]TurnResponse, 0, len(history))
	for _, t := range history {
		resp = append(resp, toTurnResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": resp, "total": len(resp)})
}

// postMessage records the user's message and answers with the agent's reply
// turn. A 502 means the message was recorded but no reply was generated; the
// client retries by posting again.
func (h *ConversationHandler) postMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	if len(req.Text) > MaxMessageLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "text too long (max 32000 characters)")
		return
	}

	turn, err := h.manager.PostMessage(r.Context(), id, user, req.Text)
	if err != nil {
		h.logger.Error("failed to post message",
			"conversation_id", id, "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTurnResponse(turn))
}
