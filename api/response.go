package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/parleyhq/parley/internal/agents"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/ingest"
)

// writeJSON writes a JSON response with the given status code.
// Note: If encoding fails after WriteHeader is called, there's no way to
// notify the client since the status code is already sent. The error is
// logged for debugging but doesn't affect the response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// writeDomainError maps domain sentinel errors to HTTP status codes.
// Ownership failures answer 404 like a missing conversation, so conversation
// ids do not leak across users.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrConversationNotFound),
		errors.Is(err, conversation.ErrNotOwner):
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
	case errors.Is(err, conversation.ErrConversationBusy):
		writeError(w, http.StatusConflict, "conversation_busy",
			"a turn is already in flight; retry after it settles")
	case errors.Is(err, conversation.ErrReplyNotGenerated):
		// The user's message is recorded; only the reply failed. 502 tells
		// the client a retry posts a fresh turn, not a duplicate.
		writeError(w, http.StatusBadGateway, "reply_not_generated", err.Error())
	case errors.Is(err, agents.ErrAgentNotFound):
		writeError(w, http.StatusNotFound, "agent_not_found", "agent not found")
	case errors.Is(err, agents.ErrInvalidAgent):
		writeError(w, http.StatusBadRequest, "invalid_agent", err.Error())
	case errors.Is(err, ingest.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, "document_not_found", "document not found")
	case errors.Is(err, ingest.ErrNotFailed):
		writeError(w, http.StatusConflict, "not_failed",
			"only failed documents can be resubmitted")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
