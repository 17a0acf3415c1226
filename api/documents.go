package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/ingest"
)

// Document validation constants.
const (
	MaxScopeLength   = 200
	MaxContentLength = 1 << 20 // 1 MiB of text per document
)

// ingestService is the slice of the ingestion service the handler needs.
// Satisfied by *ingest.Service.
type ingestService interface {
	Submit(ctx context.Context, scope string, documentID uuid.UUID, content string) (ingest.Job, error)
	Status(ctx context.Context, documentID uuid.UUID) (ingest.Document, error)
	List(ctx context.Context, scope string) ([]ingest.Document, error)
	Resubmit(ctx context.Context, documentID uuid.UUID) (ingest.Job, error)
	Delete(ctx context.Context, documentID uuid.UUID) error
}

// DocumentHandler handles document ingestion endpoints.
type DocumentHandler struct {
	service ingestService
	logger  *slog.Logger
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(service ingestService, logger *slog.Logger) *DocumentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentHandler{service: service, logger: logger}
}

// RegisterRoutes registers document routes on the given mux.
func (h *DocumentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/documents", h.submit)
	mux.HandleFunc("GET /api/documents", h.list)
	mux.HandleFunc("GET /api/documents/{id}", h.status)
	mux.HandleFunc("POST /api/documents/{id}/resubmit", h.resubmit)
	mux.HandleFunc("DELETE /api/documents/{id}", h.delete)
}

// SubmitDocumentRequest is the request body for submitting content.
// DocumentID is optional; omitting it creates a new document, passing an
// existing id updates that document to a new version.
type SubmitDocumentRequest struct {
	DocumentID string `json:"document_id"`
	Scope      string `json:"scope"`
	Content    string `json:"content"`
}

// JobResponse is the JSON shape of an ingestion job.
type JobResponse struct {
	ID              uuid.UUID `json:"id"`
	DocumentID      uuid.UUID `json:"document_id"`
	DocumentVersion int64     `json:"document_version"`
	Status          string    `json:"status"`
	Attempts        int       `json:"attempts"`
	ErrorDetail     string    `json:"error_detail,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func toJobResponse(j ingest.Job) JobResponse {
	return JobResponse{
		ID:              j.ID,
		DocumentID:      j.DocumentID,
		DocumentVersion: j.DocumentVersion,
		Status:          string(j.Status),
		Attempts:        j.Attempts,
		ErrorDetail:     j.ErrorDetail,
		CreatedAt:       j.CreatedAt,
	}
}

// DocumentResponse is the JSON shape of a document's ingestion status.
// Content is deliberately omitted; clients track status, not payload.
type DocumentResponse struct {
	ID          uuid.UUID `json:"id"`
	Scope       string    `json:"scope"`
	Status      string    `json:"status"`
	Version     int64     `json:"version"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toDocumentResponse(d ingest.Document) DocumentResponse {
	return DocumentResponse{
		ID:          d.ID,
		Scope:       d.Scope,
		Status:      string(d.Status),
		Version:     d.Version,
		ErrorDetail: d.ErrorDetail,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// submit registers content for asynchronous indexing. Answers 202: the
// document is not searchable until a worker finishes the job.
func (h *DocumentHandler) submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Scope == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "scope is required")
		return
	}
	if len(req.Scope) > MaxScopeLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "scope too long (max 200 characters)")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "content is required")
		return
	}
	if len(req.Content) > MaxContentLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "content too large (max 1 MiB)")
		return
	}

	documentID := uuid.New()
	if req.DocumentID != "" {
		parsed, err := uuid.Parse(req.DocumentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid document_id")
			return
		}
		documentID = parsed
	}

	job, err := h.service.Submit(r.Context(), req.Scope, documentID, req.Content)
	if err != nil {
		h.logger.Error("failed to submit document", "document_id", documentID, "error", err)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

// status returns the document's ingestion status and error detail.
func (h *DocumentHandler) status(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	doc, err := h.service.Status(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// list returns documents newest first, optionally filtered with ?scope=.
func (h *DocumentHandler) list(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if len(scope) > MaxScopeLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "scope too long (max 200 characters)")
		return
	}

	docs, err := h.service.List(r.Context(), scope)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := make([]DocumentResponse, 0, len(docs))
	for _, d := range docs {
		resp = append(resp, toDocumentResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": resp, "total": len(resp)})
}

// resubmit returns a failed document to the pending state for another
// indexing attempt.
func (h *DocumentHandler) resubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	job, err := h.service.Resubmit(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

// delete marks the document deleted and removes its vectors.
func (h *DocumentHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		h.logger.Error("failed to delete document", "document_id", id, "error", err)
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
