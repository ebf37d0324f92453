package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tabula/internal/interfaces"
	"github.com/ternarybob/tabula/internal/models"
	"github.com/ternarybob/tabula/internal/services/documents"
)

// maxUploadBytes bounds in-memory multipart parsing. Large media uploads
// spill to temp files past this.
const maxUploadBytes = 64 << 20

// IngestService defines the ingestion operation the handler needs
type IngestService interface {
	Ingest(ctx context.Context, content []byte, req documents.IngestRequest) (*models.Document, bool, error)
}

// DocumentHandler handles document upload and retrieval
type DocumentHandler struct {
	ingest  IngestService
	storage interfaces.DocumentStorage
	logger  arbor.ILogger
}

func NewDocumentHandler(ingest IngestService, storage interfaces.DocumentStorage, logger arbor.ILogger) *DocumentHandler {
	return &DocumentHandler{
		ingest:  ingest,
		storage: storage,
		logger:  logger,
	}
}

// UploadHandler handles POST /api/documents - multipart upload with optional
// language, title, source and target fields. Identical content resolves to
// the existing record.
func (h *DocumentHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Missing file field")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}

	req := documents.IngestRequest{
		Filename: header.Filename,
		Doctype:  r.FormValue("doctype"),
		Language: r.FormValue("language"),
		Title:    r.FormValue("title"),
		Source:   r.FormValue("source"),
	}
	if target := r.FormValue("target"); target != "" {
		stage, ok := models.ParseStage(target)
		if !ok {
			WriteError(w, http.StatusBadRequest, "Unknown target stage: "+target)
			return
		}
		req.TargetStage = stage
	}

	doc, created, err := h.ingest.Ingest(r.Context(), content, req)
	if err != nil {
		h.logger.Error().Err(err).Str("filename", header.Filename).Msg("Ingest failed")
		WriteError(w, http.StatusInternalServerError, "Ingest failed: "+err.Error())
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	WriteJSON(w, status, map[string]interface{}{
		"status":   "success",
		"created":  created,
		"document": doc,
	})
}

// GetHandler handles GET /api/documents/{id}
func (h *DocumentHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	if id == "" || strings.Contains(id, "/") {
		WriteError(w, http.StatusBadRequest, "Invalid document id")
		return
	}

	doc, err := h.storage.GetDocument(r.Context(), id)
	if err != nil {
		if errors.Is(err, interfaces.ErrDocumentNotFound) {
			WriteError(w, http.StatusNotFound, "Document not found")
			return
		}
		h.logger.Error().Err(err).Str("document_id", id).Msg("Failed to load document")
		WriteError(w, http.StatusInternalServerError, "Failed to load document")
		return
	}

	WriteJSON(w, http.StatusOK, doc)
}

// ListHandler handles GET /api/documents - optionally filtered by ?stage=
func (h *DocumentHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	var filter *interfaces.DocumentFilter
	if stageParam := r.URL.Query().Get("stage"); stageParam != "" {
		stage, ok := models.ParseStage(stageParam)
		if !ok {
			WriteError(w, http.StatusBadRequest, "Unknown stage: "+stageParam)
			return
		}
		filter = &interfaces.DocumentFilter{Stages: []models.Stage{stage}}
	}

	docs, err := h.storage.ListDocuments(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list documents")
		WriteError(w, http.StatusInternalServerError, "Failed to list documents")
		return
	}

	// Strip the text payloads from list responses; they can be large.
	summaries := make([]map[string]interface{}, 0, len(docs))
	for _, doc := range docs {
		summaries = append(summaries, map[string]interface{}{
			"id":           doc.ID,
			"content_hash": doc.ContentHash,
			"doctype":      doc.Doctype,
			"language":     doc.Language,
			"title":        doc.Title,
			"source":       doc.Source,
			"stage":        doc.Stage,
			"created_at":   doc.CreatedAt,
			"updated_at":   doc.UpdatedAt,
		})
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(summaries),
		"documents": summaries,
	})
}
