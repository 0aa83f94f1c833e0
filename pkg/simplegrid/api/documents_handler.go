package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-grid/pkg/simplegrid"
)

// DefaultMaxUploadSize caps multipart attachment uploads
const DefaultMaxUploadSize int64 = 64 << 20

// DocumentsHandler handles the documents API
type DocumentsHandler struct {
	service       simplegrid.Service
	gridPrefix    string
	maxUploadSize int64
}

// NewDocumentsHandler creates a documents API. gridPrefix is the gateway
// prefix used to render attachment URLs.
func NewDocumentsHandler(service simplegrid.Service, gridPrefix string) *DocumentsHandler {
	if gridPrefix == "" {
		gridPrefix = DefaultPrefix
	}
	return &DocumentsHandler{
		service:       service,
		gridPrefix:    gridPrefix,
		maxUploadSize: DefaultMaxUploadSize,
	}
}

// Routes returns the router for documents endpoints
func (h *DocumentsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateDocument)
	r.Get("/", h.ListDocuments)
	r.Get("/{document_id}", h.GetDocument)
	r.Delete("/{document_id}", h.DeleteDocument)
	r.Get("/{document_id}/attachments/{slot}", h.RedirectAttachment)
	r.Put("/{document_id}/attachments/{slot}", h.UploadAttachment)
	r.Delete("/{document_id}/attachments/{slot}", h.DeleteAttachment)
	return r
}

// CreateDocumentRequest represents the request to create a document
type CreateDocumentRequest struct {
	Kind  string `json:"kind"`
	Title string `json:"title"`
}

// AttachmentResponse describes one filled attachment slot
type AttachmentResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

// DocumentResponse represents a document in API responses
type DocumentResponse struct {
	ID          string                        `json:"id"`
	Kind        string                        `json:"kind"`
	Title       string                        `json:"title"`
	Attachments map[string]AttachmentResponse `json:"attachments"`
	CreatedAt   time.Time                     `json:"created_at"`
	UpdatedAt   time.Time                     `json:"updated_at"`
}

// CreateDocument creates an empty document
func (h *DocumentsHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Failed to decode request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	doc, err := h.service.NewDocument(req.Kind, req.Title)
	if err != nil {
		h.writeError(w, "Failed to create document", err)
		return
	}
	if err := h.service.SaveDocument(r.Context(), doc); err != nil {
		h.writeError(w, "Failed to save document", err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, h.toResponse(doc))
}

// ListDocuments lists documents, optionally filtered by ?kind=
func (h *DocumentsHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.service.ListDocuments(r.Context(), r.URL.Query().Get("kind"))
	if err != nil {
		h.writeError(w, "Failed to list documents", err)
		return
	}

	resp := make([]DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		resp = append(resp, h.toResponse(doc))
	}
	render.JSON(w, r, resp)
}

// GetDocument returns one document
func (h *DocumentsHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.loadDocument(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, h.toResponse(doc))
}

// DeleteDocument deletes a document and every blob it references
func (h *DocumentsHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.loadDocument(w, r)
	if !ok {
		return
	}
	if err := h.service.DestroyDocument(r.Context(), doc); err != nil {
		h.writeError(w, "Failed to delete document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RedirectAttachment redirects to the gateway URL of a filled slot
func (h *DocumentsHandler) RedirectAttachment(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.loadDocument(w, r)
	if !ok {
		return
	}
	md := doc.AttachmentMetadata(chi.URLParam(r, "slot"))
	if md.IsZero() {
		http.Error(w, "Attachment not found", http.StatusNotFound)
		return
	}
	http.Redirect(w, r, md.URL(h.gridPrefix), http.StatusFound)
}

// UploadAttachment replaces a slot with the multipart "file" field
func (h *DocumentsHandler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.loadDocument(w, r)
	if !ok {
		return
	}
	slot := chi.URLParam(r, "slot")

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Failed to read upload", "document_id", doc.ID, "slot", slot, "error", err)
		http.Error(w, "Multipart field \"file\" is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	input := simplegrid.ByteStream{Name: header.Filename, Reader: file, Size: header.Size}
	if _, err := h.service.Attach(doc, slot, input); err != nil {
		h.writeError(w, "Failed to attach file", err)
		return
	}
	if err := h.service.SaveDocument(r.Context(), doc); err != nil {
		h.writeError(w, "Failed to save document", err)
		return
	}

	render.JSON(w, r, h.toResponse(doc))
}

// DeleteAttachment empties a slot and deletes its blob
func (h *DocumentsHandler) DeleteAttachment(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.loadDocument(w, r)
	if !ok {
		return
	}
	if err := h.service.Detach(doc, chi.URLParam(r, "slot")); err != nil {
		h.writeError(w, "Failed to detach file", err)
		return
	}
	if err := h.service.SaveDocument(r.Context(), doc); err != nil {
		h.writeError(w, "Failed to save document", err)
		return
	}

	render.JSON(w, r, h.toResponse(doc))
}

func (h *DocumentsHandler) loadDocument(w http.ResponseWriter, r *http.Request) (*simplegrid.Document, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "document_id"))
	if err != nil {
		http.Error(w, "Invalid document ID", http.StatusBadRequest)
		return nil, false
	}
	doc, err := h.service.GetDocument(r.Context(), id)
	if err != nil {
		h.writeError(w, "Failed to get document", err)
		return nil, false
	}
	return doc, true
}

func (h *DocumentsHandler) writeError(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, simplegrid.ErrDocumentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, simplegrid.ErrUnknownKind),
		errors.Is(err, simplegrid.ErrUnknownSlot),
		errors.Is(err, simplegrid.ErrInvalidInput):
		status = http.StatusBadRequest
	case simplegrid.IsConnectionError(err):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		slog.Error(msg, "error", err)
		http.Error(w, http.StatusText(status), status)
		return
	}
	http.Error(w, err.Error(), status)
}

func (h *DocumentsHandler) toResponse(doc *simplegrid.Document) DocumentResponse {
	resp := DocumentResponse{
		ID:          doc.ID.String(),
		Kind:        doc.Kind,
		Title:       doc.Title,
		Attachments: make(map[string]AttachmentResponse, len(doc.Attachments)),
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	for slot, md := range doc.Attachments {
		if md.IsZero() {
			continue
		}
		resp.Attachments[slot] = AttachmentResponse{
			ID:          md.ID.String(),
			Name:        md.Name,
			Size:        md.Size,
			ContentType: md.ContentType,
			URL:         md.URL(h.gridPrefix),
		}
	}
	return resp
}
