package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/simple-grid/pkg/simplegrid"
)

// DefaultPrefix is the first path segment served by the gateway
const DefaultPrefix = "grid"

const notFoundBody = "File not found."

// GridHandler serves blobs at /{prefix}/{id} and /{prefix}/{id}/{filename}.
// The filename segment only names the download and is not checked against
// the stored metadata.
type GridHandler struct {
	store        simplegrid.BlobStore
	prefix       string
	cacheControl string
	logger       *slog.Logger
	metrics      *Metrics
}

// GridOption configures a GridHandler
type GridOption func(*GridHandler)

// WithPrefix sets the path prefix, "grid" by default
func WithPrefix(prefix string) GridOption {
	return func(h *GridHandler) {
		if p := strings.Trim(prefix, "/"); p != "" {
			h.prefix = p
		}
	}
}

// WithCacheControl sets the Cache-Control policy of success responses
func WithCacheControl(cc *simplegrid.CacheControl) GridOption {
	return func(h *GridHandler) {
		h.cacheControl = cc.Header()
	}
}

// WithLogger sets the logger, slog.Default() otherwise
func WithLogger(logger *slog.Logger) GridOption {
	return func(h *GridHandler) {
		h.logger = logger
	}
}

// WithMetrics records request metrics
func WithMetrics(m *Metrics) GridOption {
	return func(h *GridHandler) {
		h.metrics = m
	}
}

// NewGridHandler creates a gateway over store
func NewGridHandler(store simplegrid.BlobStore, opts ...GridOption) *GridHandler {
	h := &GridHandler{
		store:        store,
		prefix:       DefaultPrefix,
		cacheControl: simplegrid.DefaultCacheControl,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// Prefix returns the configured path prefix
func (h *GridHandler) Prefix() string {
	return h.prefix
}

// MatchPath extracts the id segment from /{prefix}/{id}[/...].
func (h *GridHandler) MatchPath(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/"+h.prefix+"/")
	if !ok {
		return "", false
	}
	id, _, _ := strings.Cut(rest, "/")
	if id == "" {
		return "", false
	}
	return id, true
}

// ServeHTTP serves requests whose path matches the gateway; others get 404.
func (h *GridHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := h.MatchPath(r.URL.Path)
	if !ok || !isReadMethod(r.Method) {
		http.NotFound(w, r)
		return
	}
	h.serveBlob(w, r, id)
}

// Middleware serves matching GET and HEAD requests and passes everything
// else to next.
func (h *GridHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isReadMethod(r.Method) {
			if id, ok := h.MatchPath(r.URL.Path); ok {
				h.serveBlob(w, r, id)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Routes returns a router to mount at "/"+Prefix()
func (h *GridHandler) Routes() chi.Router {
	r := chi.NewRouter()

	serve := func(w http.ResponseWriter, r *http.Request) {
		h.serveBlob(w, r, chi.URLParam(r, "id"))
	}
	r.Get("/{id}", serve)
	r.Get("/{id}/*", serve)
	r.Head("/{id}", serve)
	r.Head("/{id}/*", serve)

	return r
}

func (h *GridHandler) serveBlob(w http.ResponseWriter, r *http.Request, rawID string) {
	start := time.Now()
	status, written := h.respond(w, r, rawID)
	h.metrics.observe(status, written, time.Since(start))
}

func (h *GridHandler) respond(w http.ResponseWriter, r *http.Request, rawID string) (int, int64) {
	ctx := r.Context()

	id, err := uuid.Parse(rawID)
	if err != nil {
		return writeNotFound(w), 0
	}

	blob, err := h.store.Get(ctx, id)
	if err != nil {
		switch {
		case simplegrid.IsNotFound(err):
			return writeNotFound(w), 0
		case simplegrid.IsConnectionError(err):
			h.logger.Error("Blob store unavailable", "id", id, "error", err)
			http.Error(w, "Blob store unavailable", http.StatusServiceUnavailable)
			return http.StatusServiceUnavailable, 0
		default:
			h.logger.Error("Failed to fetch blob", "id", id, "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return http.StatusInternalServerError, 0
		}
	}
	defer blob.Close()

	contentType := blob.ContentType
	if contentType == "" {
		contentType = simplegrid.DefaultContentType
	}
	etag := simplegrid.QuoteETag(blob.Checksum)
	lastModified := simplegrid.LastModified(blob.UploadDate)

	header := w.Header()
	header.Set("Content-Type", contentType)
	header.Set("ETag", etag)
	header.Set("Last-Modified", lastModified.Format(http.TimeFormat))
	header.Set("Cache-Control", h.cacheControl)

	if simplegrid.NotModified(r, etag, lastModified) {
		w.WriteHeader(http.StatusNotModified)
		return http.StatusNotModified, 0
	}

	if blob.Size >= 0 {
		header.Set("Content-Length", strconv.FormatInt(blob.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return http.StatusOK, 0
	}

	n, err := io.Copy(w, &contextReader{ctx: ctx, r: blob.Body})
	if err != nil {
		h.logger.Warn("Blob stream interrupted", "id", id, "written", n, "error", err)
	}
	return http.StatusOK, n
}

func writeNotFound(w http.ResponseWriter) int {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusNotFound)
	io.WriteString(w, notFoundBody)
	return http.StatusNotFound
}

func isReadMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// contextReader stops a body copy once the request is cancelled
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
