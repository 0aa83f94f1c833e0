package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-grid/pkg/simplegrid"
	"github.com/tendant/simple-grid/pkg/simplegrid/api"
	"github.com/tendant/simple-grid/pkg/simplegrid/repo/memory"
	memorystorage "github.com/tendant/simple-grid/pkg/simplegrid/storage/memory"
)

type documentsFixture struct {
	router http.Handler
	store  *memorystorage.Backend
}

func newDocumentsFixture(t *testing.T) *documentsFixture {
	t.Helper()
	store := memorystorage.New()
	return &documentsFixture{router: newDocumentsRouter(t, store), store: store}
}

func newDocumentsRouter(t *testing.T, store simplegrid.BlobStore) http.Handler {
	t.Helper()
	svc, err := simplegrid.New(
		simplegrid.WithRepository(memory.New()),
		simplegrid.WithBlobStore(store),
		simplegrid.WithSchema(simplegrid.MustSchema("document", "file", "thumbnail")),
	)
	require.NoError(t, err)

	gateway := api.NewGridHandler(store)
	r := chi.NewRouter()
	r.Mount("/grid", gateway.Routes())
	r.Mount("/api/v1/documents", api.NewDocumentsHandler(svc, gateway.Prefix()).Routes())
	return r
}

func (f *documentsFixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func (f *documentsFixture) create(t *testing.T, kind, title string) api.DocumentResponse {
	t.Helper()
	body, err := json.Marshal(api.CreateDocumentRequest{Kind: kind, Title: title})
	require.NoError(t, err)
	rr := f.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/documents/", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var doc api.DocumentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	return doc
}

func (f *documentsFixture) upload(t *testing.T, docID, slot, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPut, "/api/v1/documents/"+docID+"/attachments/"+slot, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return f.do(t, req)
}

func decodeDocument(t *testing.T, rr *httptest.ResponseRecorder) api.DocumentResponse {
	t.Helper()
	var doc api.DocumentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc), rr.Body.String())
	return doc
}

func TestCreateAndGetDocument(t *testing.T) {
	f := newDocumentsFixture(t)

	created := f.create(t, "document", "  Quarterly report ")
	assert.Equal(t, "document", created.Kind)
	assert.Equal(t, "Quarterly report", created.Title)
	assert.Empty(t, created.Attachments)
	_, err := uuid.Parse(created.ID)
	require.NoError(t, err)

	rr := f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+created.ID, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	got := decodeDocument(t, rr)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.Title, got.Title)
}

func TestCreateDocumentErrors(t *testing.T) {
	f := newDocumentsFixture(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"unknown kind", `{"kind":"invoice","title":"x"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/documents/", strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestGetDocumentErrors(t *testing.T) {
	f := newDocumentsFixture(t)

	rr := f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/documents/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListDocuments(t *testing.T) {
	f := newDocumentsFixture(t)
	f.create(t, "document", "one")
	f.create(t, "document", "two")

	rr := f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/documents/?kind=document", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var docs []api.DocumentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &docs))
	assert.Len(t, docs, 2)

	rr = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/documents/?kind=photo", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestUploadServeAndReplaceAttachment(t *testing.T) {
	f := newDocumentsFixture(t)
	doc := f.create(t, "document", "report")

	rr := f.upload(t, doc.ID, "file", "report.pdf", "%PDF-1.4 first")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	first := decodeDocument(t, rr).Attachments["file"]
	assert.Equal(t, "report.pdf", first.Name)
	assert.Equal(t, int64(len("%PDF-1.4 first")), first.Size)
	assert.Equal(t, "application/pdf", first.ContentType)
	assert.Equal(t, "/grid/"+first.ID+"/report.pdf", first.URL)
	assert.Equal(t, 1, f.store.Len())

	rr = f.do(t, httptest.NewRequest(http.MethodGet, first.URL, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "%PDF-1.4 first", rr.Body.String())
	assert.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))

	rr = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+doc.ID+"/attachments/file", nil))
	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, first.URL, rr.Header().Get("Location"))

	// replacing the slot deletes the old blob
	rr = f.upload(t, doc.ID, "file", "report-v2.pdf", "%PDF-1.4 second")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	second := decodeDocument(t, rr).Attachments["file"]
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, f.store.Len())

	rr = f.do(t, httptest.NewRequest(http.MethodGet, first.URL, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = f.do(t, httptest.NewRequest(http.MethodGet, second.URL, nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "%PDF-1.4 second", rr.Body.String())
}

func TestUploadAttachmentErrors(t *testing.T) {
	f := newDocumentsFixture(t)
	doc := f.create(t, "document", "report")

	rr := f.upload(t, doc.ID, "cover", "cover.png", "png")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.upload(t, uuid.NewString(), "file", "a.txt", "a")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/documents/"+doc.ID+"/attachments/file", strings.NewReader("raw"))
	req.Header.Set("Content-Type", "text/plain")
	rr = f.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.Equal(t, 0, f.store.Len())
}

func TestDeleteAttachment(t *testing.T) {
	f := newDocumentsFixture(t)
	doc := f.create(t, "document", "report")
	rr := f.upload(t, doc.ID, "thumbnail", "thumb.png", "png bytes")
	require.Equal(t, http.StatusOK, rr.Code)
	thumb := decodeDocument(t, rr).Attachments["thumbnail"]

	rr = f.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/documents/"+doc.ID+"/attachments/thumbnail", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decodeDocument(t, rr).Attachments)
	assert.Equal(t, 0, f.store.Len())

	rr = f.do(t, httptest.NewRequest(http.MethodGet, thumb.URL, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+doc.ID+"/attachments/thumbnail", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteDocumentPurgesBlobs(t *testing.T) {
	f := newDocumentsFixture(t)
	doc := f.create(t, "document", "report")
	require.Equal(t, http.StatusOK, f.upload(t, doc.ID, "file", "a.txt", "a").Code)
	require.Equal(t, http.StatusOK, f.upload(t, doc.ID, "thumbnail", "b.png", "b").Code)
	assert.Equal(t, 2, f.store.Len())

	rr := f.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/documents/"+doc.ID, nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, 0, f.store.Len())

	rr = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+doc.ID, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStoreFailuresHideDetails(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{
			name:     "storage error",
			err:      &simplegrid.StorageError{Backend: "postgres", Op: "put", Err: errors.New(`relation "grid_files" does not exist`)},
			wantCode: http.StatusInternalServerError,
		},
		{
			name:     "connection error",
			err:      &simplegrid.ConnectionError{Err: errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")},
			wantCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &documentsFixture{router: newDocumentsRouter(t, failingStore{err: tt.err})}
			doc := f.create(t, "document", "report")

			rr := f.upload(t, doc.ID, "file", "report.pdf", "%PDF")
			assert.Equal(t, tt.wantCode, rr.Code)
			assert.Equal(t, http.StatusText(tt.wantCode)+"\n", rr.Body.String())
			assert.NotContains(t, rr.Body.String(), "grid_files")
			assert.NotContains(t, rr.Body.String(), "10.0.0.5")
		})
	}
}
