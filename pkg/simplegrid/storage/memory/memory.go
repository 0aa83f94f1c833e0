package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-grid/pkg/simplegrid"
)

type object struct {
	data        []byte
	filename    string
	contentType string
	checksum    string
	uploadDate  time.Time
}

// Backend is an in-memory implementation of the simplegrid.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[uuid.UUID]object
	now     func() time.Time
}

// Option configures the in-memory backend
type Option func(*Backend)

// WithClock sets the clock used for upload dates
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// New creates a new in-memory storage backend
func New(opts ...Option) *Backend {
	b := &Backend{
		objects: make(map[uuid.UUID]object),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Put stores content in memory
func (b *Backend) Put(ctx context.Context, r io.Reader, params simplegrid.PutParams) (uuid.UUID, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return uuid.Nil, &simplegrid.StorageError{Backend: "memory", ID: params.ID, Op: "put", Err: err}
	}

	id := params.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	contentType := params.ContentType
	if contentType == "" {
		contentType = simplegrid.DefaultContentType
	}
	sum := md5.Sum(data)

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[id]; exists {
		return uuid.Nil, simplegrid.ErrBlobExists
	}
	b.objects[id] = object{
		data:        data,
		filename:    params.Filename,
		contentType: contentType,
		checksum:    hex.EncodeToString(sum[:]),
		uploadDate:  b.now().UTC(),
	}
	return id, nil
}

// Get returns a blob held in memory
func (b *Backend) Get(ctx context.Context, id uuid.UUID) (*simplegrid.BlobHandle, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[id]
	if !exists {
		return nil, simplegrid.ErrBlobNotFound
	}

	return &simplegrid.BlobHandle{
		ID:          id,
		Filename:    obj.filename,
		ContentType: obj.contentType,
		Size:        int64(len(obj.data)),
		UploadDate:  obj.uploadDate,
		Checksum:    obj.checksum,
		Body:        io.NopCloser(bytes.NewReader(obj.data)),
	}, nil
}

// Delete deletes a blob
func (b *Backend) Delete(ctx context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[id]; !exists {
		return simplegrid.ErrBlobNotFound
	}

	delete(b.objects, id)
	return nil
}

// Len returns the number of stored blobs
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

// IDs returns the ids of all stored blobs
func (b *Backend) IDs() []uuid.UUID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(b.objects))
	for id := range b.objects {
		ids = append(ids, id)
	}
	return ids
}
