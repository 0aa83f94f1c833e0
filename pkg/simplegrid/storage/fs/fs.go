package fs

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-grid/pkg/simplegrid"
)

// Backend is a filesystem implementation of the simplegrid.BlobStore interface.
// Each blob is a data file plus a JSON sidecar holding its metadata.
type Backend struct {
	mu      sync.RWMutex
	baseDir string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing files
}

type sidecar struct {
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Length      int64     `json:"length"`
	MD5         string    `json:"md5"`
	UploadDate  time.Time `json:"upload_date"`
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{baseDir: filepath.Clean(config.BaseDir)}, nil
}

func (b *Backend) dataPath(id uuid.UUID) string {
	s := id.String()
	return filepath.Join(b.baseDir, s[:2], s)
}

func (b *Backend) metaPath(id uuid.UUID) string {
	return b.dataPath(id) + ".json"
}

// Put writes the blob and its sidecar to the filesystem
func (b *Backend) Put(ctx context.Context, r io.Reader, params simplegrid.PutParams) (uuid.UUID, error) {
	id := params.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	dataPath := b.dataPath(id)

	if err := os.MkdirAll(filepath.Dir(dataPath), 0755); err != nil {
		return uuid.Nil, b.wrap(id, "put", fmt.Errorf("failed to create directory: %w", err))
	}

	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".upload-*")
	if err != nil {
		return uuid.Nil, b.wrap(id, "put", fmt.Errorf("failed to create file: %w", err))
	}
	defer os.Remove(tmp.Name())

	hash := md5.New()
	n, err := io.Copy(io.MultiWriter(tmp, hash), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return uuid.Nil, b.wrap(id, "put", fmt.Errorf("failed to write file: %w", err))
	}

	contentType := params.ContentType
	if contentType == "" {
		contentType = simplegrid.DefaultContentType
	}
	meta, err := json.Marshal(sidecar{
		Filename:    params.Filename,
		ContentType: contentType,
		Length:      n,
		MD5:         hex.EncodeToString(hash.Sum(nil)),
		UploadDate:  time.Now().UTC(),
	})
	if err != nil {
		return uuid.Nil, b.wrap(id, "put", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := os.Stat(dataPath); err == nil {
		return uuid.Nil, simplegrid.ErrBlobExists
	}
	if err := os.WriteFile(b.metaPath(id), meta, 0644); err != nil {
		return uuid.Nil, b.wrap(id, "put", fmt.Errorf("failed to write metadata: %w", err))
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		os.Remove(b.metaPath(id))
		return uuid.Nil, b.wrap(id, "put", fmt.Errorf("failed to move file into place: %w", err))
	}
	return id, nil
}

// Get opens a blob from the filesystem
func (b *Backend) Get(ctx context.Context, id uuid.UUID) (*simplegrid.BlobHandle, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	raw, err := os.ReadFile(b.metaPath(id))
	if os.IsNotExist(err) {
		return nil, simplegrid.ErrBlobNotFound
	} else if err != nil {
		return nil, b.wrap(id, "get", fmt.Errorf("failed to read metadata: %w", err))
	}
	var meta sidecar
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, b.wrap(id, "get", fmt.Errorf("corrupt metadata: %w", err))
	}

	file, err := os.Open(b.dataPath(id))
	if os.IsNotExist(err) {
		return nil, simplegrid.ErrBlobNotFound
	} else if err != nil {
		return nil, b.wrap(id, "get", fmt.Errorf("failed to open file: %w", err))
	}

	return &simplegrid.BlobHandle{
		ID:          id,
		Filename:    meta.Filename,
		ContentType: meta.ContentType,
		Size:        meta.Length,
		UploadDate:  meta.UploadDate,
		Checksum:    meta.MD5,
		Body:        file,
	}, nil
}

// Delete deletes a blob from the filesystem
func (b *Backend) Delete(ctx context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dataPath := b.dataPath(id)
	if _, err := os.Stat(dataPath); os.IsNotExist(err) {
		os.Remove(b.metaPath(id))
		return simplegrid.ErrBlobNotFound
	}

	if err := os.Remove(dataPath); err != nil {
		return b.wrap(id, "delete", fmt.Errorf("failed to delete file: %w", err))
	}
	if err := os.Remove(b.metaPath(id)); err != nil && !os.IsNotExist(err) {
		return b.wrap(id, "delete", fmt.Errorf("failed to delete metadata: %w", err))
	}

	b.cleanupEmptyDirectories(filepath.Dir(dataPath))
	return nil
}

func (b *Backend) wrap(id uuid.UUID, op string, err error) error {
	return &simplegrid.StorageError{Backend: "fs", ID: id, Op: op, Err: err}
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == b.baseDir {
		return
	}

	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}
