// Package sqlite keeps blobs in a single SQLite database file.
package sqlite

import (
	"bytes"
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-grid/pkg/simplegrid"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS blobs (
	id           TEXT PRIMARY KEY,
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL,
	length       INTEGER NOT NULL,
	md5          TEXT NOT NULL,
	upload_date  INTEGER NOT NULL,
	data         BLOB
);`

// Backend is a SQLite implementation of the simplegrid.BlobStore interface
type Backend struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path
func Open(ctx context.Context, path string) (*Backend, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows one writer; serialising through one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create blobs table: %w", err)
	}
	return &Backend{db: db}, nil
}

// Close closes the database
func (b *Backend) Close() error {
	return b.db.Close()
}

// Put stores a blob
func (b *Backend) Put(ctx context.Context, r io.Reader, params simplegrid.PutParams) (uuid.UUID, error) {
	id := params.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return uuid.Nil, b.wrap(id, "put", err)
	}
	contentType := params.ContentType
	if contentType == "" {
		contentType = simplegrid.DefaultContentType
	}
	sum := md5.Sum(data)

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO blobs (id, filename, content_type, length, md5, upload_date, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id.String(), params.Filename, contentType, len(data),
		hex.EncodeToString(sum[:]), time.Now().UTC().UnixNano(), data)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return uuid.Nil, simplegrid.ErrBlobExists
		}
		return uuid.Nil, b.wrap(id, "put", err)
	}
	return id, nil
}

// Get reads a blob. SQLite returns the whole value, so the body is buffered.
func (b *Backend) Get(ctx context.Context, id uuid.UUID) (*simplegrid.BlobHandle, error) {
	var (
		h        = &simplegrid.BlobHandle{ID: id}
		uploaded int64
		data     []byte
	)
	err := b.db.QueryRowContext(ctx, `
		SELECT filename, content_type, length, md5, upload_date, data
		FROM blobs WHERE id = ?`, id.String()).Scan(
		&h.Filename, &h.ContentType, &h.Size, &h.Checksum, &uploaded, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, simplegrid.ErrBlobNotFound
		}
		return nil, b.wrap(id, "get", err)
	}
	h.UploadDate = time.Unix(0, uploaded).UTC()
	h.Body = io.NopCloser(bytes.NewReader(data))
	return h, nil
}

// Delete deletes a blob
func (b *Backend) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM blobs WHERE id = ?`, id.String())
	if err != nil {
		return b.wrap(id, "delete", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return simplegrid.ErrBlobNotFound
	}
	return nil
}

func (b *Backend) wrap(id uuid.UUID, op string, err error) error {
	return &simplegrid.StorageError{Backend: "sqlite", ID: id, Op: op, Err: err}
}
