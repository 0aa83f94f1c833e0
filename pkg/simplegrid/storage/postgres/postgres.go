// Package postgres stores blobs in PostgreSQL the way GridFS does: a files
// table holding metadata and a chunks table holding the content split into
// fixed-size pieces, so reads stream chunk by chunk.
package postgres

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-grid/pkg/simplegrid"
)

// DefaultPort is the standard PostgreSQL port
const DefaultPort = 5432

// DefaultChunkSize matches the GridFS default of 255 KiB
const DefaultChunkSize = 255 * 1024

// SchemaSQL creates the grid tables
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS grid_files (
	id           UUID PRIMARY KEY,
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL,
	length       BIGINT NOT NULL,
	chunk_size   INTEGER NOT NULL,
	md5          TEXT NOT NULL,
	upload_date  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS grid_chunks (
	files_id UUID NOT NULL REFERENCES grid_files(id) ON DELETE CASCADE,
	n        INTEGER NOT NULL,
	data     BYTEA NOT NULL,
	PRIMARY KEY (files_id, n)
);`

// Config describes the connection to the grid database
type Config struct {
	Host      string
	Port      int
	Database  string
	Username  string
	Password  string
	Schema    string // Optional search_path
	SSLMode   string // Optional sslmode query parameter
	ChunkSize int
}

// URL renders the connection string
func (c Config) URL() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   host + ":" + strconv.Itoa(port),
		Path:   c.Database,
	}
	if c.Username != "" || c.Password != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

// DBTX is an interface that allows us to use either a pool or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
}

// Backend is a PostgreSQL implementation of the simplegrid.BlobStore interface
type Backend struct {
	db        DBTX
	pool      *pgxpool.Pool
	chunkSize int
}

// Dial connects to the grid database and verifies the connection
func Dial(ctx context.Context, cfg Config) (*Backend, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse grid database config: %w", err)
	}
	if schema := cfg.Schema; schema != "" {
		poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping grid database: %w", err)
	}
	b := New(pool, cfg.ChunkSize)
	b.pool = pool
	return b, nil
}

// New creates a backend on an existing pool or connection
func New(db DBTX, chunkSize int) *Backend {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Backend{db: db, chunkSize: chunkSize}
}

// EnsureSchema creates the grid tables if they are missing
func (b *Backend) EnsureSchema(ctx context.Context) error {
	if _, err := b.db.Exec(ctx, SchemaSQL); err != nil {
		return fmt.Errorf("failed to create grid tables: %w", err)
	}
	return nil
}

// Close closes the pool opened by Dial
func (b *Backend) Close() error {
	if b.pool != nil {
		b.pool.Close()
	}
	return nil
}

// Put stores a blob in one transaction, chunk by chunk
func (b *Backend) Put(ctx context.Context, r io.Reader, params simplegrid.PutParams) (uuid.UUID, error) {
	id := params.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	contentType := params.ContentType
	if contentType == "" {
		contentType = simplegrid.DefaultContentType
	}

	tx, err := b.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, b.handlePostgresError(id, "put", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO grid_files (id, filename, content_type, length, chunk_size, md5, upload_date)
		VALUES ($1, $2, $3, 0, $4, '', $5)`,
		id, params.Filename, contentType, b.chunkSize, time.Now().UTC())
	if err != nil {
		return uuid.Nil, b.handlePostgresError(id, "put", err)
	}

	hash := md5.New()
	buf := make([]byte, b.chunkSize)
	var length int64
	for n := 0; ; n++ {
		k, rerr := io.ReadFull(r, buf)
		if k > 0 {
			hash.Write(buf[:k])
			if _, err := tx.Exec(ctx,
				`INSERT INTO grid_chunks (files_id, n, data) VALUES ($1, $2, $3)`,
				id, n, buf[:k]); err != nil {
				return uuid.Nil, b.handlePostgresError(id, "put", err)
			}
			length += int64(k)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return uuid.Nil, &simplegrid.StorageError{Backend: "postgres", ID: id, Op: "put", Err: rerr}
		}
	}

	_, err = tx.Exec(ctx, `UPDATE grid_files SET length = $2, md5 = $3 WHERE id = $1`,
		id, length, hex.EncodeToString(hash.Sum(nil)))
	if err != nil {
		return uuid.Nil, b.handlePostgresError(id, "put", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, b.handlePostgresError(id, "put", err)
	}
	return id, nil
}

// Get reads a blob's metadata; its body fetches chunks as it is read
func (b *Backend) Get(ctx context.Context, id uuid.UUID) (*simplegrid.BlobHandle, error) {
	h := &simplegrid.BlobHandle{ID: id}
	var chunkSize int
	err := b.db.QueryRow(ctx, `
		SELECT filename, content_type, length, chunk_size, md5, upload_date
		FROM grid_files WHERE id = $1`, id).Scan(
		&h.Filename, &h.ContentType, &h.Size, &chunkSize, &h.Checksum, &h.UploadDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simplegrid.ErrBlobNotFound
		}
		return nil, b.handlePostgresError(id, "get", err)
	}

	chunks := 0
	if chunkSize > 0 {
		chunks = int((h.Size + int64(chunkSize) - 1) / int64(chunkSize))
	}
	h.Body = &chunkReader{ctx: ctx, db: b.db, id: id, chunks: chunks}
	return h, nil
}

// Delete removes a blob and, by cascade, its chunks
func (b *Backend) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := b.db.Exec(ctx, `DELETE FROM grid_files WHERE id = $1`, id)
	if err != nil {
		return b.handlePostgresError(id, "delete", err)
	}
	if tag.RowsAffected() == 0 {
		return simplegrid.ErrBlobNotFound
	}
	return nil
}

func (b *Backend) handlePostgresError(id uuid.UUID, op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return simplegrid.ErrBlobExists
		case "42P01": // undefined_table
			err = fmt.Errorf("grid tables do not exist - run EnsureSchema: %w", err)
		}
	}
	return &simplegrid.StorageError{Backend: "postgres", ID: id, Op: op, Err: err}
}

// chunkReader streams a blob one chunk query at a time
type chunkReader struct {
	ctx    context.Context
	db     DBTX
	id     uuid.UUID
	chunks int
	next   int
	buf    []byte
	closed bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, errors.New("read on closed blob")
	}
	for len(r.buf) == 0 {
		if r.next >= r.chunks {
			return 0, io.EOF
		}
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}
		var data []byte
		err := r.db.QueryRow(r.ctx,
			`SELECT data FROM grid_chunks WHERE files_id = $1 AND n = $2`,
			r.id, r.next).Scan(&data)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("chunk %d of blob %s: %w", r.next, r.id, io.ErrUnexpectedEOF)
		}
		if err != nil {
			return 0, err
		}
		r.buf = data
		r.next++
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *chunkReader) Close() error {
	r.closed = true
	r.buf = nil
	return nil
}
