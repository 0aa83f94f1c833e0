package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-grid/pkg/simplegrid"
)

// SchemaSQL creates the document tables. One attachment row holds all four
// metadata fields of a slot, so they are stored and removed together.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	id         UUID PRIMARY KEY,
	kind       TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_kind_idx ON documents (kind, created_at);
CREATE TABLE IF NOT EXISTS document_attachments (
	document_id  UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	slot         TEXT NOT NULL,
	blob_id      UUID NOT NULL,
	name         TEXT NOT NULL,
	size         BIGINT NOT NULL,
	content_type TEXT NOT NULL,
	PRIMARY KEY (document_id, slot)
);`

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
}

// Repository implements simplegrid.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// EnsureSchema creates the document tables if they are missing
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, SchemaSQL); err != nil {
		return fmt.Errorf("failed to create document tables: %w", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("document already exists")
		case "23503": // foreign_key_violation
			return fmt.Errorf("referenced record not found")
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

func (r *Repository) CreateDocument(ctx context.Context, doc *simplegrid.Document) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return r.handlePostgresError("create document", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (id, kind, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		doc.ID, doc.Kind, doc.Title, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("create document", err)
	}
	if err := writeAttachments(ctx, tx, doc); err != nil {
		return r.handlePostgresError("create document", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return r.handlePostgresError("create document", err)
	}
	return nil
}

func (r *Repository) GetDocument(ctx context.Context, id uuid.UUID) (*simplegrid.Document, error) {
	var doc simplegrid.Document
	err := r.db.QueryRow(ctx, `
		SELECT id, kind, title, created_at, updated_at
		FROM documents WHERE id = $1`, id).Scan(
		&doc.ID, &doc.Kind, &doc.Title, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simplegrid.ErrDocumentNotFound
		}
		return nil, r.handlePostgresError("get document", err)
	}
	if err := r.loadAttachments(ctx, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *Repository) UpdateDocument(ctx context.Context, doc *simplegrid.Document) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return r.handlePostgresError("update document", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE documents SET kind = $2, title = $3, updated_at = $4
		WHERE id = $1`,
		doc.ID, doc.Kind, doc.Title, doc.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("update document", err)
	}
	if tag.RowsAffected() == 0 {
		return simplegrid.ErrDocumentNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM document_attachments WHERE document_id = $1`, doc.ID); err != nil {
		return r.handlePostgresError("update document", err)
	}
	if err := writeAttachments(ctx, tx, doc); err != nil {
		return r.handlePostgresError("update document", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return r.handlePostgresError("update document", err)
	}
	return nil
}

func (r *Repository) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete document", err)
	}
	if tag.RowsAffected() == 0 {
		return simplegrid.ErrDocumentNotFound
	}
	return nil
}

func (r *Repository) ListDocuments(ctx context.Context, kind string) ([]*simplegrid.Document, error) {
	query := `
		SELECT id, kind, title, created_at, updated_at
		FROM documents WHERE ($1 = '' OR kind = $1)
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, kind)
	if err != nil {
		return nil, r.handlePostgresError("list documents", err)
	}
	defer rows.Close()

	var docs []*simplegrid.Document
	for rows.Next() {
		var doc simplegrid.Document
		if err := rows.Scan(&doc.ID, &doc.Kind, &doc.Title, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list documents", err)
	}

	for _, doc := range docs {
		if err := r.loadAttachments(ctx, doc); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func (r *Repository) loadAttachments(ctx context.Context, doc *simplegrid.Document) error {
	rows, err := r.db.Query(ctx, `
		SELECT slot, blob_id, name, size, content_type
		FROM document_attachments WHERE document_id = $1`, doc.ID)
	if err != nil {
		return r.handlePostgresError("load attachments", err)
	}
	defer rows.Close()

	doc.Attachments = simplegrid.Attachments{}
	for rows.Next() {
		var slot string
		var md simplegrid.AttachmentMetadata
		if err := rows.Scan(&slot, &md.ID, &md.Name, &md.Size, &md.ContentType); err != nil {
			return err
		}
		doc.Attachments[slot] = md
	}
	return rows.Err()
}

func writeAttachments(ctx context.Context, tx pgx.Tx, doc *simplegrid.Document) error {
	for slot, md := range doc.Attachments {
		if md.IsZero() {
			continue
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO document_attachments (document_id, slot, blob_id, name, size, content_type)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			doc.ID, slot, md.ID, md.Name, md.Size, md.ContentType)
		if err != nil {
			return err
		}
	}
	return nil
}
