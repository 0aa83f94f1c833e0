package simplegrid

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// BlobStore defines the interface for blob storage backends.
// Implementations must be safe for concurrent use.
type BlobStore interface {
	// Put stores the content read from r under params.ID (a new id is
	// generated when params.ID is uuid.Nil) and returns the stored id.
	Put(ctx context.Context, r io.Reader, params PutParams) (uuid.UUID, error)

	// Get returns the blob with its metadata and an open body.
	// A missing id yields an error matching ErrBlobNotFound.
	Get(ctx context.Context, id uuid.UUID) (*BlobHandle, error)

	// Delete removes the blob. A missing id may yield ErrBlobNotFound,
	// which callers treat as already deleted.
	Delete(ctx context.Context, id uuid.UUID) error
}

// Attachable is implemented by entities that own attachment slots.
type Attachable interface {
	AttachmentMetadata(slot string) AttachmentMetadata
	SetAttachmentMetadata(slot string, md AttachmentMetadata)
}

// Repository defines the interface for document persistence
type Repository interface {
	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*Document, error)
	UpdateDocument(ctx context.Context, doc *Document) error
	DeleteDocument(ctx context.Context, id uuid.UUID) error
	ListDocuments(ctx context.Context, kind string) ([]*Document, error)
}

// MimeDetector resolves a content type from a filename.
// An empty result means the type is unknown.
type MimeDetector func(filename string) string
