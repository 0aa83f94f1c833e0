package simplegrid

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Service defines the documents service: the persistence layer that owns
// attachment lifecycles and fires their commit hooks.
type Service interface {
	// Schema operations
	Schema(kind string) (*Schema, error)
	Kinds() []string

	// Document operations
	NewDocument(kind, title string) (*Document, error)
	GetDocument(ctx context.Context, id uuid.UUID) (*Document, error)
	ListDocuments(ctx context.Context, kind string) ([]*Document, error)
	SaveDocument(ctx context.Context, doc *Document) error
	DestroyDocument(ctx context.Context, doc *Document) error

	// Attachment operations, staged until SaveDocument
	Attach(doc *Document, slot string, input FileInput) (AttachmentMetadata, error)
	Detach(doc *Document, slot string) error
	OpenAttachment(ctx context.Context, doc *Document, slot string) (*BlobHandle, error)

	// BlobStore returns the store attachments are written to
	BlobStore() BlobStore
}

// Download copies the committed blob of slot to w.
func Download(ctx context.Context, svc Service, doc *Document, slot string, w io.Writer) (int64, error) {
	h, err := svc.OpenAttachment(ctx, doc, slot)
	if err != nil {
		return 0, err
	}
	defer h.Close()
	return io.Copy(w, h.Body)
}
