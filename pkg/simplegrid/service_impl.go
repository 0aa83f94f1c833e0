package simplegrid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// service implements the Service interface
type service struct {
	repository Repository
	blobStore  BlobStore
	schemas    map[string]*Schema
	detect     MimeDetector
	logger     *slog.Logger
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore sets the blob store attachments are written to
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobStore = store
	}
}

// WithSchema registers the attachment slots of a document kind
func WithSchema(schema *Schema) Option {
	return func(s *service) {
		if s.schemas == nil {
			s.schemas = make(map[string]*Schema)
		}
		s.schemas[schema.EntityType()] = schema
	}
}

// WithServiceMimeDetector overrides content type detection for attachments
func WithServiceMimeDetector(detect MimeDetector) Option {
	return func(s *service) {
		s.detect = detect
	}
}

// WithLogger sets the logger used for commit failures
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		schemas: make(map[string]*Schema),
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.blobStore == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s, nil
}

// Schema operations

func (s *service) Schema(kind string) (*Schema, error) {
	schema, ok := s.schemas[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return schema, nil
}

func (s *service) Kinds() []string {
	kinds := make([]string, 0, len(s.schemas))
	for kind := range s.schemas {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Document operations

func (s *service) NewDocument(kind, title string) (*Document, error) {
	schema, err := s.Schema(kind)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	doc := &Document{
		ID:          uuid.New(),
		Kind:        kind,
		Title:       strings.TrimSpace(title),
		Attachments: Attachments{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.bind(schema, doc)
	return doc, nil
}

func (s *service) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	doc, err := s.repository.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.attach(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *service) ListDocuments(ctx context.Context, kind string) ([]*Document, error) {
	docs, err := s.repository.ListDocuments(ctx, kind)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if err := s.attach(doc); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// SaveDocument persists the document row, then writes and deletes the blobs
// staged since the last save. A failed blob commit leaves the remaining work
// queued on the document; calling SaveDocument again retries it.
func (s *service) SaveDocument(ctx context.Context, doc *Document) error {
	mgr, err := s.managerOf(doc)
	if err != nil {
		return err
	}

	doc.UpdatedAt = time.Now().UTC()
	if doc.stored {
		err = s.repository.UpdateDocument(ctx, doc)
	} else {
		err = s.repository.CreateDocument(ctx, doc)
	}
	if err != nil {
		return &DocumentError{DocumentID: doc.ID, Op: "save", Err: err}
	}
	doc.stored = true

	if err := mgr.CommitCreates(ctx); err != nil {
		s.logger.Error("Failed to commit attachment writes", "document_id", doc.ID, "pending", mgr.PendingCreates(), "error", err)
		return &DocumentError{DocumentID: doc.ID, Op: "commit_creates", Err: err}
	}
	if err := mgr.CommitDeletes(ctx); err != nil {
		s.logger.Error("Failed to commit attachment deletes", "document_id", doc.ID, "error", err)
		return &DocumentError{DocumentID: doc.ID, Op: "commit_deletes", Err: err}
	}
	return nil
}

// DestroyDocument deletes the document row and then every blob it
// references. It can be called again after a failed purge.
func (s *service) DestroyDocument(ctx context.Context, doc *Document) error {
	mgr, err := s.managerOf(doc)
	if err != nil {
		return err
	}

	if err := s.repository.DeleteDocument(ctx, doc.ID); err != nil && !errors.Is(err, ErrDocumentNotFound) {
		return &DocumentError{DocumentID: doc.ID, Op: "destroy", Err: err}
	}
	doc.stored = false

	if err := mgr.PurgeAll(ctx); err != nil {
		s.logger.Error("Failed to purge attachments", "document_id", doc.ID, "error", err)
		return &DocumentError{DocumentID: doc.ID, Op: "purge", Err: err}
	}
	return nil
}

// Attachment operations

// Attach releases the blob currently in slot and stages input in its place.
func (s *service) Attach(doc *Document, slot string, input FileInput) (AttachmentMetadata, error) {
	mgr, err := s.managerOf(doc)
	if err != nil {
		return AttachmentMetadata{}, err
	}
	if err := mgr.Clear(slot); err != nil {
		return AttachmentMetadata{}, err
	}
	return mgr.Assign(slot, input)
}

func (s *service) Detach(doc *Document, slot string) error {
	mgr, err := s.managerOf(doc)
	if err != nil {
		return err
	}
	return mgr.Clear(slot)
}

func (s *service) OpenAttachment(ctx context.Context, doc *Document, slot string) (*BlobHandle, error) {
	mgr, err := s.managerOf(doc)
	if err != nil {
		return nil, err
	}
	return mgr.Open(ctx, slot)
}

func (s *service) BlobStore() BlobStore {
	return s.blobStore
}

func (s *service) attach(doc *Document) error {
	schema, err := s.Schema(doc.Kind)
	if err != nil {
		return &DocumentError{DocumentID: doc.ID, Op: "load", Err: err}
	}
	if doc.Attachments == nil {
		doc.Attachments = Attachments{}
	}
	doc.stored = true
	s.bind(schema, doc)
	return nil
}

func (s *service) bind(schema *Schema, doc *Document) {
	var opts []ManagerOption
	if s.detect != nil {
		opts = append(opts, WithMimeDetector(s.detect))
	}
	doc.manager = NewManager(schema, doc, s.blobStore, opts...)
}

func (s *service) managerOf(doc *Document) (*Manager, error) {
	if doc == nil {
		return nil, errors.New("document is nil")
	}
	if doc.manager == nil {
		if err := s.attach(doc); err != nil {
			return nil, err
		}
		// A document that was never loaded through the service is new.
		doc.stored = false
	}
	return doc.manager, nil
}
