package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/simple-grid/pkg/simplegrid"
)

// Repository implements simplegrid.Repository using in-memory storage
type Repository struct {
	mu        sync.RWMutex
	documents map[uuid.UUID]*simplegrid.Document
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		documents: make(map[uuid.UUID]*simplegrid.Document),
	}
}

func (r *Repository) CreateDocument(ctx context.Context, doc *simplegrid.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.documents[doc.ID]; exists {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	r.documents[doc.ID] = doc.Clone()
	return nil
}

func (r *Repository) GetDocument(ctx context.Context, id uuid.UUID) (*simplegrid.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, exists := r.documents[id]
	if !exists {
		return nil, simplegrid.ErrDocumentNotFound
	}
	return doc.Clone(), nil
}

func (r *Repository) UpdateDocument(ctx context.Context, doc *simplegrid.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.documents[doc.ID]; !exists {
		return simplegrid.ErrDocumentNotFound
	}
	r.documents[doc.ID] = doc.Clone()
	return nil
}

func (r *Repository) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.documents[id]; !exists {
		return simplegrid.ErrDocumentNotFound
	}
	delete(r.documents, id)
	return nil
}

// ListDocuments returns documents of kind, or all documents when kind is
// empty, oldest first.
func (r *Repository) ListDocuments(ctx context.Context, kind string) ([]*simplegrid.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var docs []*simplegrid.Document
	for _, doc := range r.documents {
		if kind != "" && doc.Kind != kind {
			continue
		}
		docs = append(docs, doc.Clone())
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID.String() < docs[j].ID.String()
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs, nil
}
