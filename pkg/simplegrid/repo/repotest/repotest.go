// Package repotest checks Repository implementations.
package repotest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-grid/pkg/simplegrid"
)

func newDocument(kind, title string, created time.Time) *simplegrid.Document {
	return &simplegrid.Document{
		ID:          uuid.New(),
		Kind:        kind,
		Title:       title,
		Attachments: simplegrid.Attachments{},
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

// Run exercises repo with the standard cases. kind isolates the documents
// a run creates from earlier runs against the same database.
func Run(t *testing.T, repo simplegrid.Repository, kind string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("CreateAndGet", func(t *testing.T) {
		doc := newDocument(kind, "with attachments", now)
		doc.Attachments["file"] = simplegrid.AttachmentMetadata{ID: uuid.New(), Name: "a.pdf", Size: 12, ContentType: "application/pdf"}
		require.NoError(t, repo.CreateDocument(ctx, doc))

		got, err := repo.GetDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, doc.ID, got.ID)
		assert.Equal(t, kind, got.Kind)
		assert.Equal(t, "with attachments", got.Title)
		assert.Equal(t, doc.Attachments, got.Attachments)
		assert.True(t, doc.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("UpdateReplacesAttachments", func(t *testing.T) {
		doc := newDocument(kind, "before", now)
		doc.Attachments["file"] = simplegrid.AttachmentMetadata{ID: uuid.New(), Name: "a.pdf", Size: 1, ContentType: "application/pdf"}
		require.NoError(t, repo.CreateDocument(ctx, doc))

		doc.Title = "after"
		thumb := simplegrid.AttachmentMetadata{ID: uuid.New(), Name: "t.png", Size: 2, ContentType: "image/png"}
		doc.Attachments = simplegrid.Attachments{"thumbnail": thumb}
		require.NoError(t, repo.UpdateDocument(ctx, doc))

		got, err := repo.GetDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, "after", got.Title)
		assert.Equal(t, simplegrid.Attachments{"thumbnail": thumb}, got.Attachments)
	})

	t.Run("Delete", func(t *testing.T) {
		doc := newDocument(kind, "doomed", now)
		require.NoError(t, repo.CreateDocument(ctx, doc))

		require.NoError(t, repo.DeleteDocument(ctx, doc.ID))
		_, err := repo.GetDocument(ctx, doc.ID)
		assert.ErrorIs(t, err, simplegrid.ErrDocumentNotFound)
		assert.ErrorIs(t, repo.DeleteDocument(ctx, doc.ID), simplegrid.ErrDocumentNotFound)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetDocument(ctx, uuid.New())
		assert.ErrorIs(t, err, simplegrid.ErrDocumentNotFound)
		assert.ErrorIs(t, repo.UpdateDocument(ctx, newDocument(kind, "ghost", now)), simplegrid.ErrDocumentNotFound)
	})

	t.Run("ListByKind", func(t *testing.T) {
		listKind := kind + "-list"
		older := newDocument(listKind, "older", now.Add(-time.Hour))
		newer := newDocument(listKind, "newer", now)
		require.NoError(t, repo.CreateDocument(ctx, newer))
		require.NoError(t, repo.CreateDocument(ctx, older))

		docs, err := repo.ListDocuments(ctx, listKind)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, older.ID, docs[0].ID)
		assert.Equal(t, newer.ID, docs[1].ID)
	})
}
