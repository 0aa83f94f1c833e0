package simplegrid_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-grid/pkg/simplegrid"
)

var photoSchema = simplegrid.MustSchema("photo", "image", "thumbnail", "original")

func newManager(t *testing.T) (*simplegrid.Manager, *simplegrid.Attachments, *recordingStore) {
	t.Helper()
	store := newRecordingStore()
	owner := &simplegrid.Attachments{}
	return simplegrid.NewManager(photoSchema, owner, store), owner, store
}

func readBlob(t *testing.T, store simplegrid.BlobStore, id uuid.UUID) (*simplegrid.BlobHandle, string) {
	t.Helper()
	h, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	defer h.Close()
	data, err := io.ReadAll(h.Body)
	require.NoError(t, err)
	return h, string(data)
}

func TestManagerAssign(t *testing.T) {
	t.Run("metadata is complete before any store call", func(t *testing.T) {
		mgr, owner, store := newManager(t)

		md, err := mgr.Assign("image", simplegrid.ByteStream{Name: "photo.png", Reader: strings.NewReader("png-bytes")})
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, md.ID)
		assert.Equal(t, "photo.png", md.Name)
		assert.Equal(t, int64(9), md.Size)
		assert.Equal(t, "image/png", md.ContentType)
		assert.Equal(t, md, owner.AttachmentMetadata("image"))
		assert.Equal(t, []string{"image"}, mgr.PendingCreates())
		assert.Equal(t, 0, store.putCount())
	})

	t.Run("explicit size wins over reader length", func(t *testing.T) {
		mgr, _, _ := newManager(t)
		md, err := mgr.Assign("image", simplegrid.ByteStream{Name: "a.jpg", Reader: strings.NewReader("abc"), Size: 42})
		require.NoError(t, err)
		assert.Equal(t, int64(42), md.Size)
	})

	t.Run("local path derives name and size from the file", func(t *testing.T) {
		mgr, _, _ := newManager(t)
		path := filepath.Join(t.TempDir(), "report.pdf")
		require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))

		md, err := mgr.Assign("original", &simplegrid.LocalPath{Path: path})
		require.NoError(t, err)
		assert.Equal(t, "report.pdf", md.Name)
		assert.Equal(t, int64(8), md.Size)
		assert.Equal(t, "application/pdf", md.ContentType)
	})

	t.Run("unknown extension falls back to octet-stream", func(t *testing.T) {
		mgr, _, _ := newManager(t)
		md, err := mgr.Assign("image", simplegrid.ByteStream{Name: "blob.unknownext", Reader: strings.NewReader("x")})
		require.NoError(t, err)
		assert.Equal(t, simplegrid.DefaultContentType, md.ContentType)
	})

	t.Run("custom detector", func(t *testing.T) {
		store := newRecordingStore()
		owner := &simplegrid.Attachments{}
		mgr := simplegrid.NewManager(photoSchema, owner, store,
			simplegrid.WithMimeDetector(func(string) string { return "image/x-custom" }))

		md, err := mgr.Assign("image", simplegrid.ByteStream{Name: "a.png", Reader: strings.NewReader("x")})
		require.NoError(t, err)
		assert.Equal(t, "image/x-custom", md.ContentType)
	})

	t.Run("rejects unknown slot and bad input", func(t *testing.T) {
		mgr, owner, _ := newManager(t)

		_, err := mgr.Assign("avatar", simplegrid.ByteStream{Name: "a.png", Reader: strings.NewReader("x")})
		assert.ErrorIs(t, err, simplegrid.ErrUnknownSlot)

		_, err = mgr.Assign("image", simplegrid.ByteStream{Reader: strings.NewReader("x")})
		assert.ErrorIs(t, err, simplegrid.ErrInvalidInput)

		_, err = mgr.Assign("image", simplegrid.ByteStream{Name: "a.png"})
		assert.ErrorIs(t, err, simplegrid.ErrInvalidInput)

		_, err = mgr.Assign("image", simplegrid.LocalPath{Path: filepath.Join(t.TempDir(), "missing.png")})
		assert.ErrorIs(t, err, simplegrid.ErrInvalidInput)

		assert.True(t, owner.AttachmentMetadata("image").IsZero())
		assert.False(t, mgr.HasPending())
	})
}

func TestManagerCommitCreates(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		mgr, _, store := newManager(t)
		md, err := mgr.Assign("image", simplegrid.ByteStream{Name: "photo.png", Reader: strings.NewReader("png-bytes")})
		require.NoError(t, err)

		require.NoError(t, mgr.CommitCreates(ctx))
		assert.Empty(t, mgr.PendingCreates())

		h, body := readBlob(t, store, md.ID)
		assert.Equal(t, "png-bytes", body)
		assert.Equal(t, "image/png", h.ContentType)
		assert.Equal(t, "photo.png", h.Filename)
	})

	t.Run("reassignment discards the stale create", func(t *testing.T) {
		mgr, owner, store := newManager(t)
		a, err := mgr.Assign("image", simplegrid.ByteStream{Name: "a.png", Reader: strings.NewReader("A")})
		require.NoError(t, err)
		b, err := mgr.Assign("image", simplegrid.ByteStream{Name: "b.png", Reader: strings.NewReader("B")})
		require.NoError(t, err)

		require.NoError(t, mgr.CommitCreates(ctx))

		assert.Equal(t, 1, store.putCount())
		assert.Equal(t, 1, store.Len())
		assert.Equal(t, b, owner.AttachmentMetadata("image"))
		_, body := readBlob(t, store, b.ID)
		assert.Equal(t, "B", body)
		_, err = store.Get(ctx, a.ID)
		assert.ErrorIs(t, err, simplegrid.ErrBlobNotFound)
	})

	t.Run("failure keeps the entry and later ones queued", func(t *testing.T) {
		mgr, _, store := newManager(t)
		img, err := mgr.Assign("image", simplegrid.ByteStream{Name: "a.png", Reader: strings.NewReader("image-data")})
		require.NoError(t, err)
		thumb, err := mgr.Assign("thumbnail", simplegrid.ByteStream{Name: "t.png", Reader: strings.NewReader("thumb-data")})
		require.NoError(t, err)

		store.failPut[img.ID] = errors.New("connection reset")
		err = mgr.CommitCreates(ctx)
		require.Error(t, err)
		assert.Equal(t, []string{"image", "thumbnail"}, mgr.PendingCreates())
		assert.Equal(t, 0, store.Len())

		delete(store.failPut, img.ID)
		require.NoError(t, mgr.CommitCreates(ctx))
		assert.Empty(t, mgr.PendingCreates())

		// the first attempt consumed the reader; the retry rewinds it
		_, body := readBlob(t, store, img.ID)
		assert.Equal(t, "image-data", body)
		_, body = readBlob(t, store, thumb.ID)
		assert.Equal(t, "thumb-data", body)
	})

	t.Run("a blob that already landed counts as written", func(t *testing.T) {
		mgr, _, store := newManager(t)
		md, err := mgr.Assign("image", simplegrid.ByteStream{Name: "a.png", Reader: strings.NewReader("x")})
		require.NoError(t, err)

		_, err = store.Backend.Put(ctx, strings.NewReader("x"), simplegrid.PutParams{ID: md.ID, Filename: "a.png"})
		require.NoError(t, err)

		require.NoError(t, mgr.CommitCreates(ctx))
		assert.False(t, mgr.HasPending())
	})

	t.Run("empty queue is a no-op", func(t *testing.T) {
		mgr, _, store := newManager(t)
		require.NoError(t, mgr.CommitCreates(ctx))
		assert.Equal(t, 0, store.putCount())
	})
}

func TestManagerClear(t *testing.T) {
	ctx := context.Background()

	t.Run("pending create is dropped and its id still deleted", func(t *testing.T) {
		mgr, owner, store := newManager(t)
		md, err := mgr.Assign("image", simplegrid.ByteStream{Name: "a.png", Reader: strings.NewReader("A")})
		require.NoError(t, err)

		require.NoError(t, mgr.Clear("image"))
		assert.True(t, owner.AttachmentMetadata("image").IsZero())
		assert.Empty(t, mgr.PendingCreates())
		assert.Equal(t, []uuid.UUID{md.ID}, mgr.PendingDeletes())

		require.NoError(t, mgr.CommitCreates(ctx))
		require.NoError(t, mgr.CommitDeletes(ctx))
		assert.Equal(t, 0, store.putCount())
		assert.Equal(t, 1, store.deleteCount())
		assert.False(t, mgr.HasPending())
	})

	t.Run("write that landed before failing is deleted", func(t *testing.T) {
		mgr, _, store := newManager(t)
		md, err := mgr.Assign("image", simplegrid.ByteStream{Name: "a.png", Reader: strings.NewReader("A")})
		require.NoError(t, err)
		store.landThenFail[md.ID] = errors.New("read tcp: connection reset by peer")

		require.Error(t, mgr.CommitCreates(ctx))
		require.Equal(t, 1, store.Len())

		require.NoError(t, mgr.Clear("image"))
		require.NoError(t, mgr.CommitDeletes(ctx))
		assert.Equal(t, 0, store.Len())
		assert.False(t, mgr.HasPending())
	})

	t.Run("committed blob is queued for deletion", func(t *testing.T) {
		mgr, owner, store := newManager(t)
		md, err := mgr.Assign("image", simplegrid.ByteStream{Name: "a.png", Reader: strings.NewReader("A")})
		require.NoError(t, err)
		require.NoError(t, mgr.CommitCreates(ctx))

		require.NoError(t, mgr.Clear("image"))
		assert.True(t, owner.AttachmentMetadata("image").IsZero())
		assert.Equal(t, []uuid.UUID{md.ID}, mgr.PendingDeletes())

		require.NoError(t, mgr.CommitDeletes(ctx))
		assert.Empty(t, mgr.PendingDeletes())
		_, err = store.Get(ctx, md.ID)
		assert.ErrorIs(t, err, simplegrid.ErrBlobNotFound)
	})

	t.Run("replacing a committed blob", func(t *testing.T) {
		mgr, owner, store := newManager(t)
		old, err := mgr.Assign("image", simplegrid.ByteStream{Name: "old.png", Reader: strings.NewReader("old")})
		require.NoError(t, err)
		require.NoError(t, mgr.CommitCreates(ctx))

		require.NoError(t, mgr.Clear("image"))
		md, err := mgr.Assign("image", simplegrid.ByteStream{Name: "new.png", Reader: strings.NewReader("new")})
		require.NoError(t, err)
		require.NoError(t, mgr.CommitCreates(ctx))
		require.NoError(t, mgr.CommitDeletes(ctx))

		assert.Equal(t, md, owner.AttachmentMetadata("image"))
		assert.Equal(t, []uuid.UUID{md.ID}, store.IDs())
		_, err = store.Get(ctx, old.ID)
		assert.ErrorIs(t, err, simplegrid.ErrBlobNotFound)
	})

	t.Run("same id is queued once", func(t *testing.T) {
		mgr, owner, _ := newManager(t)
		id := uuid.New()
		md := simplegrid.AttachmentMetadata{ID: id, Name: "a.png", Size: 1, ContentType: "image/png"}

		owner.SetAttachmentMetadata("image", md)
		require.NoError(t, mgr.Clear("image"))
		owner.SetAttachmentMetadata("image", md)
		require.NoError(t, mgr.Clear("image"))

		assert.Equal(t, []uuid.UUID{id}, mgr.PendingDeletes())
	})

	t.Run("empty slot and unknown slot", func(t *testing.T) {
		mgr, _, _ := newManager(t)
		require.NoError(t, mgr.Clear("image"))
		assert.False(t, mgr.HasPending())
		assert.ErrorIs(t, mgr.Clear("avatar"), simplegrid.ErrUnknownSlot)
	})
}

func TestManagerCommitDeletes(t *testing.T) {
	ctx := context.Background()

	t.Run("missing blob counts as deleted", func(t *testing.T) {
		mgr, owner, store := newManager(t)
		owner.SetAttachmentMetadata("image", simplegrid.AttachmentMetadata{ID: uuid.New(), Name: "gone.png"})
		require.NoError(t, mgr.Clear("image"))

		require.NoError(t, mgr.CommitDeletes(ctx))
		assert.Empty(t, mgr.PendingDeletes())
		assert.Equal(t, 1, store.deleteCount())

		require.NoError(t, mgr.CommitDeletes(ctx))
		assert.Equal(t, 1, store.deleteCount())
	})

	t.Run("store failure keeps the entry queued", func(t *testing.T) {
		mgr, _, store := newManager(t)
		md, err := mgr.Assign("image", simplegrid.ByteStream{Name: "a.png", Reader: strings.NewReader("A")})
		require.NoError(t, err)
		require.NoError(t, mgr.CommitCreates(ctx))
		require.NoError(t, mgr.Clear("image"))

		store.failAll = &simplegrid.ConnectionError{Err: errors.New("dial tcp: connection refused")}
		err = mgr.CommitDeletes(ctx)
		require.Error(t, err)
		assert.True(t, simplegrid.IsConnectionError(err))
		assert.Equal(t, []uuid.UUID{md.ID}, mgr.PendingDeletes())

		store.failAll = nil
		require.NoError(t, mgr.CommitDeletes(ctx))
		assert.Empty(t, mgr.PendingDeletes())
		assert.Equal(t, 0, store.Len())
	})
}

func TestManagerPurgeAll(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes one blob per populated slot", func(t *testing.T) {
		mgr, owner, store := newManager(t)
		_, err := mgr.Assign("image", simplegrid.ByteStream{Name: "a.png", Reader: strings.NewReader("A")})
		require.NoError(t, err)
		_, err = mgr.Assign("original", simplegrid.ByteStream{Name: "a.tiff", Reader: strings.NewReader("AAAA")})
		require.NoError(t, err)
		require.NoError(t, mgr.CommitCreates(ctx))
		require.Equal(t, 2, store.Len())

		require.NoError(t, mgr.PurgeAll(ctx))

		assert.Equal(t, 2, store.deleteCount())
		assert.Equal(t, 0, store.Len())
		for _, slot := range photoSchema.Slots() {
			assert.True(t, owner.AttachmentMetadata(slot).IsZero(), slot)
		}
		assert.False(t, mgr.HasPending())
	})

	t.Run("uncommitted slot is deleted too", func(t *testing.T) {
		mgr, _, store := newManager(t)
		_, err := mgr.Assign("image", simplegrid.ByteStream{Name: "a.png", Reader: strings.NewReader("A")})
		require.NoError(t, err)
		require.NoError(t, mgr.CommitCreates(ctx))
		_, err = mgr.Assign("thumbnail", simplegrid.ByteStream{Name: "t.png", Reader: strings.NewReader("T")})
		require.NoError(t, err)

		require.NoError(t, mgr.PurgeAll(ctx))
		assert.Equal(t, 2, store.deleteCount())
		assert.Equal(t, 0, store.Len())
		assert.False(t, mgr.HasPending())
	})

	t.Run("blob from a failed commit does not outlive the owner", func(t *testing.T) {
		mgr, owner, store := newManager(t)
		md, err := mgr.Assign("original", simplegrid.ByteStream{Name: "raw.tiff", Reader: strings.NewReader("RAW")})
		require.NoError(t, err)
		store.landThenFail[md.ID] = errors.New("read tcp: connection reset by peer")

		require.Error(t, mgr.CommitCreates(ctx))
		require.Equal(t, 1, store.Len())

		require.NoError(t, mgr.PurgeAll(ctx))
		assert.Equal(t, 1, store.deleteCount())
		assert.Equal(t, 0, store.Len())
		assert.True(t, owner.AttachmentMetadata("original").IsZero())
		assert.False(t, mgr.HasPending())
	})
}

func TestManagerOpen(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newManager(t)

	_, err := mgr.Open(ctx, "image")
	assert.ErrorIs(t, err, simplegrid.ErrBlobNotFound)

	_, err = mgr.Open(ctx, "avatar")
	assert.ErrorIs(t, err, simplegrid.ErrUnknownSlot)

	_, err = mgr.Assign("image", simplegrid.ByteStream{Name: "a.png", Reader: strings.NewReader("A")})
	require.NoError(t, err)
	require.NoError(t, mgr.CommitCreates(ctx))

	h, err := mgr.Open(ctx, "image")
	require.NoError(t, err)
	defer h.Close()
	data, err := io.ReadAll(h.Body)
	require.NoError(t, err)
	assert.Equal(t, "A", string(data))
}
