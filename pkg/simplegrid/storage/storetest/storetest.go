// Package storetest checks that a BlobStore implementation honors the
// contract the lifecycle manager and the gateway rely on.
package storetest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-grid/pkg/simplegrid"
)

// Run exercises store with the standard conformance cases.
func Run(t *testing.T, store simplegrid.BlobStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		for _, tc := range []struct {
			filename    string
			contentType string
			data        []byte
		}{
			{"hello.txt", "text/plain", []byte("Hello, World!")},
			{"empty.bin", "application/octet-stream", []byte{}},
			{"binary.png", "image/png", bytes.Repeat([]byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0xff}, 50_000)},
		} {
			t.Run(tc.filename, func(t *testing.T) {
				id := uuid.New()
				got, err := store.Put(ctx, bytes.NewReader(tc.data), simplegrid.PutParams{
					ID:          id,
					Filename:    tc.filename,
					ContentType: tc.contentType,
					Size:        int64(len(tc.data)),
				})
				require.NoError(t, err)
				assert.Equal(t, id, got)

				h, err := store.Get(ctx, id)
				require.NoError(t, err)
				defer h.Close()

				data, err := io.ReadAll(h.Body)
				require.NoError(t, err)
				assert.True(t, bytes.Equal(tc.data, data), "content differs")
				assert.Equal(t, id, h.ID)
				assert.Equal(t, tc.filename, h.Filename)
				assert.Equal(t, tc.contentType, h.ContentType)
				assert.Equal(t, int64(len(tc.data)), h.Size)
				assert.WithinDuration(t, time.Now(), h.UploadDate, time.Minute)
				assert.NotEmpty(t, h.Checksum)
			})
		}
	})

	t.Run("ChecksumIsMD5", func(t *testing.T) {
		data := "checksum me"
		id := uuid.New()
		_, err := store.Put(ctx, strings.NewReader(data), simplegrid.PutParams{ID: id, Filename: "c.txt", ContentType: "text/plain"})
		require.NoError(t, err)

		h, err := store.Get(ctx, id)
		require.NoError(t, err)
		defer h.Close()

		sum := md5.Sum([]byte(data))
		assert.Equal(t, hex.EncodeToString(sum[:]), h.Checksum)
	})

	t.Run("DefaultContentType", func(t *testing.T) {
		id := uuid.New()
		_, err := store.Put(ctx, strings.NewReader("x"), simplegrid.PutParams{ID: id, Filename: "x"})
		require.NoError(t, err)

		h, err := store.Get(ctx, id)
		require.NoError(t, err)
		defer h.Close()
		assert.Equal(t, simplegrid.DefaultContentType, h.ContentType)
	})

	t.Run("DuplicateID", func(t *testing.T) {
		id := uuid.New()
		_, err := store.Put(ctx, strings.NewReader("first"), simplegrid.PutParams{ID: id, Filename: "a.txt"})
		require.NoError(t, err)

		_, err = store.Put(ctx, strings.NewReader("second"), simplegrid.PutParams{ID: id, Filename: "a.txt"})
		assert.ErrorIs(t, err, simplegrid.ErrBlobExists)

		h, err := store.Get(ctx, id)
		require.NoError(t, err)
		defer h.Close()
		data, err := io.ReadAll(h.Body)
		require.NoError(t, err)
		assert.Equal(t, "first", string(data))
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := store.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, simplegrid.ErrBlobNotFound)
		assert.True(t, simplegrid.IsNotFound(err))

		// stores that cannot tell a missing key apart may report success
		if err := store.Delete(ctx, uuid.New()); err != nil {
			assert.ErrorIs(t, err, simplegrid.ErrBlobNotFound)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		id := uuid.New()
		_, err := store.Put(ctx, strings.NewReader("bye"), simplegrid.PutParams{ID: id, Filename: "bye.txt"})
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, id))
		_, err = store.Get(ctx, id)
		assert.ErrorIs(t, err, simplegrid.ErrBlobNotFound)
		if err := store.Delete(ctx, id); err != nil {
			assert.ErrorIs(t, err, simplegrid.ErrBlobNotFound)
		}
	})

	t.Run("Concurrent", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id := uuid.New()
				if _, err := store.Put(ctx, strings.NewReader(id.String()), simplegrid.PutParams{ID: id, Filename: "c.txt"}); err != nil {
					t.Errorf("put: %v", err)
					return
				}
				h, err := store.Get(ctx, id)
				if err != nil {
					t.Errorf("get: %v", err)
					return
				}
				defer h.Close()
				data, _ := io.ReadAll(h.Body)
				assert.Equal(t, id.String(), string(data))
			}()
		}
		wg.Wait()
	})
}
