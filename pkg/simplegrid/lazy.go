package simplegrid

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultConnectTimeout bounds establishing a blob store connection.
const DefaultConnectTimeout = 5 * time.Second

// Dialer establishes a blob store connection. It may hand out a handle from
// an existing pool.
type Dialer func(ctx context.Context) (BlobStore, error)

// LazyStore is a BlobStore that dials its backend on first use and keeps the
// live handle for later calls. A failed dial is retried on the next call.
type LazyStore struct {
	dial    Dialer
	timeout time.Duration

	mu    sync.Mutex
	store BlobStore
}

// NewLazyStore creates a LazyStore. A non-positive timeout selects
// DefaultConnectTimeout.
func NewLazyStore(dial Dialer, timeout time.Duration) *LazyStore {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &LazyStore{dial: dial, timeout: timeout}
}

// Connect returns the live store, dialing it if needed. Dial failures and
// timeouts are reported as *ConnectionError.
func (l *LazyStore) Connect(ctx context.Context) (BlobStore, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store != nil {
		return l.store, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	type result struct {
		store BlobStore
		err   error
	}
	done := make(chan result, 1)
	go func() {
		s, err := l.dial(dialCtx)
		done <- result{s, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, &ConnectionError{Err: res.err}
		}
		l.store = res.store
		return l.store, nil
	case <-dialCtx.Done():
		// a dial that completes after the deadline must not leak its handle
		go func() {
			if res := <-done; res.err == nil {
				if c, ok := res.store.(io.Closer); ok {
					c.Close()
				}
			}
		}()
		return nil, &ConnectionError{Err: dialCtx.Err()}
	}
}

// Put implements BlobStore.
func (l *LazyStore) Put(ctx context.Context, r io.Reader, params PutParams) (uuid.UUID, error) {
	s, err := l.Connect(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	return s.Put(ctx, r, params)
}

// Get implements BlobStore.
func (l *LazyStore) Get(ctx context.Context, id uuid.UUID) (*BlobHandle, error) {
	s, err := l.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete implements BlobStore.
func (l *LazyStore) Delete(ctx context.Context, id uuid.UUID) error {
	s, err := l.Connect(ctx)
	if err != nil {
		return err
	}
	return s.Delete(ctx, id)
}

// Close closes the live store if it holds resources.
func (l *LazyStore) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.store.(io.Closer); ok {
		l.store = nil
		return c.Close()
	}
	l.store = nil
	return nil
}
