package simplegrid_test

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/simple-grid/pkg/simplegrid"
	memorystorage "github.com/tendant/simple-grid/pkg/simplegrid/storage/memory"
)

// recordingStore wraps the memory backend, counts calls and can fail them.
type recordingStore struct {
	*memorystorage.Backend

	mu        sync.Mutex
	puts      []uuid.UUID
	deletes   []uuid.UUID
	failPut   map[uuid.UUID]error
	failAll   error
	putBodies map[uuid.UUID]string

	// landThenFail stores the blob and still reports the error
	landThenFail map[uuid.UUID]error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		Backend:      memorystorage.New(),
		failPut:      map[uuid.UUID]error{},
		landThenFail: map[uuid.UUID]error{},
		putBodies:    map[uuid.UUID]string{},
	}
}

func (s *recordingStore) Put(ctx context.Context, r io.Reader, params simplegrid.PutParams) (uuid.UUID, error) {
	s.mu.Lock()
	s.puts = append(s.puts, params.ID)
	err := s.failPut[params.ID]
	if err == nil {
		err = s.failAll
	}
	s.mu.Unlock()
	if err != nil {
		// drain like a store that fails mid-upload
		_, _ = io.Copy(io.Discard, r)
		return uuid.Nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return uuid.Nil, err
	}
	s.mu.Lock()
	s.putBodies[params.ID] = string(data)
	landErr := s.landThenFail[params.ID]
	s.mu.Unlock()
	id, err := s.Backend.Put(ctx, bytes.NewReader(data), params)
	if err == nil && landErr != nil {
		return uuid.Nil, landErr
	}
	return id, err
}

func (s *recordingStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	s.deletes = append(s.deletes, id)
	err := s.failAll
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Backend.Delete(ctx, id)
}

func (s *recordingStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.puts)
}

func (s *recordingStore) deleteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deletes)
}
