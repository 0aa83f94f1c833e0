package simplegrid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

type pendingCreate struct {
	slot  string
	meta  AttachmentMetadata
	input FileInput
}

type pendingDelete struct {
	slot string
	id   uuid.UUID
}

// Manager stages attachment blob writes and deletes for one entity instance
// and commits them when the persistence layer says so. It is owned by that
// entity and is not safe for concurrent use.
type Manager struct {
	schema *Schema
	owner  Attachable
	store  BlobStore
	detect MimeDetector

	creates []pendingCreate
	deletes []pendingDelete
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithMimeDetector overrides the filename based content type detector.
func WithMimeDetector(detect MimeDetector) ManagerOption {
	return func(m *Manager) {
		if detect != nil {
			m.detect = detect
		}
	}
}

// NewManager creates the lifecycle manager of owner, whose slots are
// declared by schema.
func NewManager(schema *Schema, owner Attachable, store BlobStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		schema: schema,
		owner:  owner,
		store:  store,
		detect: DetectContentType,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Schema returns the slot table the manager enforces.
func (m *Manager) Schema() *Schema {
	return m.schema
}

// Assign gives slot a new blob read from input. The slot metadata is written
// on the owner immediately and the blob write is queued for CommitCreates.
// An id the slot held before is not queued for deletion; call Clear first to
// release it. Reassigning a slot whose create is still queued replaces that
// create.
func (m *Manager) Assign(slot string, input FileInput) (AttachmentMetadata, error) {
	if !m.schema.HasSlot(slot) {
		return AttachmentMetadata{}, fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}
	name, size, err := describeInput(input)
	if err != nil {
		return AttachmentMetadata{}, err
	}
	contentType := m.detect(name)
	if contentType == "" {
		contentType = DefaultContentType
	}

	md := AttachmentMetadata{
		ID:          uuid.New(),
		Name:        name,
		Size:        size,
		ContentType: contentType,
	}
	m.owner.SetAttachmentMetadata(slot, md)

	if i := m.createIndex(slot); i >= 0 {
		m.creates = append(m.creates[:i], m.creates[i+1:]...)
	}
	m.creates = append(m.creates, pendingCreate{slot: slot, meta: md, input: input})
	return md, nil
}

// Clear empties slot and queues its id for CommitDeletes. A create still
// queued for that id is dropped, but the delete is queued anyway: a failed
// write may have landed in the store, and deleting an absent blob succeeds.
func (m *Manager) Clear(slot string) error {
	if !m.schema.HasSlot(slot) {
		return fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}
	md := m.owner.AttachmentMetadata(slot)
	if !md.IsZero() {
		if i := m.createIndex(slot); i >= 0 && m.creates[i].meta.ID == md.ID {
			m.creates = append(m.creates[:i], m.creates[i+1:]...)
		}
		m.queueDelete(slot, md.ID)
	}
	m.owner.SetAttachmentMetadata(slot, AttachmentMetadata{})
	return nil
}

// CommitCreates writes every queued blob under the id already present in the
// slot metadata. Entries leave the queue only after the store confirms the
// write; on failure the failed entry and those after it stay queued.
func (m *Manager) CommitCreates(ctx context.Context) error {
	for len(m.creates) > 0 {
		pc := m.creates[0]
		if err := m.writeBlob(ctx, pc); err != nil {
			return fmt.Errorf("failed to commit attachment %s: %w", pc.slot, err)
		}
		m.creates = m.creates[1:]
	}
	m.creates = nil
	return nil
}

// CommitDeletes removes every queued blob. A blob already absent from the
// store counts as deleted.
func (m *Manager) CommitDeletes(ctx context.Context) error {
	for len(m.deletes) > 0 {
		pd := m.deletes[0]
		if err := m.store.Delete(ctx, pd.id); err != nil && !IsNotFound(err) {
			return fmt.Errorf("failed to delete attachment %s (%s): %w", pd.slot, pd.id, err)
		}
		m.deletes = m.deletes[1:]
	}
	m.deletes = nil
	return nil
}

// PurgeAll clears every declared slot and commits the deletes. Called after
// the owner is destroyed so no blob outlives it.
func (m *Manager) PurgeAll(ctx context.Context) error {
	for _, slot := range m.schema.slots {
		if err := m.Clear(slot); err != nil {
			return err
		}
	}
	return m.CommitDeletes(ctx)
}

// Open fetches the committed blob of slot. The caller must close the handle.
func (m *Manager) Open(ctx context.Context, slot string) (*BlobHandle, error) {
	if !m.schema.HasSlot(slot) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}
	md := m.owner.AttachmentMetadata(slot)
	if md.IsZero() {
		return nil, ErrBlobNotFound
	}
	return m.store.Get(ctx, md.ID)
}

// PendingCreates returns the slots with a queued blob write.
func (m *Manager) PendingCreates() []string {
	slots := make([]string, 0, len(m.creates))
	for _, pc := range m.creates {
		slots = append(slots, pc.slot)
	}
	return slots
}

// PendingDeletes returns the blob ids queued for deletion.
func (m *Manager) PendingDeletes() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m.deletes))
	for _, pd := range m.deletes {
		ids = append(ids, pd.id)
	}
	return ids
}

// HasPending reports whether any write or delete is queued.
func (m *Manager) HasPending() bool {
	return len(m.creates) > 0 || len(m.deletes) > 0
}

func (m *Manager) createIndex(slot string) int {
	for i, pc := range m.creates {
		if pc.slot == slot {
			return i
		}
	}
	return -1
}

func (m *Manager) queueDelete(slot string, id uuid.UUID) {
	for _, pd := range m.deletes {
		if pd.id == id {
			return
		}
	}
	m.deletes = append(m.deletes, pendingDelete{slot: slot, id: id})
}

func (m *Manager) writeBlob(ctx context.Context, pc pendingCreate) error {
	rc, err := openInput(pc.input)
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = m.store.Put(ctx, rc, PutParams{
		ID:          pc.meta.ID,
		Filename:    pc.meta.Name,
		ContentType: pc.meta.ContentType,
		Size:        pc.meta.Size,
	})
	// An earlier attempt may have landed even though it reported failure.
	if errors.Is(err, ErrBlobExists) {
		return nil
	}
	return err
}

type lener interface {
	Len() int
}

func describeInput(input FileInput) (string, int64, error) {
	switch in := input.(type) {
	case ByteStream:
		if in.Reader == nil {
			return "", 0, fmt.Errorf("%w: byte stream has no reader", ErrInvalidInput)
		}
		if in.Name == "" {
			return "", 0, fmt.Errorf("%w: byte stream has no filename", ErrInvalidInput)
		}
		if in.Size < 0 {
			return "", 0, fmt.Errorf("%w: negative size %d", ErrInvalidInput, in.Size)
		}
		size := in.Size
		if size == 0 {
			if l, ok := in.Reader.(lener); ok {
				size = int64(l.Len())
			}
		}
		return in.Name, size, nil
	case *ByteStream:
		if in == nil {
			return "", 0, fmt.Errorf("%w: nil byte stream", ErrInvalidInput)
		}
		return describeInput(*in)
	case LocalPath:
		if in.Path == "" {
			return "", 0, fmt.Errorf("%w: empty path", ErrInvalidInput)
		}
		info, err := os.Stat(in.Path)
		if err != nil {
			return "", 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if info.IsDir() {
			return "", 0, fmt.Errorf("%w: %s is a directory", ErrInvalidInput, in.Path)
		}
		return filepath.Base(in.Path), info.Size(), nil
	case *LocalPath:
		if in == nil {
			return "", 0, fmt.Errorf("%w: nil path", ErrInvalidInput)
		}
		return describeInput(*in)
	default:
		return "", 0, fmt.Errorf("%w: unsupported input %T", ErrInvalidInput, input)
	}
}

func openInput(input FileInput) (io.ReadCloser, error) {
	switch in := input.(type) {
	case ByteStream:
		if s, ok := in.Reader.(io.Seeker); ok {
			if _, err := s.Seek(0, io.SeekStart); err != nil {
				return nil, fmt.Errorf("failed to rewind %s: %w", in.Name, err)
			}
		}
		return io.NopCloser(in.Reader), nil
	case *ByteStream:
		return openInput(*in)
	case LocalPath:
		f, err := os.Open(in.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", in.Path, err)
		}
		return f, nil
	case *LocalPath:
		return openInput(*in)
	default:
		return nil, fmt.Errorf("%w: unsupported input %T", ErrInvalidInput, input)
	}
}
