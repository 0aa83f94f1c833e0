package simplegrid

import (
	"io"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// DefaultContentType is used when the detector cannot resolve a filename.
const DefaultContentType = "application/octet-stream"

// PutParams contains parameters for storing a blob
type PutParams struct {
	ID          uuid.UUID
	Filename    string
	ContentType string
	Size        int64 // -1 when unknown
}

// BlobHandle is a fetched blob. It is only valid for the request that
// fetched it and the caller must close Body.
type BlobHandle struct {
	ID          uuid.UUID
	Filename    string
	ContentType string
	Size        int64
	UploadDate  time.Time
	Checksum    string // hex content digest, used as the ETag
	Body        io.ReadCloser
}

// Close releases the blob body.
func (h *BlobHandle) Close() error {
	if h == nil || h.Body == nil {
		return nil
	}
	return h.Body.Close()
}

// AttachmentMetadata holds the cached fields of one attachment slot.
// The fields are written and cleared together; a uuid.Nil ID means the slot
// is empty.
type AttachmentMetadata struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
}

// IsZero reports whether the slot is empty.
func (m AttachmentMetadata) IsZero() bool {
	return m.ID == uuid.Nil
}

// URL returns the gateway path of the attachment, e.g.
// /grid/4ba69fde-8c8f-469a-8e00-000000000003/somefile.png.
// It returns "" for an empty slot.
func (m AttachmentMetadata) URL(prefix string) string {
	if m.IsZero() || m.Name == "" {
		return ""
	}
	return "/" + prefix + "/" + m.ID.String() + "/" + url.PathEscape(m.Name)
}

// Attachments is a map-backed Attachable, keyed by slot name.
type Attachments map[string]AttachmentMetadata

// AttachmentMetadata returns the metadata of slot, zero if empty.
func (a Attachments) AttachmentMetadata(slot string) AttachmentMetadata {
	return a[slot]
}

// SetAttachmentMetadata replaces the metadata of slot; a zero value removes it.
func (a *Attachments) SetAttachmentMetadata(slot string, md AttachmentMetadata) {
	if md.IsZero() {
		delete(*a, slot)
		return
	}
	if *a == nil {
		*a = Attachments{}
	}
	(*a)[slot] = md
}

// FileInput is the source of a new attachment: ByteStream or LocalPath.
type FileInput interface {
	fileInput()
}

// ByteStream is an attachment read from an open stream, such as a multipart
// upload. Size is required unless Reader reports its length via Len().
// Seekable readers are rewound before every write attempt.
type ByteStream struct {
	Name   string
	Reader io.Reader
	Size   int64
}

// LocalPath is an attachment read from a file on the local disk at commit time.
type LocalPath struct {
	Path string
}

func (ByteStream) fileInput() {}
func (LocalPath) fileInput()  {}

// Document is the entity persisted by the documents service. It owns the
// attachment slots declared by the schema registered for its Kind.
type Document struct {
	ID          uuid.UUID   `json:"id"`
	Kind        string      `json:"kind"`
	Title       string      `json:"title"`
	Attachments Attachments `json:"attachments"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`

	manager *Manager
	stored  bool
}

// AttachmentMetadata implements Attachable.
func (d *Document) AttachmentMetadata(slot string) AttachmentMetadata {
	return d.Attachments.AttachmentMetadata(slot)
}

// SetAttachmentMetadata implements Attachable.
func (d *Document) SetAttachmentMetadata(slot string, md AttachmentMetadata) {
	d.Attachments.SetAttachmentMetadata(slot, md)
}

// HasPendingAttachments reports whether attachment writes or deletes are
// staged and not yet committed.
func (d *Document) HasPendingAttachments() bool {
	return d.manager != nil && d.manager.HasPending()
}

// Clone returns a copy of the document's persisted fields. The copy has no
// staged attachment work.
func (d *Document) Clone() *Document {
	c := &Document{
		ID:        d.ID,
		Kind:      d.Kind,
		Title:     d.Title,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if d.Attachments != nil {
		c.Attachments = make(Attachments, len(d.Attachments))
		for slot, md := range d.Attachments {
			c.Attachments[slot] = md
		}
	}
	return c
}
