package simplegrid

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrBlobNotFound indicates the blob id does not exist in the store
	ErrBlobNotFound = errors.New("blob not found")

	// ErrBlobExists indicates a put reused an id that is already stored
	ErrBlobExists = errors.New("blob already exists")

	// ErrUnknownSlot indicates the slot is not declared on the entity schema
	ErrUnknownSlot = errors.New("unknown attachment slot")

	// ErrInvalidInput indicates a file input that cannot be attached
	ErrInvalidInput = errors.New("invalid file input")

	// ErrDocumentNotFound indicates a document was not found
	ErrDocumentNotFound = errors.New("document not found")

	// ErrUnknownKind indicates no schema is registered for a document kind
	ErrUnknownKind = errors.New("unknown document kind")
)

// ConnectionError reports that the blob store could not be reached or
// authenticated within the connect timeout.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("blob store connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Backend string
	ID      uuid.UUID
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for blob %s on backend %s: %v", e.Op, e.ID, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the blob is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBlobNotFound)
}

// IsConnectionError reports whether err came from establishing the store connection.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// DocumentError represents an error related to document operations
type DocumentError struct {
	DocumentID uuid.UUID
	Op         string
	Err        error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document operation %s failed for document %s: %v", e.Op, e.DocumentID, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}
