// Package simplegrid lets application entities own named binary attachments
// kept in a content-addressed blob store, and serves those blobs over HTTP
// with ETag / Last-Modified cache validation.
//
// An entity type declares its attachment slots once in a Schema. Each entity
// instance owns a Manager that writes slot metadata immediately and stages the
// matching blob writes and deletes until the persistence layer reports a
// successful save (CommitCreates, CommitDeletes) or destroy (PurgeAll).
//
// Blob stores (memory, filesystem, SQLite, Postgres grid, S3) live under the
// storage subpackages; the HTTP gateway lives in the api subpackage.
//
// # Consistency
//
// Metadata and blobs are not written in one transaction. Metadata is the
// source of truth for readers; a failed commit leaves its pending entry queued
// so the caller can retry it.
package simplegrid
