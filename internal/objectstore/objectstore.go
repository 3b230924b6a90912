// Package objectstore persists raw uploaded document bytes. Each document
// maps to exactly one stored blob, keyed by its content-derived ID under a
// date-partitioned prefix.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Metadata travels with a stored blob.
type Metadata struct {
	UploaderID  string
	Filename    string
	ContentType string
	SHA256      string

	// CreatedAt anchors the date partition of the object key. Put falls
	// back to the current time when zero.
	CreatedAt time.Time
}

// BlobStore stores document blobs.
type BlobStore interface {
	// Put stores data under the document's key and returns the object
	// ref. Idempotent on docID: a second put for the same document
	// returns the existing ref without rewriting the blob.
	Put(ctx context.Context, docID string, data io.Reader, meta Metadata) (string, error)

	// Get retrieves the blob and its metadata by object ref.
	Get(ctx context.Context, objectRef string) (io.ReadCloser, Metadata, error)

	// Delete removes the blob; absent refs are not an error.
	Delete(ctx context.Context, objectRef string) error

	// Close releases resources.
	Close() error
}

// ObjectKey builds the storage key for a document: date-partitioned by the
// ingest day so that lifecycle rules can expire old uploads by prefix.
func ObjectKey(docID string, createdAt time.Time) string {
	t := createdAt.UTC()
	return fmt.Sprintf("documents/%04d/%02d/%02d/%s", t.Year(), t.Month(), t.Day(), docID)
}
