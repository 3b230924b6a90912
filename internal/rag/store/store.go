// Package store defines durable storage for documents and chunks. Chunk
// records are append-only: re-ingestion writes new chunks, existing rows
// are never mutated.
package store

import (
	"context"

	"github.com/groundline/groundline/pkg/models"
)

// UpsertBatchSize caps the records per atomic sub-batch.
const UpsertBatchSize = 500

// ChunkStore persists documents and their chunks.
type ChunkStore interface {
	// PutDocument records a document, idempotent on document ID.
	PutDocument(ctx context.Context, doc *models.Document) error

	// GetDocument retrieves a document, errdefs.NotFound when absent.
	GetDocument(ctx context.Context, id string) (*models.Document, error)

	// UpsertMany writes chunks in sub-batches of at most UpsertBatchSize.
	// Idempotent on chunk ID; each sub-batch is all-or-none. Returns the
	// IDs of all chunks present after the call, in input order. A chunk
	// with empty text rejects the whole call before any write.
	UpsertMany(ctx context.Context, chunks []*models.Chunk) ([]string, error)

	// GetMany retrieves chunks preserving request order. A missing ID
	// yields a nil entry at its position, never an error.
	GetMany(ctx context.Context, ids []string) ([]*models.Chunk, error)

	// DeleteByDoc removes a document's chunks, returning the count.
	DeleteByDoc(ctx context.Context, docID string) (int64, error)

	// DeleteDocument removes the document record itself.
	DeleteDocument(ctx context.Context, id string) error

	// ListEmbeddingRefs returns every non-empty embedding ref, paged by
	// ref lexicographic order. Used by the orphan reconciler.
	ListEmbeddingRefs(ctx context.Context, afterRef string, limit int) ([]string, error)

	// Stats reports store-wide counts.
	Stats(ctx context.Context) (*models.StoreStats, error)

	// Close releases resources.
	Close() error
}

// ValidateChunks rejects chunk batches that violate record invariants
// before any storage work happens.
func ValidateChunks(chunks []*models.Chunk) error {
	for i, c := range chunks {
		if err := validateChunk(i, c); err != nil {
			return err
		}
	}
	return nil
}
