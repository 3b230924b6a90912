// Package memory implements the chunk store in process memory. It backs
// tests and local development; semantics match the postgres store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/groundline/groundline/internal/errdefs"
	"github.com/groundline/groundline/internal/rag/store"
	"github.com/groundline/groundline/pkg/models"
)

// Store is an in-memory chunk store.
type Store struct {
	mu        sync.RWMutex
	docs      map[string]*models.Document
	chunks    map[string]*models.Chunk
	dimension int
}

var _ store.ChunkStore = (*Store)(nil)

// New creates an empty in-memory store.
func New(dimension int) *Store {
	return &Store{
		docs:      make(map[string]*models.Document),
		chunks:    make(map[string]*models.Chunk),
		dimension: dimension,
	}
}

// PutDocument records a document, idempotent on ID.
func (s *Store) PutDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		return errdefs.InvalidInput("document id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.docs[cp.ID] = &cp
	return nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, errdefs.NotFound("document " + id)
	}
	cp := *doc
	return &cp, nil
}

// UpsertMany writes chunks, idempotent on chunk ID. The whole batch is
// validated before the first write so a bad record cannot leave a partial
// sub-batch behind.
func (s *Store) UpsertMany(ctx context.Context, chunks []*models.Chunk) ([]string, error) {
	if err := store.ValidateChunks(chunks); err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if _, exists := s.chunks[c.ID]; !exists {
			cp := *c
			if cp.CreatedAt.IsZero() {
				cp.CreatedAt = time.Now().UTC()
			}
			s.chunks[c.ID] = &cp
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// GetMany retrieves chunks preserving request order, nil for missing IDs.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]*models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Chunk, len(ids))
	for i, id := range ids {
		if c, ok := s.chunks[id]; ok {
			cp := *c
			out[i] = &cp
		}
	}
	return out, nil
}

// DeleteByDoc removes all chunks for a document.
func (s *Store) DeleteByDoc(ctx context.Context, docID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, c := range s.chunks {
		if c.DocumentID == docID {
			delete(s.chunks, id)
			n++
		}
	}
	return n, nil
}

// DeleteDocument removes a document and cascades to its chunks.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return errdefs.NotFound("document " + id)
	}
	delete(s.docs, id)
	for cid, c := range s.chunks {
		if c.DocumentID == id {
			delete(s.chunks, cid)
		}
	}
	return nil
}

// ListEmbeddingRefs pages refs in lexicographic order.
func (s *Store) ListEmbeddingRefs(ctx context.Context, afterRef string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	s.mu.RLock()
	var refs []string
	for _, c := range s.chunks {
		if c.EmbeddingRef != "" && c.EmbeddingRef > afterRef {
			refs = append(refs, c.EmbeddingRef)
		}
	}
	s.mu.RUnlock()

	sort.Strings(refs)
	if len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

// Stats reports store-wide counts.
func (s *Store) Stats(ctx context.Context) (*models.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &models.StoreStats{
		TotalDocuments:     int64(len(s.docs)),
		TotalChunks:        int64(len(s.chunks)),
		EmbeddingDimension: s.dimension,
	}, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
