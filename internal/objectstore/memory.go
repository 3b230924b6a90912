package objectstore

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"
)

// MemoryStore is an in-process blob store for tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
	now   func() time.Time
}

type memoryBlob struct {
	data []byte
	meta Metadata
}

var _ BlobStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]memoryBlob), now: time.Now}
}

// Put stores the blob, idempotent on docID.
func (s *MemoryStore) Put(ctx context.Context, docID string, data io.Reader, meta Metadata) (string, error) {
	createdAt := meta.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	ref := "mem://" + ObjectKey(docID, createdAt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.blobs[ref]; exists {
		return ref, nil
	}

	raw, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	s.blobs[ref] = memoryBlob{data: raw, meta: meta}
	return ref, nil
}

// Get retrieves the blob and metadata by ref.
func (s *MemoryStore) Get(ctx context.Context, objectRef string) (io.ReadCloser, Metadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[objectRef]
	s.mu.RUnlock()
	if !ok {
		return nil, Metadata{}, notFoundErr(objectRef)
	}
	return io.NopCloser(bytes.NewReader(blob.data)), blob.meta, nil
}

// Delete removes the blob; absent refs are ignored.
func (s *MemoryStore) Delete(ctx context.Context, objectRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, objectRef)
	return nil
}

// Len reports the blob count.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
