// Package memory implements the vector index with brute-force scan. It
// backs tests and single-node deployments with small corpora.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/groundline/groundline/internal/embeddings"
	"github.com/groundline/groundline/internal/errdefs"
	"github.com/groundline/groundline/internal/rag/index"
)

type entry struct {
	vector    []float32
	restricts map[string][]string
}

// Index is an in-memory vector index.
type Index struct {
	mu        sync.RWMutex
	entries   map[string]entry
	dimension int
}

var _ index.VectorIndex = (*Index)(nil)

// New creates an empty index for vectors of the given dimension.
func New(dimension int) *Index {
	return &Index{entries: make(map[string]entry), dimension: dimension}
}

// Upsert writes entries, idempotent on ref.
func (x *Index) Upsert(ctx context.Context, entries []index.Entry) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, e := range entries {
		if e.Ref == "" {
			return errdefs.InvalidInput("entry with empty ref")
		}
		if len(e.Vector) != x.dimension {
			return errdefs.InvalidInput("entry " + e.Ref + ": wrong dimension")
		}
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		x.entries[e.Ref] = entry{vector: vec, restricts: e.Restricts}
	}
	return nil
}

// Query scans all entries and returns the topK best matches.
func (x *Index) Query(ctx context.Context, vector []float32, topK int, restricts map[string][]string) ([]index.Match, error) {
	if topK <= 0 {
		return nil, errdefs.InvalidInput("top_k must be positive")
	}
	if len(vector) != x.dimension {
		return nil, errdefs.InvalidInput("query vector has wrong dimension")
	}

	x.mu.RLock()
	matches := make([]index.Match, 0, len(x.entries))
	for ref, e := range x.entries {
		if !matchesRestricts(e.restricts, restricts) {
			continue
		}
		matches = append(matches, index.Match{Ref: ref, Score: embeddings.Dot(vector, e.vector)})
	}
	x.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Ref < matches[j].Ref
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// matchesRestricts requires every query key to overlap the entry's values
// for that key.
func matchesRestricts(entryRestricts, queryRestricts map[string][]string) bool {
	for key, wanted := range queryRestricts {
		have := entryRestricts[key]
		found := false
		for _, w := range wanted {
			for _, h := range have {
				if w == h {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Delete removes entries by ref.
func (x *Index) Delete(ctx context.Context, refs []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, ref := range refs {
		delete(x.entries, ref)
	}
	return nil
}

// ListRefs pages refs in lexicographic order.
func (x *Index) ListRefs(ctx context.Context, afterRef string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	x.mu.RLock()
	refs := make([]string, 0, len(x.entries))
	for ref := range x.entries {
		if ref > afterRef {
			refs = append(refs, ref)
		}
	}
	x.mu.RUnlock()

	sort.Strings(refs)
	if len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

// Len reports the entry count.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Close is a no-op.
func (x *Index) Close() error { return nil }
