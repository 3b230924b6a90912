// Package index defines approximate nearest-neighbor search over chunk
// embeddings. Scores are cosine similarity over L2-normalized vectors;
// ties break by embedding ref in lexicographic order so results are
// deterministic.
package index

import (
	"context"
)

// Entry is one vector to upsert.
type Entry struct {
	// Ref is the embedding reference; it matches the chunk ID.
	Ref string

	// Vector is the L2-normalized embedding.
	Vector []float32

	// Restricts are key/value filters attached to the entry.
	Restricts map[string][]string
}

// Match is one query result.
type Match struct {
	Ref   string  `json:"ref"`
	Score float64 `json:"score"`
}

// VectorIndex stores vectors and answers top-k similarity queries.
//
// Streaming upserts become visible within a bounded propagation window;
// callers must not rely on read-your-writes at sub-second latency.
type VectorIndex interface {
	// Upsert writes entries, idempotent on ref.
	Upsert(ctx context.Context, entries []Entry) error

	// Query returns up to topK matches sorted by descending score. When
	// restricts are given, only entries matching every restrict key with
	// at least one overlapping value are candidates.
	Query(ctx context.Context, vector []float32, topK int, restricts map[string][]string) ([]Match, error)

	// Delete removes entries by ref; absent refs are ignored.
	Delete(ctx context.Context, refs []string) error

	// ListRefs pages all refs in lexicographic order, for reconciliation.
	ListRefs(ctx context.Context, afterRef string, limit int) ([]string, error)

	// Close releases resources.
	Close() error
}
