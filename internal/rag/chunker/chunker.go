// Package chunker splits extracted document text into overlapping chunks.
// Two strategies exist: semantic chunking places boundaries where adjacent
// sentence embeddings diverge, and size-based chunking slides a fixed
// window with sentence snapping. Semantic is preferred when an embedder is
// available and degrades to size-based when it is not.
package chunker

import (
	"context"
)

// Chunk is one piece of a document. Offsets reference the normalized
// document text and cover the chunk's own span; overlap text prepended
// from the previous chunk is not part of the span.
type Chunk struct {
	// Text is the chunk content, including any leading overlap.
	Text string

	// StartOffset is the byte offset of the chunk's own span.
	StartOffset int

	// EndOffset is the exclusive end of the chunk's own span.
	EndOffset int
}

// Chunker splits one document's text into chunks.
type Chunker interface {
	// Chunk splits content. The result is ordered by position; every
	// chunk has non-empty text.
	Chunk(ctx context.Context, content string) ([]Chunk, error)

	// Name returns the strategy name for logging.
	Name() string
}

// Config contains common chunking parameters.
type Config struct {
	// MaxChunkSize caps chunk text length in bytes, overlap excluded.
	MaxChunkSize int `yaml:"max_chunk_size"`

	// MinChunkSize is the smallest chunk kept standalone; smaller chunks
	// are merged with a neighbor.
	MinChunkSize int `yaml:"min_chunk_size"`

	// Overlap is the number of trailing bytes of chunk i prepended to
	// chunk i+1. Zero means a tenth of MaxChunkSize.
	Overlap int `yaml:"overlap"`

	// SimilarityThreshold is the cosine similarity below which adjacent
	// sentences start a new chunk. Only semantic chunking uses it.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// DefaultConfig returns the default chunking parameters.
func DefaultConfig() Config {
	return Config{
		MaxChunkSize:        2800,
		MinChunkSize:        500,
		Overlap:             0,
		SimilarityThreshold: 0.75,
	}
}

// normalized fills zero values and clamps inconsistent settings.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = def.MaxChunkSize
	}
	if c.MinChunkSize <= 0 || c.MinChunkSize >= c.MaxChunkSize {
		c.MinChunkSize = c.MaxChunkSize / 5
	}
	if c.Overlap <= 0 {
		c.Overlap = c.MaxChunkSize / 10
	}
	if c.Overlap >= c.MinChunkSize {
		c.Overlap = c.MinChunkSize / 2
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold >= 1 {
		c.SimilarityThreshold = def.SimilarityThreshold
	}
	return c
}

// prependOverlap copies the last overlap bytes of the previous chunk onto
// the front of each subsequent chunk, snapping to a rune boundary.
func prependOverlap(chunks []Chunk, overlap int) []Chunk {
	if overlap <= 0 {
		return chunks
	}
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Text
		start := len(prev) - overlap
		if start <= 0 {
			continue
		}
		for start < len(prev) && prev[start]&0xc0 == 0x80 {
			start++
		}
		chunks[i].Text = prev[start:] + chunks[i].Text
	}
	return chunks
}
