package chunker

import (
	"context"
	"strings"
)

// SizeSplitter slides a fixed window across the text. The window end snaps
// back to the last sentence terminator past the minimum chunk size, and
// consecutive windows overlap by the configured amount.
type SizeSplitter struct {
	config Config
}

var _ Chunker = (*SizeSplitter)(nil)

// NewSizeSplitter creates a size-based chunker.
func NewSizeSplitter(cfg Config) *SizeSplitter {
	return &SizeSplitter{config: cfg.normalized()}
}

// Name returns the strategy name.
func (s *SizeSplitter) Name() string { return "size" }

// Chunk splits content into overlapping windows.
func (s *SizeSplitter) Chunk(ctx context.Context, content string) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	max := s.config.MaxChunkSize
	overlap := s.config.Overlap

	var chunks []Chunk
	start := 0
	for start < len(content) {
		end := start + max
		if end >= len(content) {
			end = len(content)
		} else {
			end = snapWindowEnd(content, start, end, s.config.MinChunkSize)
		}

		if c, ok := trimmedChunk(content, start, end); ok {
			chunks = append(chunks, c)
		}
		if end == len(content) {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		for next < len(content) && content[next]&0xc0 == 0x80 {
			next++
		}
		start = next
	}
	return chunks, nil
}

// snapWindowEnd moves the window end back to the last sentence terminator
// that keeps the chunk at least min bytes long, falling back to a rune
// boundary when the window holds no terminator at all.
func snapWindowEnd(content string, start, end, min int) int {
	lo := start + min
	if lo < start || lo >= end {
		lo = start
	}
	window := content[lo:end]
	if locs := terminatorRe.FindAllStringIndex(window, -1); len(locs) > 0 {
		return lo + locs[len(locs)-1][1]
	}
	for end > start && content[end]&0xc0 == 0x80 {
		end--
	}
	return end
}

// trimmedChunk builds a chunk from the span, with offsets tightened to the
// trimmed text.
func trimmedChunk(content string, start, end int) (Chunk, bool) {
	raw := content[start:end]
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Chunk{}, false
	}
	lead := strings.Index(raw, trimmed)
	return Chunk{
		Text:        trimmed,
		StartOffset: start + lead,
		EndOffset:   start + lead + len(trimmed),
	}, true
}
