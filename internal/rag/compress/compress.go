// Package compress fits reranked chunks into a token budget. Candidates
// arrive pre-sorted by relevance; the compressor accepts them greedily and
// may close with a sentence-preserving prefix of the first candidate that
// no longer fits whole.
package compress

import (
	"strings"

	"github.com/groundline/groundline/internal/rag/rerank"
	"github.com/groundline/groundline/pkg/models"
)

// Compress selects a prefix of candidates whose estimated tokens fit
// maxTokens, preserving order. With at least one non-empty candidate the
// result is never empty: the top candidate is truncated to the budget if
// even it alone does not fit.
func Compress(candidates []rerank.Scored, maxTokens int) []*models.Chunk {
	var out []*models.Chunk
	if maxTokens <= 0 {
		maxTokens = 1
	}

	used := 0
	for _, c := range candidates {
		text := c.Chunk.Text
		if strings.TrimSpace(text) == "" {
			continue
		}
		cost := models.EstimateTokens(text)
		if used+cost <= maxTokens {
			out = append(out, c.Chunk)
			used += cost
			continue
		}

		// The candidate does not fit whole. A sentence-preserving prefix
		// may still use the remaining budget.
		remaining := maxTokens - used
		if prefix, ok := sentencePrefix(text, remaining*4); ok {
			cp := *c.Chunk
			cp.Text = prefix
			out = append(out, &cp)
		} else if len(out) == 0 {
			// Nothing accepted yet: truncate rather than return empty.
			cp := *c.Chunk
			cp.Text = truncate(text, maxTokens*4)
			out = append(out, &cp)
		}
		break
	}
	return out
}

// sentencePrefix returns the longest prefix of text that fits maxBytes and
// ends on a sentence terminator. ok is false when not even one complete
// sentence fits.
func sentencePrefix(text string, maxBytes int) (string, bool) {
	if maxBytes <= 0 {
		return "", false
	}
	limit := maxBytes
	if limit > len(text) {
		limit = len(text)
	}

	cut := -1
	for i := 0; i < limit; i++ {
		switch text[i] {
		case '.', '!', '?':
			cut = i + 1
		}
	}
	if cut <= 0 {
		return "", false
	}
	prefix := strings.TrimSpace(text[:cut])
	if prefix == "" {
		return "", false
	}
	return prefix, true
}

// truncate cuts text at maxBytes, snapping to a rune boundary.
func truncate(text string, maxBytes int) string {
	if maxBytes >= len(text) {
		return text
	}
	if maxBytes < 1 {
		maxBytes = 1
	}
	cut := maxBytes
	for cut > 0 && text[cut]&0xc0 == 0x80 {
		cut--
	}
	return strings.TrimSpace(text[:cut])
}
