package chunker

import (
	"context"
	"strings"

	"github.com/groundline/groundline/internal/embeddings"
	"github.com/groundline/groundline/internal/observability"
)

// Semantic places chunk boundaries where adjacent sentence embeddings
// diverge. When the embedder is unreachable it degrades to size-based
// chunking rather than failing the document; boundary quality is not worth
// an ingest outage.
type Semantic struct {
	config   Config
	splitter SentenceSplitter
	embedder embeddings.Provider
	fallback *SizeSplitter
	log      *observability.Logger
}

var _ Chunker = (*Semantic)(nil)

// NewSemantic creates a semantic chunker backed by the given embedder.
func NewSemantic(cfg Config, embedder embeddings.Provider, log *observability.Logger) *Semantic {
	cfg = cfg.normalized()
	return &Semantic{
		config:   cfg,
		splitter: RegexSplitter{},
		embedder: embedder,
		fallback: NewSizeSplitter(cfg),
		log:      log,
	}
}

// Name returns the strategy name.
func (s *Semantic) Name() string { return "semantic" }

// span is a run of consecutive sentences forming one chunk.
type span struct {
	first, last int // sentence indices, inclusive
}

// Chunk splits content along semantic boundaries.
func (s *Semantic) Chunk(ctx context.Context, content string) ([]Chunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	sentences := s.splitter.Split(content)
	sentences = splitOversized(sentences, s.config.MaxChunkSize)
	if len(sentences) == 0 {
		return nil, nil
	}

	texts := make([]string, len(sentences))
	for i, sent := range sentences {
		texts[i] = sent.Text
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		s.log.Warn(ctx, "semantic chunking degraded to size-based", "error", err)
		return s.fallback.Chunk(ctx, content)
	}

	spans, boundarySims := s.walk(sentences, vecs)
	spans = s.mergeSmall(sentences, spans, boundarySims)

	chunks := make([]Chunk, 0, len(spans))
	for _, sp := range spans {
		start := sentences[sp.first].Start
		end := sentences[sp.last].End
		chunks = append(chunks, Chunk{
			Text:        content[start:end],
			StartOffset: start,
			EndOffset:   end,
		})
	}
	return prependOverlap(chunks, s.config.Overlap), nil
}

// walk accumulates sentences left to right, cutting a boundary when the
// similarity to the next sentence drops below the threshold or the chunk
// would exceed the size cap. boundarySims[i] is the similarity across the
// boundary between spans[i] and spans[i+1].
func (s *Semantic) walk(sentences []Sentence, vecs [][]float32) ([]span, []float64) {
	var spans []span
	var boundarySims []float64

	cur := span{first: 0, last: 0}
	for i := 1; i < len(sentences); i++ {
		sim := embeddings.Dot(vecs[i-1], vecs[i])
		extendedLen := sentences[i].End - sentences[cur.first].Start

		if sim < s.config.SimilarityThreshold || extendedLen > s.config.MaxChunkSize {
			spans = append(spans, cur)
			boundarySims = append(boundarySims, sim)
			cur = span{first: i, last: i}
			continue
		}
		cur.last = i
	}
	spans = append(spans, cur)
	return spans, boundarySims
}

// mergeSmall folds each span below the minimum size into the neighbor it is
// more similar to; ties go to the previous span.
func (s *Semantic) mergeSmall(sentences []Sentence, spans []span, sims []float64) []span {
	spanLen := func(sp span) int {
		return sentences[sp.last].End - sentences[sp.first].Start
	}

	for len(spans) > 1 {
		idx := -1
		for i, sp := range spans {
			if spanLen(sp) < s.config.MinChunkSize {
				idx = i
				break
			}
		}
		if idx == -1 {
			break
		}

		mergeLeft := true
		switch {
		case idx == 0:
			mergeLeft = false
		case idx == len(spans)-1:
			mergeLeft = true
		default:
			// sims[idx-1] is the left boundary, sims[idx] the right.
			mergeLeft = sims[idx-1] >= sims[idx]
		}

		if mergeLeft {
			spans[idx-1].last = spans[idx].last
			spans = append(spans[:idx], spans[idx+1:]...)
			sims = append(sims[:idx-1], sims[idx:]...)
		} else {
			spans[idx+1].first = spans[idx].first
			spans = append(spans[:idx], spans[idx+1:]...)
			sims = append(sims[:idx], sims[idx+1:]...)
		}
	}
	return spans
}

// splitOversized windows any single sentence longer than max so that no
// input to the walk can exceed the chunk cap on its own.
func splitOversized(sentences []Sentence, max int) []Sentence {
	var out []Sentence
	for _, sent := range sentences {
		if len(sent.Text) <= max {
			out = append(out, sent)
			continue
		}
		start := 0
		for start < len(sent.Text) {
			end := start + max
			if end > len(sent.Text) {
				end = len(sent.Text)
			}
			for end < len(sent.Text) && sent.Text[end]&0xc0 == 0x80 {
				end++
			}
			if piece := strings.TrimSpace(sent.Text[start:end]); piece != "" {
				lead := strings.Index(sent.Text[start:end], piece)
				out = append(out, Sentence{
					Text:  piece,
					Start: sent.Start + start + lead,
					End:   sent.Start + start + lead + len(piece),
				})
			}
			start = end
		}
	}
	return out
}
