// Package rerank re-scores retrieval candidates against the query with a
// combined signal: normalized retrieval score, semantic similarity, and a
// length prior.
package rerank

import (
	"context"
	"sort"

	"github.com/groundline/groundline/internal/embeddings"
	"github.com/groundline/groundline/pkg/models"
)

// Combined score weights. They sum to 1.
const (
	RetrievalWeight = 0.50
	SemanticWeight  = 0.35
	LengthWeight    = 0.15
)

// SemanticPrefixLen bounds the candidate text embedded for the semantic
// signal.
const SemanticPrefixLen = 1000

// LengthPriorScale is the chunk length at which the length prior saturates.
const LengthPriorScale = 1500

// Candidate pairs a chunk with its retrieval score from the index.
type Candidate struct {
	Chunk          *models.Chunk
	RetrievalScore float64
}

// Scored is a reranked candidate.
type Scored struct {
	Chunk         *models.Chunk
	Combined      float64
	Retrieval     float64
	Semantic      float64
	LengthPrior   float64
	RetrievalNorm float64
}

// Weights configures the combined score. The three weights must sum to 1.
type Weights struct {
	Retrieval float64
	Semantic  float64
	Length    float64
}

// DefaultWeights returns the default signal weights.
func DefaultWeights() Weights {
	return Weights{Retrieval: RetrievalWeight, Semantic: SemanticWeight, Length: LengthWeight}
}

// Reranker combines retrieval, semantic, and length signals.
type Reranker struct {
	embedder embeddings.Provider
	weights  Weights
}

// New creates a reranker with the default weights.
func New(embedder embeddings.Provider) *Reranker {
	return NewWithWeights(embedder, DefaultWeights())
}

// NewWithWeights creates a reranker with explicit signal weights. A zero
// weight set falls back to the defaults.
func NewWithWeights(embedder embeddings.Provider, w Weights) *Reranker {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return &Reranker{embedder: embedder, weights: w}
}

// Rerank scores candidates and returns the best min(topK, len) in
// descending combined order. Ties break by initial retrieval score, then
// chunk ID, so equal inputs always produce the same output.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Scored, error) {
	if len(candidates) == 0 || topK <= 0 {
		return nil, nil
	}

	sims, err := r.semanticSims(ctx, query, candidates)
	if err != nil {
		return nil, err
	}

	norms := normalizeRetrieval(candidates)
	scored := make([]Scored, len(candidates))
	for i, c := range candidates {
		prior := float64(len(c.Chunk.Text)) / LengthPriorScale
		if prior > 1 {
			prior = 1
		}
		scored[i] = Scored{
			Chunk:         c.Chunk,
			Retrieval:     c.RetrievalScore,
			RetrievalNorm: norms[i],
			Semantic:      sims[i],
			LengthPrior:   prior,
			Combined: r.weights.Retrieval*norms[i] +
				r.weights.Semantic*sims[i] +
				r.weights.Length*prior,
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Combined != scored[j].Combined {
			return scored[i].Combined > scored[j].Combined
		}
		if scored[i].Retrieval != scored[j].Retrieval {
			return scored[i].Retrieval > scored[j].Retrieval
		}
		return scored[i].Chunk.ID < scored[j].Chunk.ID
	})

	if topK < len(scored) {
		scored = scored[:topK]
	}
	return scored, nil
}

// semanticSims embeds the query and each candidate prefix in one batch.
func (r *Reranker) semanticSims(ctx context.Context, query string, candidates []Candidate) ([]float64, error) {
	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, query)
	for _, c := range candidates {
		text := c.Chunk.Text
		if len(text) > SemanticPrefixLen {
			cut := SemanticPrefixLen
			for cut > 0 && text[cut]&0xc0 == 0x80 {
				cut--
			}
			text = text[:cut]
		}
		texts = append(texts, text)
	}

	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	queryVec := vecs[0]
	sims := make([]float64, len(candidates))
	for i := range candidates {
		sims[i] = embeddings.Dot(queryVec, vecs[i+1])
	}
	return sims, nil
}

// normalizeRetrieval rescales scores linearly so the batch max is 1 and
// min is 0. A uniform batch scores 1 everywhere.
func normalizeRetrieval(candidates []Candidate) []float64 {
	min, max := candidates[0].RetrievalScore, candidates[0].RetrievalScore
	for _, c := range candidates[1:] {
		if c.RetrievalScore < min {
			min = c.RetrievalScore
		}
		if c.RetrievalScore > max {
			max = c.RetrievalScore
		}
	}

	norms := make([]float64, len(candidates))
	if max == min {
		for i := range norms {
			norms[i] = 1
		}
		return norms
	}
	for i, c := range candidates {
		norms[i] = (c.RetrievalScore - min) / (max - min)
	}
	return norms
}
