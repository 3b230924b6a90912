// Package fake provides a deterministic in-process embedding provider for
// tests. Vectors are bag-of-words hashes, so texts sharing vocabulary get
// high cosine similarity and disjoint texts get low similarity, without any
// network dependency.
package fake

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/groundline/groundline/internal/embeddings"
)

// Provider is a deterministic embeddings.Provider.
type Provider struct {
	dimension int
	batchSize int

	mu       sync.Mutex
	failNext int
	failErr  error

	// Calls counts EmbedBatch invocations, including failed ones.
	Calls atomic.Int64
}

var _ embeddings.Provider = (*Provider)(nil)

// New creates a fake provider with the given dimension.
func New(dimension int) *Provider {
	return &Provider{dimension: dimension, batchSize: 2048}
}

// FailNext makes the next n EmbedBatch calls return err.
func (p *Provider) FailNext(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = n
	p.failErr = err
}

// Name returns the provider name.
func (p *Provider) Name() string { return "fake" }

// Dimension returns the configured dimension.
func (p *Provider) Dimension() int { return p.dimension }

// MaxBatchSize returns the batch limit.
func (p *Provider) MaxBatchSize() int { return p.batchSize }

// Embed generates one vector.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates one vector per text.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.Calls.Add(1)

	p.mu.Lock()
	if p.failNext > 0 {
		p.failNext--
		err := p.failErr
		p.mu.Unlock()
		return nil, err
	}
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

// vector hashes each token into a bucket of the output vector.
func (p *Provider) vector(text string) []float32 {
	v := make([]float32, p.dimension)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]")
		if tok == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(tok))
		v[int(h.Sum32())%p.dimension]++
	}
	return embeddings.NormalizeL2(v)
}
