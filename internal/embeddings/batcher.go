package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/groundline/groundline/internal/errdefs"
	"github.com/groundline/groundline/internal/retry"
)

// Batcher wraps a Provider with the service's embedding contract: requests
// are split into bounded sub-batches, transient failures are retried with
// backoff, every returned vector is dimension-checked and L2-normalized,
// and empty input is rejected before it reaches the wire.
type Batcher struct {
	provider  Provider
	batchSize int
	retryCfg  retry.Config
	timeout   time.Duration
}

var _ Provider = (*Batcher)(nil)

// NewBatcher wraps provider. batchSize caps texts per upstream request and
// is further clamped to the provider's own limit.
func NewBatcher(provider Provider, batchSize int) *Batcher {
	if batchSize <= 0 || batchSize > provider.MaxBatchSize() {
		batchSize = provider.MaxBatchSize()
	}
	return &Batcher{
		provider:  provider,
		batchSize: batchSize,
		retryCfg:  retry.Dependency(),
	}
}

// WithTimeout bounds each upstream call. Zero leaves calls bounded only by
// the request deadline.
func (b *Batcher) WithTimeout(d time.Duration) *Batcher {
	b.timeout = d
	return b
}

// Name returns the wrapped provider's name.
func (b *Batcher) Name() string { return b.provider.Name() }

// Dimension returns the wrapped provider's dimension.
func (b *Batcher) Dimension() int { return b.provider.Dimension() }

// MaxBatchSize returns the effective batch size.
func (b *Batcher) MaxBatchSize() int { return b.batchSize }

// Embed generates one normalized embedding.
func (b *Batcher) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := b.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates normalized embeddings for all texts, preserving
// order. One failed sub-batch fails the whole call; partial results are
// never returned.
func (b *Batcher) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, errdefs.InvalidInput(fmt.Sprintf("text %d is empty", i))
		}
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.batchSize {
		end := start + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := b.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// embedOnce sends one sub-batch with retries and validates the result.
func (b *Batcher) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := retry.DoWithValue(ctx, b.retryCfg, func() ([][]float32, error) {
		callCtx := ctx
		if b.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, b.timeout)
			defer cancel()
		}
		return b.provider.EmbedBatch(callCtx, texts)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errdefs.DeadlineExceeded("embed")
		}
		return nil, errdefs.Unavailable(errdefs.KindEmbeddingUnavailable, err).WithStage("embed")
	}

	dim := b.provider.Dimension()
	for i, v := range vecs {
		if len(v) != dim {
			return nil, errdefs.Unavailable(errdefs.KindEmbeddingUnavailable,
				fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)).WithStage("embed")
		}
		NormalizeL2(v)
	}
	return vecs, nil
}
