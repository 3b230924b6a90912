package embeddings_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/groundline/groundline/internal/embeddings"
	"github.com/groundline/groundline/internal/embeddings/fake"
	"github.com/groundline/groundline/internal/errdefs"
)

func TestEmbedBatchPreservesOrder(t *testing.T) {
	provider := fake.New(32)
	b := embeddings.NewBatcher(provider, 2)

	texts := []string{"alpha one", "bravo two", "charlie three", "delta four", "echo five"}
	vecs, err := b.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}

	// With batch size 2, five texts need three upstream calls.
	if calls := provider.Calls.Load(); calls != 3 {
		t.Errorf("upstream calls = %d, want 3", calls)
	}

	// Each position must match an individually computed vector.
	for i, text := range texts {
		want, err := provider.Embed(context.Background(), text)
		if err != nil {
			t.Fatal(err)
		}
		if embeddings.Dot(vecs[i], want) < 0.999 {
			t.Errorf("vector %d does not match its text", i)
		}
	}
}

func TestEmbedBatchNormalizes(t *testing.T) {
	b := embeddings.NewBatcher(fake.New(16), 0)
	vec, err := b.Embed(context.Background(), "some words repeated words")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if norm := embeddings.Dot(vec, vec); math.Abs(norm-1.0) > 1e-5 {
		t.Errorf("squared norm = %v, want 1", norm)
	}
}

func TestEmbedBatchRejectsEmptyText(t *testing.T) {
	b := embeddings.NewBatcher(fake.New(16), 0)
	_, err := b.EmbedBatch(context.Background(), []string{"ok", "   "})
	if errdefs.KindOf(err) != errdefs.KindInvalidInput {
		t.Errorf("kind = %v, want invalid_input", errdefs.KindOf(err))
	}
}

func TestEmbedRetriesTransientFailure(t *testing.T) {
	provider := fake.New(16)
	provider.FailNext(2, errors.New("upstream 503"))
	b := embeddings.NewBatcher(provider, 0)

	if _, err := b.Embed(context.Background(), "resilient"); err != nil {
		t.Fatalf("Embed after transient failures: %v", err)
	}
	if calls := provider.Calls.Load(); calls != 3 {
		t.Errorf("upstream calls = %d, want 3 (two failures, one success)", calls)
	}
}

func TestEmbedUnavailableAfterExhaustion(t *testing.T) {
	provider := fake.New(16)
	provider.FailNext(100, errors.New("upstream down"))
	b := embeddings.NewBatcher(provider, 0)

	_, err := b.Embed(context.Background(), "doomed")
	if errdefs.KindOf(err) != errdefs.KindEmbeddingUnavailable {
		t.Errorf("kind = %v, want embedding_unavailable", errdefs.KindOf(err))
	}
	if !errdefs.IsRetryable(err) {
		t.Error("embedding outage should be marked retryable")
	}
}

// stallingProvider blocks its first calls until the call context expires,
// then serves unit vectors.
type stallingProvider struct {
	dim    int
	stalls int
	calls  int
}

func (s *stallingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *stallingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.stalls > 0 {
		s.stalls--
		<-ctx.Done()
		return nil, ctx.Err()
	}
	out := make([][]float32, len(texts))
	for i := range out {
		v := make([]float32, s.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func (s *stallingProvider) Name() string      { return "stalling" }
func (s *stallingProvider) Dimension() int    { return s.dim }
func (s *stallingProvider) MaxBatchSize() int { return 8 }

func TestEmbedTimeoutBoundsEachCall(t *testing.T) {
	provider := &stallingProvider{dim: 16, stalls: 1}
	b := embeddings.NewBatcher(provider, 0).WithTimeout(20 * time.Millisecond)

	// The stalled first call is cut off by its own deadline; the retry
	// succeeds without waiting on the request deadline.
	if _, err := b.Embed(context.Background(), "slow upstream"); err != nil {
		t.Fatalf("Embed after a stalled call: %v", err)
	}
	if provider.calls != 2 {
		t.Errorf("upstream calls = %d, want 2", provider.calls)
	}
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	b := embeddings.NewBatcher(fake.New(16), 0)
	vecs, err := b.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", vecs, err)
	}
}
