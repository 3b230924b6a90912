package ingest

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/groundline/groundline/internal/embeddings"
	"github.com/groundline/groundline/internal/observability"
	"github.com/groundline/groundline/internal/rag/index"
	"github.com/groundline/groundline/internal/rag/store"
)

// reconcilePageSize is the page size for the ref walks and the flush size
// for repair batches.
const reconcilePageSize = 200

// Reconciler repairs the store/index divergence the ingest atomicity
// strategy allows: chunks whose vector upsert failed are re-embedded and
// re-upserted, and vectors without a backing chunk row are deleted.
type Reconciler struct {
	chunks   store.ChunkStore
	idx      index.VectorIndex
	embedder *embeddings.Batcher
	log      *observability.Logger
	metrics  *observability.Metrics
}

// NewReconciler creates a reconciler over the given stores.
func NewReconciler(chunks store.ChunkStore, idx index.VectorIndex, embedder *embeddings.Batcher, log *observability.Logger, metrics *observability.Metrics) *Reconciler {
	if log == nil {
		log = observability.Nop()
	}
	return &Reconciler{chunks: chunks, idx: idx, embedder: embedder, log: log, metrics: metrics}
}

// Report summarizes one reconciliation pass.
type Report struct {
	// Reindexed counts chunks whose vector was re-upserted.
	Reindexed int
	// OrphanVectors counts index entries deleted for lack of a chunk row.
	OrphanVectors int
	// Failures counts chunks that could not be repaired this pass.
	Failures int
}

// Run walks both ref sequences in lexicographic lockstep and repairs every
// divergence it finds.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	storeRefs := &refPager{next: r.chunks.ListEmbeddingRefs}
	indexRefs := &refPager{next: r.idx.ListRefs}

	report := &Report{}
	var missing, orphans []string

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		sref, sok, err := storeRefs.peek(ctx)
		if err != nil {
			return report, err
		}
		iref, iok, err := indexRefs.peek(ctx)
		if err != nil {
			return report, err
		}
		if !sok && !iok {
			break
		}

		switch {
		case !iok || (sok && sref < iref):
			missing = append(missing, sref)
			storeRefs.advance()
		case !sok || iref < sref:
			orphans = append(orphans, iref)
			indexRefs.advance()
		default:
			storeRefs.advance()
			indexRefs.advance()
		}

		if len(missing) >= reconcilePageSize {
			r.reindex(ctx, missing, report)
			missing = missing[:0]
		}
		if len(orphans) >= reconcilePageSize {
			r.dropOrphans(ctx, orphans, report)
			orphans = orphans[:0]
		}
	}
	if len(missing) > 0 {
		r.reindex(ctx, missing, report)
	}
	if len(orphans) > 0 {
		r.dropOrphans(ctx, orphans, report)
	}

	r.log.Info(ctx, "reconciliation pass complete",
		"reindexed", report.Reindexed, "orphan_vectors", report.OrphanVectors, "failures", report.Failures)
	return report, nil
}

// reindex re-embeds and re-upserts chunks that exist in the store without a
// vector. Chunk id equals embedding ref, so the refs hydrate directly.
func (r *Reconciler) reindex(ctx context.Context, refs []string, report *Report) {
	if r.metrics != nil {
		r.metrics.OrphanChunks.Add(float64(len(refs)))
	}

	chunks, err := r.chunks.GetMany(ctx, refs)
	if err != nil {
		r.log.Error(ctx, "reconciliation hydrate failed", "count", len(refs), "error", err)
		report.Failures += len(refs)
		return
	}

	var entries []index.Entry
	for _, c := range chunks {
		if c == nil {
			continue
		}
		vec, err := r.embedder.Embed(ctx, c.Text)
		if err != nil {
			r.log.Warn(ctx, "reconciliation embed failed", "chunk_id", c.ID, "error", err)
			report.Failures++
			continue
		}
		entries = append(entries, index.Entry{Ref: c.EmbeddingRef, Vector: vec, Restricts: c.Restricts})
	}
	if len(entries) == 0 {
		return
	}
	if err := r.idx.Upsert(ctx, entries); err != nil {
		r.log.Error(ctx, "reconciliation upsert failed", "count", len(entries), "error", err)
		report.Failures += len(entries)
		return
	}
	report.Reindexed += len(entries)
}

// dropOrphans deletes vectors that have no backing chunk row.
func (r *Reconciler) dropOrphans(ctx context.Context, refs []string, report *Report) {
	if err := r.idx.Delete(ctx, refs); err != nil {
		r.log.Error(ctx, "orphan vector delete failed", "count", len(refs), "error", err)
		report.Failures += len(refs)
		return
	}
	report.OrphanVectors += len(refs)
}

// Schedule runs reconciliation on a cron schedule until the returned cron is
// stopped. Each pass is bounded by runTimeout.
func (r *Reconciler) Schedule(spec string, runTimeout time.Duration) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if _, err := r.Run(ctx); err != nil {
			r.log.Error(ctx, "scheduled reconciliation failed", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

// refPager pulls one lexicographic ref stream page by page.
type refPager struct {
	next  func(ctx context.Context, afterRef string, limit int) ([]string, error)
	buf   []string
	pos   int
	after string
	done  bool
}

func (p *refPager) peek(ctx context.Context) (string, bool, error) {
	for p.pos >= len(p.buf) {
		if p.done {
			return "", false, nil
		}
		page, err := p.next(ctx, p.after, reconcilePageSize)
		if err != nil {
			return "", false, err
		}
		if len(page) == 0 {
			p.done = true
			return "", false, nil
		}
		p.buf = page
		p.pos = 0
		p.after = page[len(page)-1]
		if len(page) < reconcilePageSize {
			p.done = true
		}
	}
	return p.buf[p.pos], true, nil
}

func (p *refPager) advance() { p.pos++ }
