package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/groundline/groundline/internal/embeddings"
	"github.com/groundline/groundline/internal/embeddings/fake"
	"github.com/groundline/groundline/internal/errdefs"
	"github.com/groundline/groundline/internal/objectstore"
	"github.com/groundline/groundline/internal/pii"
	"github.com/groundline/groundline/internal/rag/chunker"
	"github.com/groundline/groundline/internal/rag/index"
	indexmem "github.com/groundline/groundline/internal/rag/index/memory"
	"github.com/groundline/groundline/internal/rag/parser"
	"github.com/groundline/groundline/internal/rag/parser/text"
	storemem "github.com/groundline/groundline/internal/rag/store/memory"
	"github.com/groundline/groundline/internal/ratelimit"
	"github.com/groundline/groundline/internal/retry"
)

const testDim = 64

type testEnv struct {
	orch  *Orchestrator
	store *storemem.Store
	index *indexmem.Index
	blobs *objectstore.MemoryStore
}

func newTestEnv(t *testing.T, mutate func(*Deps, *ratelimit.Config)) *testEnv {
	t.Helper()

	registry := parser.NewRegistry()
	textParser := text.New()
	registry.Register(textParser)
	registry.SetDefault(textParser)

	limitCfg := ratelimit.Config{
		RatePerMinute:      60,
		MaxRequestBytes:    1 << 20,
		MaxFilesPerRequest: 10,
		Enabled:            true,
	}

	env := &testEnv{
		store: storemem.New(testDim),
		index: indexmem.New(testDim),
		blobs: objectstore.NewMemoryStore(),
	}
	deps := Deps{
		Parsers: registry,
		Chunker: chunker.NewSizeSplitter(chunker.Config{
			MaxChunkSize:        300,
			MinChunkSize:        60,
			Overlap:             30,
			SimilarityThreshold: 0.75,
		}),
		Embedder: embeddings.NewBatcher(fake.New(testDim), 16),
		Detector: pii.NewDetector(),
		Chunks:   env.store,
		Blobs:    env.blobs,
		Index:    env.index,
	}
	if mutate != nil {
		mutate(&deps, &limitCfg)
	}
	deps.Limiter = ratelimit.NewLimiter(limitCfg)
	env.orch = New(deps, Config{FanOut: 4, Deadline: 10 * time.Second})
	return env
}

func sampleText() []byte {
	var b strings.Builder
	for i := 0; i < 12; i++ {
		b.WriteString("The migration job copies one partition per worker and verifies checksums on arrival. ")
		b.WriteString("Failed partitions are retried from the journal before the cutover window closes. ")
	}
	return []byte(b.String())
}

func TestIngestSingleDocument(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	result, err := env.orch.Ingest(ctx, Submission{
		UploaderID: "user-1",
		Files:      []File{{Filename: "runbook.txt", Data: sampleText()}},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if len(result.DocumentIDs) != 1 {
		t.Fatalf("doc ids = %v", result.DocumentIDs)
	}
	st := result.PerDoc[0]
	if st.Status != StatusIndexed || st.ChunkCount < 2 {
		t.Fatalf("status = %+v", st)
	}

	doc, err := env.store.GetDocument(ctx, st.DocumentID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.ChunkCount != st.ChunkCount || doc.ObjectRef == "" || doc.SHA256 == "" {
		t.Errorf("document record = %+v", doc)
	}

	chunks, err := env.store.GetMany(ctx, result.ChunkIDs)
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	for i, c := range chunks {
		if c == nil {
			t.Fatalf("chunk %d missing", i)
		}
		if c.Ordinal != i {
			t.Errorf("chunk %d ordinal = %d", i, c.Ordinal)
		}
		if c.Restricts["doc_id"][0] != st.DocumentID || c.Restricts["uploader_id"][0] != "user-1" {
			t.Errorf("chunk %d restricts = %v", i, c.Restricts)
		}
	}

	refs, err := env.index.ListRefs(ctx, "", 1000)
	if err != nil {
		t.Fatalf("ListRefs: %v", err)
	}
	if len(refs) != st.ChunkCount {
		t.Errorf("indexed %d vectors, want %d", len(refs), st.ChunkCount)
	}
	if env.blobs.Len() != 1 {
		t.Errorf("blob count = %d", env.blobs.Len())
	}
}

func TestIngestIdempotentReplay(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	at := time.Date(2026, 3, 7, 10, 30, 0, 0, time.UTC)
	env.orch.now = func() time.Time { return at }

	sub := Submission{UploaderID: "user-1", Files: []File{{Filename: "runbook.txt", Data: sampleText()}}}

	first, err := env.orch.Ingest(ctx, sub)
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	at = at.Add(10 * time.Minute)
	second, err := env.orch.Ingest(ctx, sub)
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}

	if first.DocumentIDs[0] != second.DocumentIDs[0] {
		t.Errorf("replay produced a new doc id: %s vs %s", first.DocumentIDs[0], second.DocumentIDs[0])
	}
	if env.blobs.Len() != 1 {
		t.Errorf("replay duplicated the blob: %d", env.blobs.Len())
	}
	refs, _ := env.index.ListRefs(ctx, "", 1000)
	if len(refs) != first.PerDoc[0].ChunkCount {
		t.Errorf("replay changed the vector count: %d", len(refs))
	}
}

func TestIngestPIITagging(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	data := []byte("Escalations go to oncall@example.com until the handover completes.")
	result, err := env.orch.Ingest(ctx, Submission{
		UploaderID: "user-1",
		Files:      []File{{Filename: "contacts.txt", Data: data}},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	chunks, err := env.store.GetMany(ctx, result.ChunkIDs)
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	if len(chunks) != 1 || len(chunks[0].PIICategories) == 0 || chunks[0].PIICategories[0] != "email" {
		t.Errorf("pii categories = %+v", chunks)
	}
	if !strings.Contains(chunks[0].Text, "oncall@example.com") {
		t.Error("chunk text must be stored intact")
	}
}

func TestIngestPartialFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	garbage := make([]byte, 256)
	result, err := env.orch.Ingest(ctx, Submission{
		UploaderID: "user-1",
		Files: []File{
			{Filename: "good.txt", Data: sampleText()},
			{Filename: "bad.txt", Data: garbage},
		},
	})
	if err != nil {
		t.Fatalf("one good document should carry the submission: %v", err)
	}
	if result.PerDoc[0].Status != StatusIndexed {
		t.Errorf("good doc = %+v", result.PerDoc[0])
	}
	if result.PerDoc[1].Status != StatusRejected || result.PerDoc[1].Error == "" {
		t.Errorf("bad doc = %+v", result.PerDoc[1])
	}
	if len(result.DocumentIDs) != 1 {
		t.Errorf("doc ids = %v", result.DocumentIDs)
	}
}

func TestIngestAllRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.orch.Ingest(ctx, Submission{
		UploaderID: "user-1",
		Files:      []File{{Filename: "bad.txt", Data: make([]byte, 128)}},
	})
	if errdefs.KindOf(err) != errdefs.KindPartialFailure {
		t.Errorf("kind = %v, want partial_failure", errdefs.KindOf(err))
	}
}

func TestIngestThrottled(t *testing.T) {
	env := newTestEnv(t, func(_ *Deps, cfg *ratelimit.Config) {
		cfg.RatePerMinute = 1
	})
	ctx := context.Background()
	sub := Submission{UploaderID: "user-1", Files: []File{{Filename: "a.txt", Data: sampleText()}}}

	if _, err := env.orch.Ingest(ctx, sub); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	_, err := env.orch.Ingest(ctx, sub)
	if errdefs.KindOf(err) != errdefs.KindThrottled {
		t.Fatalf("kind = %v, want throttled", errdefs.KindOf(err))
	}
	if errdefs.RetryAfterOf(err) <= 0 {
		t.Error("throttled error must carry retry-after")
	}
}

func TestIngestRequestTooLarge(t *testing.T) {
	env := newTestEnv(t, func(_ *Deps, cfg *ratelimit.Config) {
		cfg.MaxRequestBytes = 10
	})
	_, err := env.orch.Ingest(context.Background(), Submission{
		UploaderID: "user-1",
		Files:      []File{{Filename: "a.txt", Data: sampleText()}},
	})
	if errdefs.KindOf(err) != errdefs.KindRequestTooLarge {
		t.Errorf("kind = %v, want request_too_large", errdefs.KindOf(err))
	}
}

// failingIndex rejects upserts while delegating everything else.
type failingIndex struct {
	index.VectorIndex
	failing bool
}

func (f *failingIndex) Upsert(ctx context.Context, entries []index.Entry) error {
	if f.failing {
		// Permanent stops the orchestrator's retry loop.
		return retry.Permanent(errors.New("index down"))
	}
	return f.VectorIndex.Upsert(ctx, entries)
}

func TestIngestIndexFailureLeavesChunksForReconciliation(t *testing.T) {
	var fi *failingIndex
	env := newTestEnv(t, func(deps *Deps, _ *ratelimit.Config) {
		fi = &failingIndex{VectorIndex: deps.Index, failing: true}
		deps.Index = fi
	})
	ctx := context.Background()

	result, err := env.orch.Ingest(ctx, Submission{
		UploaderID: "user-1",
		Files:      []File{{Filename: "runbook.txt", Data: sampleText()}},
	})
	if errdefs.KindOf(err) != errdefs.KindPartialFailure {
		t.Fatalf("kind = %v, want partial_failure", errdefs.KindOf(err))
	}
	st := result.PerDoc[0]
	if st.Status != StatusFailed {
		t.Fatalf("status = %+v", st)
	}

	// The chunk rows were committed before the index failed.
	storeRefs, err := env.store.ListEmbeddingRefs(ctx, "", 1000)
	if err != nil {
		t.Fatalf("ListEmbeddingRefs: %v", err)
	}
	if len(storeRefs) == 0 {
		t.Fatal("chunks must survive an index failure")
	}
	indexRefs, _ := env.index.ListRefs(ctx, "", 1000)
	if len(indexRefs) != 0 {
		t.Fatalf("index refs = %v", indexRefs)
	}

	// Reconciliation repairs the divergence once the index recovers.
	fi.failing = false
	rec := NewReconciler(env.store, fi, embeddings.NewBatcher(fake.New(testDim), 16), nil, nil)
	report, err := rec.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Reindexed != len(storeRefs) || report.Failures != 0 {
		t.Errorf("report = %+v, want %d reindexed", report, len(storeRefs))
	}
	indexRefs, _ = env.index.ListRefs(ctx, "", 1000)
	if len(indexRefs) != len(storeRefs) {
		t.Errorf("index refs after repair = %d, want %d", len(indexRefs), len(storeRefs))
	}
}

func TestIngestPerDocErrorOmitsUpstreamText(t *testing.T) {
	env := newTestEnv(t, func(deps *Deps, _ *ratelimit.Config) {
		deps.Index = &failingIndex{VectorIndex: deps.Index, failing: true}
	})

	result, err := env.orch.Ingest(context.Background(), Submission{
		UploaderID: "user-1",
		Files:      []File{{Filename: "runbook.txt", Data: sampleText()}},
	})
	if errdefs.KindOf(err) != errdefs.KindPartialFailure {
		t.Fatalf("kind = %v, want partial_failure", errdefs.KindOf(err))
	}

	st := result.PerDoc[0]
	if st.Error == "" {
		t.Fatal("failed doc must carry an error")
	}
	// The client sees the taxonomy rendering, never the upstream text.
	if strings.Contains(st.Error, "index down") {
		t.Errorf("per-doc error leaks upstream text: %q", st.Error)
	}
}

func TestReconcilerDropsOrphanVectors(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	vec := make([]float32, testDim)
	vec[0] = 1
	if err := env.index.Upsert(ctx, []index.Entry{{Ref: "ghost-c0000", Vector: vec}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	rec := NewReconciler(env.store, env.index, embeddings.NewBatcher(fake.New(testDim), 16), nil, nil)
	report, err := rec.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.OrphanVectors != 1 || report.Reindexed != 0 {
		t.Errorf("report = %+v", report)
	}
	refs, _ := env.index.ListRefs(ctx, "", 10)
	if len(refs) != 0 {
		t.Errorf("orphan vector survived: %v", refs)
	}
}

func TestDeleteDocument(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	result, err := env.orch.Ingest(ctx, Submission{
		UploaderID: "user-1",
		Files:      []File{{Filename: "runbook.txt", Data: sampleText()}},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	docID := result.DocumentIDs[0]

	if err := env.orch.DeleteDocument(ctx, docID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	if _, err := env.store.GetDocument(ctx, docID); errdefs.KindOf(err) != errdefs.KindNotFound {
		t.Errorf("document survived delete: %v", err)
	}
	refs, _ := env.index.ListRefs(ctx, "", 1000)
	if len(refs) != 0 {
		t.Errorf("vectors survived delete: %v", refs)
	}
	if env.blobs.Len() != 0 {
		t.Errorf("blob survived delete")
	}

	if err := env.orch.DeleteDocument(ctx, "doc-missing"); errdefs.KindOf(err) != errdefs.KindNotFound {
		t.Errorf("missing doc error = %v", err)
	}
}

func TestDocumentIDWindow(t *testing.T) {
	sha := strings.Repeat("ab", 32)
	base := time.Date(2026, 3, 7, 10, 5, 0, 0, time.UTC)

	same := DocumentID(sha, base.Add(20*time.Minute))
	if DocumentID(sha, base) != same {
		t.Error("ids within one window must match")
	}
	if DocumentID(sha, base.Add(2*time.Hour)) == same {
		t.Error("ids across windows must differ")
	}
}
