// Package ingest drives the document ingestion pipeline: parse, chunk, PII
// tagging, embedding, persistence, indexing. Documents in one submission are
// processed independently; one document's failure never aborts its siblings.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/groundline/groundline/internal/embeddings"
	"github.com/groundline/groundline/internal/errdefs"
	"github.com/groundline/groundline/internal/objectstore"
	"github.com/groundline/groundline/internal/observability"
	"github.com/groundline/groundline/internal/pii"
	"github.com/groundline/groundline/internal/rag/chunker"
	"github.com/groundline/groundline/internal/rag/index"
	"github.com/groundline/groundline/internal/rag/parser"
	"github.com/groundline/groundline/internal/rag/store"
	"github.com/groundline/groundline/internal/ratelimit"
	"github.com/groundline/groundline/internal/retry"
	"github.com/groundline/groundline/pkg/models"
)

// DocIDWindow buckets ingest timestamps when deriving document ids, so
// concurrent uploads of identical bytes resolve to the same id and the
// second write becomes an idempotent replay.
const DocIDWindow = time.Hour

// Per-document outcome labels.
const (
	StatusIndexed  = "indexed"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
)

// DocumentID derives the id for an upload from its content hash and the
// ingest time window.
func DocumentID(sha256Hex string, receivedAt time.Time) string {
	return fmt.Sprintf("doc-%s-%d", sha256Hex[:16], receivedAt.UTC().Truncate(DocIDWindow).Unix())
}

// ChunkID derives the id of a document's nth chunk. The id doubles as the
// embedding ref, which lets deletes and reconciliation reconstruct the ref
// set from the document record alone.
func ChunkID(docID string, ordinal int) string {
	return fmt.Sprintf("%s-c%04d", docID, ordinal)
}

// File is one uploaded document in a submission.
type File struct {
	Filename string
	// ContentType is the declared MIME type; may be empty, in which case
	// the filename extension routes the parser.
	ContentType string
	Data        []byte
}

// Submission is one ingest request.
type Submission struct {
	UploaderID string
	// ClientKey identifies the caller for admission control; defaults to
	// UploaderID.
	ClientKey string
	Files     []File
}

// Config bounds one ingest request.
type Config struct {
	// FanOut caps how many documents process in parallel.
	FanOut int
	// Deadline is the wall-clock budget for the whole submission.
	Deadline time.Duration
}

// DefaultConfig returns the default ingest bounds.
func DefaultConfig() Config {
	return Config{FanOut: 8, Deadline: 90 * time.Second}
}

// Deps are the pipeline collaborators, wired by the composition root.
type Deps struct {
	Parsers  *parser.Registry
	Chunker  chunker.Chunker
	Embedder *embeddings.Batcher
	Detector *pii.Detector
	Chunks   store.ChunkStore
	Blobs    objectstore.BlobStore
	Index    index.VectorIndex
	Limiter  *ratelimit.Limiter
	Log      *observability.Logger
	Metrics  *observability.Metrics
}

// Orchestrator runs the ingest state machine per submission.
type Orchestrator struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

// New creates an ingest orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	if deps.Log == nil {
		deps.Log = observability.Nop()
	}
	if cfg.FanOut <= 0 {
		cfg.FanOut = DefaultConfig().FanOut
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultConfig().Deadline
	}
	return &Orchestrator{deps: deps, cfg: cfg, now: time.Now}
}

// Ingest admits and processes one submission. The returned result carries a
// per-document status even when the call errors; a submission succeeds when
// at least one document indexed end-to-end.
func (o *Orchestrator) Ingest(ctx context.Context, sub Submission) (*models.IngestResult, error) {
	var totalBytes int64
	for _, f := range sub.Files {
		totalBytes += int64(len(f.Data))
	}
	if err := o.deps.Limiter.ValidateIngest(totalBytes, len(sub.Files)); err != nil {
		return nil, err
	}

	key := sub.ClientKey
	if key == "" {
		key = sub.UploaderID
	}
	if d := o.deps.Limiter.Admit(key); !d.Allowed {
		if o.deps.Metrics != nil {
			o.deps.Metrics.RateLimitRejections.Inc()
		}
		return nil, errdefs.Throttled(d.RetryAfter)
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Deadline)
	defer cancel()

	startedAt := o.now().UTC()
	statuses := make([]models.DocStatus, len(sub.Files))

	g := new(errgroup.Group)
	g.SetLimit(o.cfg.FanOut)
	for i, f := range sub.Files {
		g.Go(func() error {
			statuses[i] = o.ingestOne(ctx, sub.UploaderID, f)
			return nil
		})
	}
	g.Wait()

	result := &models.IngestResult{
		PerDoc:    statuses,
		StartedAt: startedAt,
		Duration:  o.now().UTC().Sub(startedAt),
	}
	for _, st := range statuses {
		if st.Status != StatusIndexed {
			continue
		}
		result.DocumentIDs = append(result.DocumentIDs, st.DocumentID)
		for ord := 0; ord < st.ChunkCount; ord++ {
			result.ChunkIDs = append(result.ChunkIDs, ChunkID(st.DocumentID, ord))
		}
	}

	if !result.Succeeded() {
		if ctx.Err() == context.DeadlineExceeded {
			return result, errdefs.DeadlineExceeded("ingest")
		}
		return result, errdefs.New(errdefs.KindPartialFailure, "no document indexed").WithStage("ingest")
	}
	return result, nil
}

// ingestOne walks a single document through the pipeline. Parse and PII
// failures reject the document and are not retried; downstream failures mark
// it failed and leave any committed writes for reconciliation.
func (o *Orchestrator) ingestOne(ctx context.Context, uploaderID string, f File) models.DocStatus {
	st := models.DocStatus{Filename: f.Filename}
	defer func() {
		if o.deps.Metrics != nil {
			o.deps.Metrics.IngestDocuments.WithLabelValues(st.Status).Inc()
		}
	}()

	receivedAt := o.now().UTC()
	sum := sha256.Sum256(f.Data)
	shaHex := hex.EncodeToString(sum[:])
	docID := DocumentID(shaHex, receivedAt)
	st.DocumentID = docID

	contentType, _ := models.ContentTypeForFilename(f.Filename)

	p, err := o.deps.Parsers.Get(f.ContentType, filepath.Ext(f.Filename))
	if err != nil {
		return o.finish(ctx, st, "parse", err)
	}

	parseStart := o.now()
	parsed, err := p.Parse(ctx, bytes.NewReader(f.Data))
	o.stage("parse", parseStart)
	if err != nil {
		return o.finish(ctx, st, "parse", err)
	}

	chunkStart := o.now()
	pieces, err := o.deps.Chunker.Chunk(ctx, parsed.Content)
	o.stage("chunk", chunkStart)
	if err != nil {
		return o.finish(ctx, st, "chunk", err)
	}
	if len(pieces) == 0 {
		return o.finish(ctx, st, "chunk", errdefs.InvalidInput("document produced no chunks"))
	}

	piiStart := o.now()
	records := make([]*models.Chunk, len(pieces))
	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		det := o.deps.Detector.Detect(piece.Text)
		id := ChunkID(docID, i)
		records[i] = &models.Chunk{
			ID:           id,
			DocumentID:   docID,
			Ordinal:      i,
			Text:         piece.Text,
			EmbeddingRef: id,
			Restricts: map[string][]string{
				"doc_id":      {docID},
				"uploader_id": {uploaderID},
			},
			PIICategories: det.Categories,
			StartOffset:   piece.StartOffset,
			EndOffset:     piece.EndOffset,
			TokenCount:    models.EstimateTokens(piece.Text),
			CreatedAt:     receivedAt,
		}
		texts[i] = piece.Text
	}
	o.stage("pii", piiStart)

	embedStart := o.now()
	vectors, err := o.deps.Embedder.EmbedBatch(ctx, texts)
	o.stage("embed", embedStart)
	if err != nil {
		return o.finish(ctx, st, "embed", err)
	}
	for i, vec := range vectors {
		records[i].Embedding = vec
	}

	persistStart := o.now()
	objectRef, err := o.deps.Blobs.Put(ctx, docID, bytes.NewReader(f.Data), objectstore.Metadata{
		UploaderID:  uploaderID,
		Filename:    f.Filename,
		ContentType: string(contentType),
		SHA256:      shaHex,
		CreatedAt:   receivedAt,
	})
	if err != nil {
		o.stage("persist", persistStart)
		return o.finish(ctx, st, "persist", err)
	}
	st.ObjectRef = objectRef

	doc := &models.Document{
		ID:          docID,
		Filename:    f.Filename,
		ContentType: contentType,
		SizeBytes:   int64(len(f.Data)),
		SHA256:      shaHex,
		UploaderID:  uploaderID,
		ObjectRef:   objectRef,
		ChunkCount:  len(records),
		CreatedAt:   receivedAt,
	}
	if err := o.deps.Chunks.PutDocument(ctx, doc); err != nil {
		o.stage("persist", persistStart)
		return o.finish(ctx, st, "persist", err)
	}
	if _, err := o.deps.Chunks.UpsertMany(ctx, records); err != nil {
		o.stage("persist", persistStart)
		return o.finish(ctx, st, "persist", err)
	}
	o.stage("persist", persistStart)
	st.ChunkCount = len(records)
	if o.deps.Metrics != nil {
		o.deps.Metrics.IngestChunks.Add(float64(len(records)))
	}

	// Chunk rows are committed first. An index failure here leaves them
	// retrievable by id, and the reconciler re-upserts the vectors later.
	indexStart := o.now()
	entries := make([]index.Entry, len(records))
	for i, rec := range records {
		entries[i] = index.Entry{Ref: rec.EmbeddingRef, Vector: rec.Embedding, Restricts: rec.Restricts}
	}
	err = retry.Do(ctx, retry.Dependency(), func() error {
		return o.deps.Index.Upsert(ctx, entries)
	})
	o.stage("index", indexStart)
	if err != nil {
		o.deps.Log.Warn(ctx, "vector upsert failed after chunk persist, leaving for reconciliation",
			"doc_id", docID, "chunks", len(records), "error", err)
		return o.finish(ctx, st, "index", err)
	}

	st.Status = StatusIndexed
	return st
}

// finish classifies a step failure into the document's terminal status.
func (o *Orchestrator) finish(ctx context.Context, st models.DocStatus, stage string, err error) models.DocStatus {
	kind := errdefs.KindOf(err)
	if kind == errdefs.KindInvalidInput {
		st.Status = StatusRejected
	} else {
		st.Status = StatusFailed
	}
	// The status travels back to the client; the cause stays in the log.
	st.Error = errdefs.ClientMessage(err)
	o.deps.Log.Warn(ctx, "document ingest did not complete",
		"filename", st.Filename, "doc_id", st.DocumentID, "stage", stage,
		"status", st.Status, "kind", string(kind), "error", err)
	return st
}

func (o *Orchestrator) stage(name string, start time.Time) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.StageDuration.WithLabelValues("ingest", name).Observe(o.now().Sub(start).Seconds())
	}
}

// DeleteDocument removes a document end-to-end: vectors first so the index
// never points at missing chunks, then chunk rows, blob, and the document
// record.
func (o *Orchestrator) DeleteDocument(ctx context.Context, docID string) error {
	doc, err := o.deps.Chunks.GetDocument(ctx, docID)
	if err != nil {
		return err
	}

	refs := make([]string, doc.ChunkCount)
	for i := range refs {
		refs[i] = ChunkID(docID, i)
	}
	if err := o.deps.Index.Delete(ctx, refs); err != nil {
		return err
	}
	if _, err := o.deps.Chunks.DeleteByDoc(ctx, docID); err != nil {
		return err
	}
	if doc.ObjectRef != "" {
		if err := o.deps.Blobs.Delete(ctx, doc.ObjectRef); err != nil {
			return err
		}
	}
	return o.deps.Chunks.DeleteDocument(ctx, docID)
}
