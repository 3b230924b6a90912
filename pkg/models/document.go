// Package models defines the core data types for Groundline.
package models

import (
	"path/filepath"
	"strings"
	"time"
)

// ContentType identifies the format of an uploaded document.
type ContentType string

const (
	ContentTypePDF  ContentType = "pdf"
	ContentTypeDOCX ContentType = "docx"
	ContentTypeHTML ContentType = "html"
	ContentTypeText ContentType = "txt"
)

// Document represents one uploaded document. Documents are created exactly
// once per successful upload and never mutated afterwards; re-ingestion of the
// same bytes resolves to the same ID.
type Document struct {
	// ID is derived from the content hash plus the upload timestamp window.
	ID string `json:"id"`

	// Filename is the original filename supplied by the uploader.
	Filename string `json:"filename"`

	// ContentType is the detected or declared format.
	ContentType ContentType `json:"content_type"`

	// SizeBytes is the length of the raw uploaded bytes.
	SizeBytes int64 `json:"size_bytes"`

	// SHA256 is the hex digest of the raw bytes.
	SHA256 string `json:"sha256"`

	// UploaderID is the authenticated user that submitted the document.
	UploaderID string `json:"uploader_id"`

	// ObjectRef points at the raw bytes in the object store.
	ObjectRef string `json:"object_ref,omitempty"`

	// ChunkCount is the number of chunks produced at ingest time.
	ChunkCount int `json:"chunk_count,omitempty"`

	// CreatedAt is when the document was ingested.
	CreatedAt time.Time `json:"created_at"`
}

// Chunk is the unit of retrieval. Chunks are append-only: re-ingestion
// creates new chunks, it never edits existing ones.
type Chunk struct {
	// ID is the chunk identifier; it doubles as the embedding ref in the
	// vector index.
	ID string `json:"id"`

	// DocumentID links the chunk to its parent document.
	DocumentID string `json:"document_id"`

	// Ordinal is the 0-based position inside the document. Ordinals are
	// contiguous per document.
	Ordinal int `json:"ordinal"`

	// Text is the chunk content. Never empty for a stored chunk.
	Text string `json:"text"`

	// Embedding is the vector for this chunk. Not serialized in API
	// responses.
	Embedding []float32 `json:"-"`

	// EmbeddingRef is the reference under which the vector was upserted into
	// the index. Empty when the upsert was deferred after a failure.
	EmbeddingRef string `json:"embedding_ref,omitempty"`

	// PIICategories lists detected PII categories. Empty when none were
	// found. The text itself is stored intact; redaction happens at
	// generation time.
	PIICategories []string `json:"pii_categories,omitempty"`

	// Restricts carries key/value filters propagated into the vector index
	// (at least doc_id).
	Restricts map[string][]string `json:"restricts,omitempty"`

	// StartOffset and EndOffset are character offsets into the extracted
	// document text.
	StartOffset int `json:"start_offset"`
	EndOffset   int `json:"end_offset"`

	// TokenCount is the estimated token count (ceil(len/4)).
	TokenCount int `json:"token_count,omitempty"`

	// CreatedAt is when the chunk was created.
	CreatedAt time.Time `json:"created_at"`
}

// HasPII reports whether any PII category was detected in this chunk.
func (c *Chunk) HasPII() bool {
	return len(c.PIICategories) > 0
}

// ScoredChunk pairs a chunk with a retrieval or rerank score.
type ScoredChunk struct {
	Chunk *Chunk  `json:"chunk"`
	Score float64 `json:"score"`
}

// StoreStats summarizes the state of the chunk store.
type StoreStats struct {
	TotalDocuments     int64 `json:"total_documents"`
	TotalChunks        int64 `json:"total_chunks"`
	EmbeddingDimension int   `json:"embedding_dimension"`
}

// ContentTypeForFilename infers the content type from a filename suffix,
// case-insensitively. ok is false for unsupported suffixes.
func ContentTypeForFilename(name string) (ContentType, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return ContentTypePDF, true
	case ".docx":
		return ContentTypeDOCX, true
	case ".html", ".htm":
		return ContentTypeHTML, true
	case ".txt", ".text", ".md", ".log":
		return ContentTypeText, true
	}
	return "", false
}

// MIMEType returns the canonical MIME type for a content type.
func (t ContentType) MIMEType() string {
	switch t {
	case ContentTypePDF:
		return "application/pdf"
	case ContentTypeDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ContentTypeHTML:
		return "text/html"
	default:
		return "text/plain"
	}
}

// DocStatus reports the per-document outcome of an ingest submission.
type DocStatus struct {
	Filename   string `json:"filename"`
	DocumentID string `json:"document_id,omitempty"`
	ChunkCount int    `json:"chunk_count,omitempty"`
	ObjectRef  string `json:"object_ref,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// IngestResult is the aggregate outcome of one ingest submission.
type IngestResult struct {
	DocumentIDs []string    `json:"doc_ids"`
	ChunkIDs    []string    `json:"chunk_ids"`
	PerDoc      []DocStatus `json:"per_doc_status"`
	StartedAt   time.Time   `json:"-"`
	Duration    time.Duration `json:"-"`
}

// Succeeded reports whether at least one document indexed end-to-end.
func (r *IngestResult) Succeeded() bool {
	for _, d := range r.PerDoc {
		if d.Status == "indexed" {
			return true
		}
	}
	return false
}
