// Package postgres implements the chunk store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/groundline/groundline/internal/errdefs"
	"github.com/groundline/groundline/internal/rag/store"
	"github.com/groundline/groundline/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements store.ChunkStore on PostgreSQL with pgvector.
type Store struct {
	db        *sql.DB
	dimension int
	ownsDB    bool
}

var _ store.ChunkStore = (*Store)(nil)

// Config contains configuration for the postgres store.
type Config struct {
	// DSN is the PostgreSQL connection string; ignored when DB is set.
	DSN string

	// DB is an existing connection to reuse. The store will not close it.
	DB *sql.DB

	// Dimension is the embedding dimension.
	Dimension int

	// RunMigrations applies pending migrations on startup.
	RunMigrations bool
}

// New creates a postgres chunk store.
func New(cfg Config) (*Store, error) {
	if cfg.Dimension <= 0 {
		cfg.Dimension = 768
	}

	var db *sql.DB
	var ownsDB bool
	if cfg.DB != nil {
		db = cfg.DB
	} else if cfg.DSN != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		ownsDB = true

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
	} else {
		return nil, fmt.Errorf("either DSN or DB must be provided")
	}

	s := &Store{db: db, dimension: cfg.Dimension, ownsDB: ownsDB}
	if cfg.RunMigrations {
		if err := s.runMigrations(context.Background()); err != nil {
			if ownsDB {
				db.Close()
			}
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return s, nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	names, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	applied := map[string]bool{}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("query schema_migrations: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		applied[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, name := range names {
		if applied[name] {
			continue
		}
		sqlBytes, err := migrationsFS.ReadFile(name)
		if err != nil {
			return err
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (id) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

// PutDocument records a document, idempotent on ID.
func (s *Store) PutDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		return errdefs.InvalidInput("document id is required")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, filename, content_type, size_bytes, sha256, uploader_id, object_ref, chunk_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			object_ref = EXCLUDED.object_ref,
			chunk_count = EXCLUDED.chunk_count
	`, doc.ID, doc.Filename, string(doc.ContentType), doc.SizeBytes, doc.SHA256,
		doc.UploaderID, doc.ObjectRef, doc.ChunkCount, doc.CreatedAt)
	if err != nil {
		return storeErr("upsert document", err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	var contentType string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, filename, content_type, size_bytes, sha256, uploader_id, object_ref, chunk_count, created_at
		FROM documents WHERE id = $1
	`, id).Scan(&doc.ID, &doc.Filename, &contentType, &doc.SizeBytes, &doc.SHA256,
		&doc.UploaderID, &doc.ObjectRef, &doc.ChunkCount, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("document " + id)
	}
	if err != nil {
		return nil, storeErr("query document", err)
	}
	doc.ContentType = models.ContentType(contentType)
	return &doc, nil
}

// UpsertMany writes chunks in atomic sub-batches, idempotent on chunk ID.
func (s *Store) UpsertMany(ctx context.Context, chunks []*models.Chunk) ([]string, error) {
	if err := store.ValidateChunks(chunks); err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(chunks))
	for start := 0; start < len(chunks); start += store.UpsertBatchSize {
		end := start + store.UpsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := s.upsertBatch(ctx, chunks[start:end]); err != nil {
			return nil, err
		}
		for _, c := range chunks[start:end] {
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

func (s *Store) upsertBatch(ctx context.Context, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin chunk batch", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, ordinal, text, embedding, embedding_ref, pii_categories, restricts, start_offset, end_offset, token_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return storeErr("prepare chunk insert", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		restricts, err := json.Marshal(c.Restricts)
		if err != nil {
			return errdefs.InvalidInput("chunk " + c.ID + ": unserializable restricts")
		}

		var embedding any
		if len(c.Embedding) > 0 {
			embedding = pgvector.NewVector(c.Embedding)
		}

		if _, err := stmt.ExecContext(ctx,
			c.ID, c.DocumentID, c.Ordinal, c.Text, embedding, c.EmbeddingRef,
			pq.Array(c.PIICategories), string(restricts),
			c.StartOffset, c.EndOffset, c.TokenCount, c.CreatedAt,
		); err != nil {
			return storeErr("insert chunk "+c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit chunk batch", err)
	}
	return nil
}

// GetMany retrieves chunks preserving request order, nil for missing IDs.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]*models.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, ordinal, text, embedding_ref, pii_categories, restricts, start_offset, end_offset, token_count, created_at
		FROM chunks WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, storeErr("query chunks", err)
	}
	defer rows.Close()

	byID := make(map[string]*models.Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate chunks", err)
	}

	out := make([]*models.Chunk, len(ids))
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out, nil
}

func scanChunk(rows *sql.Rows) (*models.Chunk, error) {
	var c models.Chunk
	var categories pq.StringArray
	var restricts []byte
	if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Text, &c.EmbeddingRef,
		&categories, &restricts, &c.StartOffset, &c.EndOffset, &c.TokenCount, &c.CreatedAt); err != nil {
		return nil, storeErr("scan chunk", err)
	}
	c.PIICategories = categories
	if len(restricts) > 0 {
		if err := json.Unmarshal(restricts, &c.Restricts); err != nil {
			return nil, storeErr("decode restricts for "+c.ID, err)
		}
	}
	return &c, nil
}

// DeleteByDoc removes all chunks for a document.
func (s *Store) DeleteByDoc(ctx context.Context, docID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, docID)
	if err != nil {
		return 0, storeErr("delete chunks", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteDocument removes the document record; chunks cascade.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return storeErr("delete document", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound("document " + id)
	}
	return nil
}

// ListEmbeddingRefs pages through non-empty embedding refs in lexicographic
// order.
func (s *Store) ListEmbeddingRefs(ctx context.Context, afterRef string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT embedding_ref FROM chunks
		WHERE embedding_ref <> '' AND embedding_ref > $1
		ORDER BY embedding_ref LIMIT $2
	`, afterRef, limit)
	if err != nil {
		return nil, storeErr("list embedding refs", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, storeErr("scan embedding ref", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// Stats reports store-wide counts.
func (s *Store) Stats(ctx context.Context) (*models.StoreStats, error) {
	stats := &models.StoreStats{EmbeddingDimension: s.dimension}
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT count(*) FROM documents), (SELECT count(*) FROM chunks)
	`).Scan(&stats.TotalDocuments, &stats.TotalChunks)
	if err != nil {
		return nil, storeErr("query stats", err)
	}
	return stats, nil
}

// Close releases the connection when the store owns it.
func (s *Store) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// storeErr classifies driver failures into the error taxonomy. Constraint
// violations are caller errors; everything else is an outage.
func storeErr(op string, err error) error {
	if pqErr, ok := err.(*pq.Error); ok && strings.HasPrefix(string(pqErr.Code), "23") {
		return errdefs.InvalidInput(op + ": " + pqErr.Message)
	}
	return errdefs.Unavailable(errdefs.KindChunkStoreUnavailable,
		fmt.Errorf("%s: %w", op, err)).WithStage("persist")
}
