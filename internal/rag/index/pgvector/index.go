// Package pgvector implements the vector index on PostgreSQL with the
// pgvector extension. Cosine distance ordering with a ref tie-break keeps
// query results deterministic.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/groundline/groundline/internal/errdefs"
	"github.com/groundline/groundline/internal/rag/index"
)

// Index implements index.VectorIndex on pgvector.
type Index struct {
	db        *sql.DB
	dimension int
	ownsDB    bool
}

var _ index.VectorIndex = (*Index)(nil)

// Config contains configuration for the pgvector index.
type Config struct {
	// DSN is the PostgreSQL connection string; ignored when DB is set.
	DSN string

	// DB is an existing connection to reuse. The index will not close it.
	DB *sql.DB

	// Dimension is the vector dimension.
	Dimension int

	// EnsureSchema creates the vectors table and HNSW index on startup.
	EnsureSchema bool
}

// New creates a pgvector-backed index.
func New(cfg Config) (*Index, error) {
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

	x := &Index{db: db, dimension: cfg.Dimension, ownsDB: ownsDB}
	if cfg.EnsureSchema {
		if err := x.ensureSchema(context.Background()); err != nil {
			if ownsDB {
				db.Close()
			}
			return nil, err
		}
	}
	return x, nil
}

func (x *Index) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS vectors (
			ref        TEXT PRIMARY KEY,
			embedding  vector(%d) NOT NULL,
			restricts  JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, x.dimension),
		`CREATE INDEX IF NOT EXISTS vectors_embedding_idx
			ON vectors USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := x.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure vectors schema: %w", err)
		}
	}
	return nil
}

// Upsert writes entries, idempotent on ref.
func (x *Index) Upsert(ctx context.Context, entries []index.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return indexErr("begin upsert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (ref, embedding, restricts)
		VALUES ($1, $2, $3)
		ON CONFLICT (ref) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			restricts = EXCLUDED.restricts
	`)
	if err != nil {
		return indexErr("prepare upsert", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if e.Ref == "" {
			return errdefs.InvalidInput("entry with empty ref")
		}
		if len(e.Vector) != x.dimension {
			return errdefs.InvalidInput("entry " + e.Ref + ": wrong dimension")
		}
		restricts, err := json.Marshal(e.Restricts)
		if err != nil {
			return errdefs.InvalidInput("entry " + e.Ref + ": unserializable restricts")
		}
		if _, err := stmt.ExecContext(ctx, e.Ref, pgvector.NewVector(e.Vector), string(restricts)); err != nil {
			return indexErr("upsert "+e.Ref, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return indexErr("commit upsert", err)
	}
	return nil
}

// Query returns up to topK matches by descending cosine similarity.
func (x *Index) Query(ctx context.Context, vector []float32, topK int, restricts map[string][]string) ([]index.Match, error) {
	if topK <= 0 {
		return nil, errdefs.InvalidInput("top_k must be positive")
	}
	if len(vector) != x.dimension {
		return nil, errdefs.InvalidInput("query vector has wrong dimension")
	}

	query := `
		SELECT ref, 1 - (embedding <=> $1) AS score
		FROM vectors`
	args := []any{pgvector.NewVector(vector)}

	if len(restricts) > 0 {
		filter, err := json.Marshal(restrictsToContainment(restricts))
		if err != nil {
			return nil, errdefs.InvalidInput("unserializable restricts")
		}
		query += ` WHERE restricts @> $2`
		args = append(args, string(filter))
	}
	query += fmt.Sprintf(`
		ORDER BY embedding <=> $1, ref
		LIMIT %d`, topK)

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, indexErr("query vectors", err)
	}
	defer rows.Close()

	var matches []index.Match
	for rows.Next() {
		var m index.Match
		if err := rows.Scan(&m.Ref, &m.Score); err != nil {
			return nil, indexErr("scan match", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// restrictsToContainment reduces the overlap semantics to a jsonb
// containment check. Single-valued restricts (the common case, doc_id and
// uploader_id) match exactly; multi-valued queries fall back to the first
// value.
func restrictsToContainment(restricts map[string][]string) map[string][]string {
	out := make(map[string][]string, len(restricts))
	for k, vals := range restricts {
		if len(vals) > 0 {
			out[k] = vals[:1]
		}
	}
	return out
}

// Delete removes entries by ref.
func (x *Index) Delete(ctx context.Context, refs []string) error {
	if len(refs) == 0 {
		return nil
	}
	if _, err := x.db.ExecContext(ctx, `DELETE FROM vectors WHERE ref = ANY($1)`, pq.Array(refs)); err != nil {
		return indexErr("delete vectors", err)
	}
	return nil
}

// ListRefs pages refs in lexicographic order.
func (x *Index) ListRefs(ctx context.Context, afterRef string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := x.db.QueryContext(ctx, `
		SELECT ref FROM vectors WHERE ref > $1 ORDER BY ref LIMIT $2
	`, afterRef, limit)
	if err != nil {
		return nil, indexErr("list refs", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, indexErr("scan ref", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// Close releases the connection when the index owns it.
func (x *Index) Close() error {
	if x.ownsDB {
		return x.db.Close()
	}
	return nil
}

func indexErr(op string, err error) error {
	return errdefs.Unavailable(errdefs.KindVectorIndexUnavailable,
		fmt.Errorf("%s: %w", op, err)).WithStage("index")
}
