package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/groundline/groundline/internal/config"
	"github.com/groundline/groundline/internal/embeddings"
	openaiemb "github.com/groundline/groundline/internal/embeddings/openai"
	"github.com/groundline/groundline/internal/generate"
	"github.com/groundline/groundline/internal/ingest"
	"github.com/groundline/groundline/internal/objectstore"
	"github.com/groundline/groundline/internal/observability"
	"github.com/groundline/groundline/internal/pii"
	"github.com/groundline/groundline/internal/query"
	"github.com/groundline/groundline/internal/rag/chunker"
	"github.com/groundline/groundline/internal/rag/index/pgvector"
	"github.com/groundline/groundline/internal/rag/parser"
	"github.com/groundline/groundline/internal/rag/parser/docx"
	"github.com/groundline/groundline/internal/rag/parser/html"
	"github.com/groundline/groundline/internal/rag/parser/pdf"
	"github.com/groundline/groundline/internal/rag/parser/text"
	"github.com/groundline/groundline/internal/rag/rerank"
	"github.com/groundline/groundline/internal/rag/store/postgres"
	"github.com/groundline/groundline/internal/ratelimit"
	"github.com/groundline/groundline/internal/server"
	"github.com/groundline/groundline/internal/sessions"
)

// app holds the wired components. Everything is constructed here, in one
// place, and passed down explicitly; no package-level singletons.
type app struct {
	cfg *config.Config
	log *observability.Logger

	metrics       *observability.Metrics
	tracerStop    func(context.Context) error
	db            *sql.DB
	chunks        *postgres.Store
	index         *pgvector.Index
	blobs         *objectstore.S3Store
	sessionStore  *sessions.RedisStore
	embedder      *embeddings.Batcher
	ingestOrch    *ingest.Orchestrator
	queryOrch     *query.Orchestrator
	reconciler    *ingest.Reconciler
	serverFactory func() *server.Server
}

// buildApp wires every component from the resolved configuration.
func buildApp(ctx context.Context, cfg *config.Config, log *observability.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	metrics := observability.NewMetrics()
	_, tracerStop := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "groundline",
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Chunk store and vector index share the connection pool.
	chunks, err := postgres.New(postgres.Config{
		DB:            db,
		Dimension:     cfg.Embedding.Dim,
		RunMigrations: true,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init chunk store: %w", err)
	}
	idx, err := pgvector.New(pgvector.Config{
		DB:           db,
		Dimension:    cfg.Embedding.Dim,
		EnsureSchema: true,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init vector index: %w", err)
	}

	blobs, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
		Bucket:          cfg.Object.Bucket,
		Region:          cfg.Object.Region,
		Endpoint:        cfg.Object.Endpoint,
		AccessKeyID:     cfg.Object.AccessKeyID,
		SecretAccessKey: cfg.Object.SecretAccessKey,
		UsePathStyle:    cfg.Object.UsePathStyle,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init object store: %w", err)
	}

	sessionStore := sessions.NewRedis(sessions.RedisConfig{
		Addr:     cfg.Sessions.RedisAddr,
		Password: cfg.Sessions.RedisPassword,
		DB:       cfg.Sessions.RedisDB,
		TTL:      cfg.Sessions.TTL,
	})

	embProvider, err := openaiemb.New(embeddings.Config{
		APIKey:    cfg.Embedding.APIKey,
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dim,
		BatchSize: cfg.Embedding.BatchMax,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	embedder := embeddings.NewBatcher(embProvider, cfg.Embedding.BatchMax).
		WithTimeout(cfg.Embedding.Timeout)

	chatProvider, err := buildChatProvider(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	generator := generate.New(chatProvider, generate.Config{
		MaxTokens: cfg.Generate.MaxTokens,
		Timeout:   cfg.Generate.Timeout,
	})

	registry := parser.NewRegistry()
	textParser := text.New()
	registry.Register(textParser)
	registry.Register(html.New())
	registry.Register(pdf.New())
	registry.Register(docx.New())
	registry.SetDefault(textParser)

	chunkCfg := chunker.Config{
		MaxChunkSize:        cfg.Chunking.MaxChars,
		MinChunkSize:        cfg.Chunking.MinChars,
		Overlap:             cfg.Chunking.OverlapChars,
		SimilarityThreshold: cfg.Chunking.SimilarityThreshold,
	}

	// One admission controller for the whole API: ingest and query draw
	// from the same per-client bucket.
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RatePerMinute:      cfg.Limits.RatePerMinute,
		MaxRequestBytes:    cfg.Limits.MaxRequestBytes,
		MaxFilesPerRequest: cfg.Limits.MaxFilesPerRequest,
		Enabled:            true,
	})

	ingestOrch := ingest.New(ingest.Deps{
		Parsers:  registry,
		Chunker:  chunker.NewSemantic(chunkCfg, embedder, log),
		Embedder: embedder,
		Detector: pii.NewDetector(),
		Chunks:   chunks,
		Blobs:    blobs,
		Index:    idx,
		Limiter:  limiter,
		Log:      log,
		Metrics:  metrics,
	}, ingest.Config{
		FanOut:   cfg.Limits.FanOut,
		Deadline: cfg.Server.IngestDeadline,
	})

	queryOrch := query.New(query.Deps{
		Embedder: embedder,
		Index:    idx,
		Chunks:   chunks,
		Reranker: rerank.NewWithWeights(embedder, rerank.Weights{
			Retrieval: cfg.Retrieval.RerankRetrievalWeight,
			Semantic:  cfg.Retrieval.RerankSemanticWeight,
			Length:    cfg.Retrieval.RerankLengthWeight,
		}),
		Generator: generator,
		Sessions:  sessionStore,
		Limiter:   limiter,
		Log:       log,
		Metrics:   metrics,
	}, query.Config{
		ContextTokens:       cfg.Generate.ContextTokenBudget,
		Deadline:            cfg.Server.QueryDeadline,
		HistoryLimit:        cfg.Generate.RecentMessages,
		TopKDefault:         cfg.Retrieval.TopKDefault,
		TopKMax:             cfg.Retrieval.TopKMax,
		CandidateMultiplier: cfg.Retrieval.CandidateMultiplier,
	})

	a := &app{
		cfg:          cfg,
		log:          log,
		metrics:      metrics,
		tracerStop:   tracerStop,
		db:           db,
		chunks:       chunks,
		index:        idx,
		blobs:        blobs,
		sessionStore: sessionStore,
		embedder:     embedder,
		ingestOrch:   ingestOrch,
		queryOrch:    queryOrch,
		reconciler:   ingest.NewReconciler(chunks, idx, embedder, log, metrics),
	}
	a.serverFactory = func() *server.Server {
		return server.New(server.Config{
			Host:            cfg.Server.Host,
			Port:            cfg.Server.HTTPPort,
			MaxRequestBytes: cfg.Limits.MaxRequestBytes,
		}, server.Deps{
			Ingest:   ingestOrch,
			Query:    queryOrch,
			Sessions: sessionStore,
			Chunks:   chunks,
			Readiness: []server.Check{
				{Name: "database", Ping: db.PingContext},
				{Name: "session_store", Ping: sessionStore.Ping},
			},
			Log:     log,
			Metrics: metrics,
		})
	}
	return a, nil
}

func buildChatProvider(cfg *config.Config) (generate.ChatProvider, error) {
	switch cfg.Generate.Provider {
	case "openai", "":
		return generate.NewOpenAI(generate.OpenAIConfig{
			APIKey:  cfg.Generate.APIKey,
			BaseURL: cfg.Generate.BaseURL,
			Model:   cfg.Generate.Model,
		})
	case "anthropic":
		return generate.NewAnthropic(generate.AnthropicConfig{
			APIKey:  cfg.Generate.APIKey,
			BaseURL: cfg.Generate.BaseURL,
			Model:   cfg.Generate.Model,
		})
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Generate.Provider)
	}
}

// Close releases the shared resources in reverse construction order.
func (a *app) Close(ctx context.Context) {
	if err := a.sessionStore.Close(); err != nil {
		a.log.Warn(ctx, "close session store", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn(ctx, "close database", "error", err)
	}
	if a.tracerStop != nil {
		if err := a.tracerStop(ctx); err != nil {
			a.log.Warn(ctx, "stop tracer", "error", err)
		}
	}
}
