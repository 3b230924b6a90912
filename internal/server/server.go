// Package server exposes the HTTP surface of the service: ingest, query,
// session history, evaluation, probes, and the metrics endpoint. Handlers
// assume an authenticated identity resolved by the auth collaborator; the
// middleware here only carries it, it does not verify credentials.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/groundline/groundline/internal/ingest"
	"github.com/groundline/groundline/internal/observability"
	"github.com/groundline/groundline/internal/query"
	"github.com/groundline/groundline/internal/rag/store"
	"github.com/groundline/groundline/internal/sessions"
)

// Config bounds the HTTP server.
type Config struct {
	Host string
	Port int

	// MaxRequestBytes caps an ingest upload; requests beyond it are cut off
	// at the socket.
	MaxRequestBytes int64

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// DefaultConfig returns the default server bounds.
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              8080,
		MaxRequestBytes:   10 << 20,
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Check is one readiness probe target.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Deps are the orchestrators and stores the handlers call into.
type Deps struct {
	Ingest   *ingest.Orchestrator
	Query    *query.Orchestrator
	Sessions sessions.Store
	Chunks   store.ChunkStore

	// Readiness lists the dependency probes /readiness walks.
	Readiness []Check

	// MetricsHandler serves /metrics; defaults to the process-wide
	// Prometheus registry.
	MetricsHandler http.Handler

	Log     *observability.Logger
	Metrics *observability.Metrics
}

// Server is the HTTP front of the service.
type Server struct {
	cfg  Config
	deps Deps

	httpServer *http.Server
}

// New creates a server. The handler tree is built once; Run starts serving.
func New(cfg Config, deps Deps) *Server {
	def := DefaultConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = def.MaxRequestBytes
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = def.ReadHeaderTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if deps.Log == nil {
		deps.Log = observability.Nop()
	}
	if deps.MetricsHandler == nil {
		deps.MetricsHandler = promhttp.Handler()
	}
	return &Server{cfg: cfg, deps: deps}
}

// Handler builds the route tree with middleware applied. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Unauthenticated probes and metrics.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /liveness", s.handleLiveness)
	mux.HandleFunc("GET /readiness", s.handleReadiness)
	mux.Handle("GET /metrics", s.deps.MetricsHandler)

	// Authenticated API. Each route names the permission its caller needs;
	// the middleware resolves it against the caller's role before the
	// handler runs.
	s.route(mux, "POST /ingest", PermDocsWrite, s.handleIngest)
	s.route(mux, "POST /query", PermQueryRun, s.handleQuery)
	s.route(mux, "GET /history/{session_id}", PermSessionsRead, s.handleHistory)
	s.route(mux, "GET /sessions", PermSessionsRead, s.handleListSessions)
	s.route(mux, "DELETE /sessions/{session_id}", PermSessionsWrite, s.handleDeleteSession)
	s.route(mux, "POST /evaluate", PermEvalRun, s.handleEvaluate)
	s.route(mux, "DELETE /documents/{document_id}", PermAdmin, s.handleDeleteDocument)
	s.route(mux, "GET /stats", PermAdmin, s.handleStats)

	return s.withRequestID(mux)
}

// route registers an authenticated, instrumented handler.
func (s *Server) route(mux *http.ServeMux, pattern string, perm Permission, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(pattern, s.withIdentity(perm, h)))
}

// Run serves until the context is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	s.deps.Log.Info(ctx, "http server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.deps.Log.Warn(shutdownCtx, "http server shutdown error", "error", err)
	}
	return <-errCh
}
