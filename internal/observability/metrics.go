package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the central registry of application metrics. All pipeline
// stages record here; the sink never blocks the hot path.
type Metrics struct {
	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// StageDuration measures pipeline stage latency in seconds.
	// Labels: pipeline (ingest|query), stage
	StageDuration *prometheus.HistogramVec

	// IngestDocuments counts documents by ingest outcome.
	// Labels: status (indexed|rejected|failed)
	IngestDocuments *prometheus.CounterVec

	// IngestChunks counts chunks written to the chunk store.
	IngestChunks prometheus.Counter

	// EmbeddingRequestDuration measures embedding API call latency.
	// Labels: status (success|error)
	EmbeddingRequestDuration *prometheus.HistogramVec

	// LLMRequestDuration measures generation call latency.
	// Labels: provider, status (success|blocked|error)
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// RetrievalCandidates observes raw candidate counts per query.
	RetrievalCandidates prometheus.Histogram

	// RateLimitRejections counts throttled requests.
	RateLimitRejections prometheus.Counter

	// OrphanChunks counts chunks found in the store without a vector during
	// reconciliation.
	OrphanChunks prometheus.Counter

	// ErrorCounter tracks errors by component and kind.
	// Labels: component, kind
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry. Call once at startup.
func NewMetrics() *Metrics {
	return newMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers against a caller-supplied registry, for tests.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	return newMetricsWith(reg)
}

func newMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "groundline_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groundline_http_requests_total",
				Help: "Total HTTP requests by method, path and status",
			},
			[]string{"method", "path", "status_code"},
		),

		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "groundline_pipeline_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"pipeline", "stage"},
		),

		IngestDocuments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groundline_ingest_documents_total",
				Help: "Documents processed by ingest outcome",
			},
			[]string{"status"},
		),

		IngestChunks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "groundline_ingest_chunks_total",
				Help: "Chunks written to the chunk store",
			},
		),

		EmbeddingRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "groundline_embedding_request_duration_seconds",
				Help:    "Duration of embedding API requests in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"status"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "groundline_llm_request_duration_seconds",
				Help:    "Duration of generation requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groundline_llm_tokens_total",
				Help: "Token consumption by type",
			},
			[]string{"type"},
		),

		RetrievalCandidates: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "groundline_retrieval_candidates",
				Help:    "Raw candidate counts returned by the vector index",
				Buckets: []float64{0, 1, 5, 10, 15, 30, 60, 100},
			},
		),

		RateLimitRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "groundline_ratelimit_rejections_total",
				Help: "Requests rejected by the admission controller",
			},
		),

		OrphanChunks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "groundline_orphan_chunks_total",
				Help: "Chunks found without a vector during reconciliation",
			},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groundline_errors_total",
				Help: "Errors by component and kind",
			},
			[]string{"component", "kind"},
		),
	}
}
