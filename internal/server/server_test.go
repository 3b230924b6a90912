package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundline/groundline/internal/embeddings"
	"github.com/groundline/groundline/internal/embeddings/fake"
	"github.com/groundline/groundline/internal/generate"
	"github.com/groundline/groundline/internal/ingest"
	"github.com/groundline/groundline/internal/objectstore"
	"github.com/groundline/groundline/internal/observability"
	"github.com/groundline/groundline/internal/pii"
	"github.com/groundline/groundline/internal/query"
	"github.com/groundline/groundline/internal/rag/chunker"
	indexmem "github.com/groundline/groundline/internal/rag/index/memory"
	"github.com/groundline/groundline/internal/rag/parser"
	"github.com/groundline/groundline/internal/rag/parser/text"
	"github.com/groundline/groundline/internal/rag/rerank"
	storemem "github.com/groundline/groundline/internal/rag/store/memory"
	"github.com/groundline/groundline/internal/ratelimit"
	"github.com/groundline/groundline/internal/sessions"
	"github.com/groundline/groundline/pkg/models"
)

const testDim = 64

type fakeLM struct {
	respond func(req *generate.Request) *generate.Completion
}

func (f *fakeLM) Complete(_ context.Context, req *generate.Request) (*generate.Completion, error) {
	if f.respond != nil {
		return f.respond(req), nil
	}
	return &generate.Completion{Text: "answer [1]", PromptTokens: 40, CompletionTokens: 8}, nil
}

func (f *fakeLM) Name() string { return "fake" }

type serverEnv struct {
	srv      *Server
	handler  http.Handler
	sessions *sessions.MemoryStore
	store    *storemem.Store
	lm       *fakeLM
}

type envOptions struct {
	queryRate  int
	ingestRate int
	readiness  []Check
}

func newServerEnv(t *testing.T, opts envOptions) *serverEnv {
	t.Helper()
	if opts.queryRate == 0 {
		opts.queryRate = 600
	}
	if opts.ingestRate == 0 {
		opts.ingestRate = 600
	}

	registry := parser.NewRegistry()
	textParser := text.New()
	registry.Register(textParser)
	registry.SetDefault(textParser)

	embedder := embeddings.NewBatcher(fake.New(testDim), 16)
	chunks := storemem.New(testDim)
	idx := indexmem.New(testDim)
	blobs := objectstore.NewMemoryStore()
	sess := sessions.NewMemory(0)
	lm := &fakeLM{}

	ingestOrch := ingest.New(ingest.Deps{
		Parsers: registry,
		Chunker: chunker.NewSizeSplitter(chunker.Config{
			MaxChunkSize:        300,
			MinChunkSize:        60,
			Overlap:             30,
			SimilarityThreshold: 0.75,
		}),
		Embedder: embedder,
		Detector: pii.NewDetector(),
		Chunks:   chunks,
		Blobs:    blobs,
		Index:    idx,
		Limiter: ratelimit.NewLimiter(ratelimit.Config{
			RatePerMinute:      opts.ingestRate,
			MaxRequestBytes:    1 << 20,
			MaxFilesPerRequest: 10,
			Enabled:            true,
		}),
	}, ingest.Config{FanOut: 4, Deadline: 10 * time.Second})

	queryOrch := query.New(query.Deps{
		Embedder:  embedder,
		Index:     idx,
		Chunks:    chunks,
		Reranker:  rerank.New(embedder),
		Generator: generate.New(lm, generate.Config{MaxTokens: 512, Timeout: 5 * time.Second}),
		Sessions:  sess,
		Limiter: ratelimit.NewLimiter(ratelimit.Config{
			RatePerMinute: opts.queryRate,
			Enabled:       true,
		}),
	}, query.Config{Deadline: 10 * time.Second})

	reg := prometheus.NewRegistry()
	srv := New(Config{MaxRequestBytes: 1 << 20}, Deps{
		Ingest:         ingestOrch,
		Query:          queryOrch,
		Sessions:       sess,
		Chunks:         chunks,
		Readiness:      opts.readiness,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Log:            observability.Nop(),
		Metrics:        observability.NewMetricsWith(reg),
	})

	return &serverEnv{srv: srv, handler: srv.Handler(), sessions: sess, store: chunks, lm: lm}
}

func (e *serverEnv) do(t *testing.T, req *http.Request, user, role string) *httptest.ResponseRecorder {
	t.Helper()
	if user != "" {
		req.Header.Set("X-User-Id", user)
	}
	if role != "" {
		req.Header.Set("X-User-Role", role)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func ingestSample(t *testing.T, env *serverEnv) (docID string, chunkIDs []string) {
	t.Helper()
	content := strings.Repeat(
		"Our support hours are 9am to 5pm, Monday to Friday. Contact support for help. ", 8)
	body, contentType := multipartBody(t, map[string]string{"faq.txt": content})
	req := httptest.NewRequest(http.MethodPost, "/ingest", body)
	req.Header.Set("Content-Type", contentType)
	rec := env.do(t, req, "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		DocumentIDs []string `json:"doc_ids"`
		ChunkIDs    []string `json:"chunk_ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.DocumentIDs, 1)
	require.NotEmpty(t, resp.ChunkIDs)
	return resp.DocumentIDs[0], resp.ChunkIDs
}

func sampleMessage(i int) models.Message {
	role := models.RoleUser
	if i%2 == 1 {
		role = models.RoleAssistant
	}
	return models.Message{Role: role, Content: fmt.Sprintf("m%d", i)}
}

func TestIngestEndpoint(t *testing.T) {
	env := newServerEnv(t, envOptions{})
	docID, chunkIDs := ingestSample(t, env)
	assert.True(t, strings.HasPrefix(docID, "doc-"))
	assert.True(t, strings.HasPrefix(chunkIDs[0], docID))
}

func TestIngestPerDocStatusOrderDeterministic(t *testing.T) {
	env := newServerEnv(t, envOptions{})
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range []struct{ field, name string }{
		{"doc-b", "b.txt"}, {"doc-c", "c.txt"}, {"doc-a", "a.txt"},
	} {
		fw, err := w.CreateFormFile(p.field, p.name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(strings.Repeat("File "+p.name+" holds plain facts about hours. ", 6)))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/ingest", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := env.do(t, req, "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		PerDoc []struct {
			Filename string `json:"filename"`
		} `json:"per_doc_status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.PerDoc, 3)
	// Statuses follow the sorted field names, not map iteration order.
	assert.Equal(t, "a.txt", resp.PerDoc[0].Filename)
	assert.Equal(t, "b.txt", resp.PerDoc[1].Filename)
	assert.Equal(t, "c.txt", resp.PerDoc[2].Filename)
}

func TestIngestRequiresIdentity(t *testing.T) {
	env := newServerEnv(t, envOptions{})
	body, contentType := multipartBody(t, map[string]string{"a.txt": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/ingest", body)
	req.Header.Set("Content-Type", contentType)
	rec := env.do(t, req, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIngestRejectsBadMetadata(t *testing.T) {
	env := newServerEnv(t, envOptions{})
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("metadata", "{not json"))
	part, err := w.CreateFormFile("files", "a.txt")
	require.NoError(t, err)
	_, _ = part.Write([]byte("hello"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/ingest", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := env.do(t, req, "user-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryEndpoint(t *testing.T) {
	env := newServerEnv(t, envOptions{})
	_, chunkIDs := ingestSample(t, env)
	env.lm.respond = func(_ *generate.Request) *generate.Completion {
		return &generate.Completion{Text: "Support hours are 9am to 5pm [1].", PromptTokens: 60, CompletionTokens: 10}
	}

	payload := `{"question": "What are the support hours?", "top_k": 3}`
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(payload))
	rec := env.do(t, req, "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Answer    string `json:"answer"`
		SessionID string `json:"session_id"`
		Citations []struct {
			ChunkID string `json:"chunk_id"`
		} `json:"citations"`
		TokenUsage struct {
			PromptTokens int `json:"prompt_tokens"`
		} `json:"token_usage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Answer, "9am to 5pm")
	require.Len(t, resp.Citations, 1)
	assert.Contains(t, chunkIDs, resp.Citations[0].ChunkID)
	assert.Positive(t, resp.TokenUsage.PromptTokens)
	assert.NotEmpty(t, resp.SessionID)
}

func TestQueryEmptyQuestion(t *testing.T) {
	env := newServerEnv(t, envOptions{})
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"question": "  "}`))
	rec := env.do(t, req, "user-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryThrottledCarriesRetryAfter(t *testing.T) {
	env := newServerEnv(t, envOptions{queryRate: 1})
	env.lm.respond = func(_ *generate.Request) *generate.Completion {
		return &generate.Completion{Text: generate.NoEvidenceAnswer}
	}

	first := env.do(t, httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"question":"q"}`)), "user-1", "")
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())

	second := env.do(t, httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"question":"q"}`)), "user-1", "")
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	retryAfter, err := strconv.Atoi(second.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Positive(t, retryAfter)
}

func TestHistoryEndpoint(t *testing.T) {
	env := newServerEnv(t, envOptions{})
	ctx := context.Background()
	sid, err := env.sessions.CreateSession(ctx, "user-1", "hello")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, env.sessions.Append(ctx, sid, sampleMessage(i)))
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/history/"+sid+"?limit=2&offset=1", nil), "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		SessionID string `json:"session_id"`
		Total     int    `json:"total_count"`
		Messages  []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, sid, resp.SessionID)
	assert.Equal(t, 5, resp.Total)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "m1", resp.Messages[0].Content)
	assert.Equal(t, "m2", resp.Messages[1].Content)
}

func TestHistoryForeignSession(t *testing.T) {
	env := newServerEnv(t, envOptions{})
	sid, err := env.sessions.CreateSession(context.Background(), "user-1", "hello")
	require.NoError(t, err)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/history/"+sid, nil), "user-2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHistoryUnknownSession(t *testing.T) {
	env := newServerEnv(t, envOptions{})
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/history/nope", nil), "user-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionsListAndDelete(t *testing.T) {
	env := newServerEnv(t, envOptions{})
	ctx := context.Background()
	sid, err := env.sessions.CreateSession(ctx, "user-1", "first question")
	require.NoError(t, err)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/sessions", nil), "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Sessions []struct {
			ID string `json:"id"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	require.Len(t, listResp.Sessions, 1)
	assert.Equal(t, sid, listResp.Sessions[0].ID)

	del := env.do(t, httptest.NewRequest(http.MethodDelete, "/sessions/"+sid, nil), "user-1", "")
	assert.Equal(t, http.StatusNoContent, del.Code)

	again := env.do(t, httptest.NewRequest(http.MethodDelete, "/sessions/"+sid, nil), "user-1", "")
	assert.Equal(t, http.StatusNotFound, again.Code)
}

func TestDeleteSessionForeignUser(t *testing.T) {
	env := newServerEnv(t, envOptions{})
	sid, err := env.sessions.CreateSession(context.Background(), "user-1", "mine")
	require.NoError(t, err)

	rec := env.do(t, httptest.NewRequest(http.MethodDelete, "/sessions/"+sid, nil), "user-2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEvaluateEndpoint(t *testing.T) {
	env := newServerEnv(t, envOptions{})
	payload := `{
		"question": "How long do refunds take?",
		"answer": "Refunds are processed within five business days.",
		"contexts": ["Refunds are processed within five business days."],
		"ground_truth": "Refunds are processed within five business days."
	}`
	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/evaluate", strings.NewReader(payload)), "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Scores struct {
			Faithfulness float64 `json:"faithfulness"`
			Correctness  float64 `json:"correctness"`
			Composite    float64 `json:"composite"`
		} `json:"scores"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 1.0, resp.Scores.Faithfulness, 1e-9)
	assert.InDelta(t, 1.0, resp.Scores.Correctness, 1e-9)
	assert.Positive(t, resp.Scores.Composite)
}

func TestEvaluateRequiresAnswer(t *testing.T) {
	env := newServerEnv(t, envOptions{})
	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/evaluate", strings.NewReader(`{"question":"q"}`)), "user-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsRequiresAdmin(t *testing.T) {
	env := newServerEnv(t, envOptions{})

	denied := env.do(t, httptest.NewRequest(http.MethodGet, "/stats", nil), "user-1", "user")
	assert.Equal(t, http.StatusForbidden, denied.Code)

	granted := env.do(t, httptest.NewRequest(http.MethodGet, "/stats", nil), "admin-1", "admin")
	require.Equal(t, http.StatusOK, granted.Code)
	var stats struct {
		TotalDocuments int64 `json:"total_documents"`
		Dimension      int   `json:"embedding_dimension"`
	}
	require.NoError(t, json.Unmarshal(granted.Body.Bytes(), &stats))
	assert.Equal(t, testDim, stats.Dimension)
}

func TestDeleteDocument(t *testing.T) {
	env := newServerEnv(t, envOptions{})
	docID, _ := ingestSample(t, env)

	rec := env.do(t, httptest.NewRequest(http.MethodDelete, "/documents/"+docID, nil), "admin-1", "admin")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	again := env.do(t, httptest.NewRequest(http.MethodDelete, "/documents/"+docID, nil), "admin-1", "admin")
	assert.Equal(t, http.StatusNotFound, again.Code)
}

func TestRequestIDEchoed(t *testing.T) {
	env := newServerEnv(t, envOptions{})

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil), "", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rec = env.do(t, req, "", "")
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))
}

func TestReadinessDegraded(t *testing.T) {
	env := newServerEnv(t, envOptions{readiness: []Check{
		{Name: "chunk_store", Ping: func(context.Context) error { return nil }},
		{Name: "session_store", Ping: func(context.Context) error { return errors.New("connection refused") }},
	}})

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/readiness", nil), "", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Checks["chunk_store"])
	assert.Contains(t, resp.Checks["session_store"], "connection refused")
}
