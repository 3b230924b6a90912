// Package query drives the question-answering pipeline: admission, history,
// retrieval, reranking, compression, generation, session recording. The
// generator is only ever called with evidence from this pipeline or with an
// explicit no-evidence note; it never runs as a free-form language model.
package query

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/groundline/groundline/internal/embeddings"
	"github.com/groundline/groundline/internal/errdefs"
	"github.com/groundline/groundline/internal/generate"
	"github.com/groundline/groundline/internal/observability"
	"github.com/groundline/groundline/internal/rag/compress"
	"github.com/groundline/groundline/internal/rag/index"
	"github.com/groundline/groundline/internal/rag/rerank"
	"github.com/groundline/groundline/internal/rag/store"
	"github.com/groundline/groundline/internal/ratelimit"
	"github.com/groundline/groundline/internal/sessions"
	"github.com/groundline/groundline/pkg/models"
)

// Parameter bounds of one query, used when the configuration leaves them
// unset.
const (
	DefaultTopK                = 5
	MaxTopK                    = 20
	DefaultCandidateMultiplier = 3

	// MinCandidates floors the raw retrieval width.
	MinCandidates = 15
)

// Request is one query submission.
type Request struct {
	Question string
	UserID   string
	// ClientKey identifies the caller for admission control; defaults to
	// UserID.
	ClientKey string
	// SessionID continues an existing conversation; empty starts a new
	// session.
	SessionID  string
	UseHistory bool
	TopK       int
}

// Config bounds one query.
type Config struct {
	// ContextTokens is the token budget for compressed evidence.
	ContextTokens int
	// Deadline is the wall-clock budget for the whole query.
	Deadline time.Duration
	// HistoryLimit caps how many messages load from the session.
	HistoryLimit int
	// TopKDefault fills in an unset per-request top_k; TopKMax clamps it.
	TopKDefault int
	TopKMax     int
	// CandidateMultiplier scales top_k into the raw retrieval width,
	// floored at MinCandidates.
	CandidateMultiplier int
}

// DefaultConfig returns the default query bounds. The context budget is half
// the default generation budget's input side.
func DefaultConfig() Config {
	return Config{
		ContextTokens:       4000,
		Deadline:            30 * time.Second,
		HistoryLimit:        generate.RecentMessageLimit,
		TopKDefault:         DefaultTopK,
		TopKMax:             MaxTopK,
		CandidateMultiplier: DefaultCandidateMultiplier,
	}
}

// Deps are the pipeline collaborators, wired by the composition root.
type Deps struct {
	Embedder  *embeddings.Batcher
	Index     index.VectorIndex
	Chunks    store.ChunkStore
	Reranker  *rerank.Reranker
	Generator *generate.Generator
	Sessions  sessions.Store
	Limiter   *ratelimit.Limiter
	Log       *observability.Logger
	Metrics   *observability.Metrics
}

// Orchestrator runs the query state machine per request.
type Orchestrator struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

// New creates a query orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	if deps.Log == nil {
		deps.Log = observability.Nop()
	}
	def := DefaultConfig()
	if cfg.ContextTokens <= 0 {
		cfg.ContextTokens = def.ContextTokens
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = def.Deadline
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.TopKDefault <= 0 {
		cfg.TopKDefault = def.TopKDefault
	}
	if cfg.TopKMax <= 0 {
		cfg.TopKMax = def.TopKMax
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = def.CandidateMultiplier
	}
	return &Orchestrator{deps: deps, cfg: cfg, now: time.Now}
}

// Query answers one question. A refusal from the upstream model comes back
// as a blocked result, not an error.
func (o *Orchestrator) Query(ctx context.Context, req Request) (*models.QueryResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, errdefs.InvalidInput("question is empty")
	}
	topK := req.TopK
	if topK <= 0 {
		topK = o.cfg.TopKDefault
	}
	if topK > o.cfg.TopKMax {
		topK = o.cfg.TopKMax
	}

	key := req.ClientKey
	if key == "" {
		key = req.UserID
	}
	if d := o.deps.Limiter.Admit(key); !d.Allowed {
		if o.deps.Metrics != nil {
			o.deps.Metrics.RateLimitRejections.Inc()
		}
		return nil, errdefs.Throttled(d.RetryAfter)
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Deadline)
	defer cancel()

	timings := models.StageTimings{}
	startedAt := o.now().UTC()

	sessionID, history, err := o.loadHistory(ctx, req, question)
	if err != nil {
		return nil, err
	}
	o.mark(timings, "history", startedAt)

	embedStart := o.now()
	queryVec, err := o.deps.Embedder.Embed(ctx, question)
	o.mark(timings, "embed", embedStart)
	if err != nil {
		return nil, o.stageErr(ctx, "embed", err)
	}

	retrieveStart := o.now()
	candidatesN := o.cfg.CandidateMultiplier * topK
	if candidatesN < MinCandidates {
		candidatesN = MinCandidates
	}
	matches, err := o.deps.Index.Query(ctx, queryVec, candidatesN, nil)
	if err != nil {
		o.mark(timings, "retrieve", retrieveStart)
		return nil, o.stageErr(ctx, "retrieve", err)
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.RetrievalCandidates.Observe(float64(len(matches)))
	}

	candidates, err := o.hydrate(ctx, matches)
	o.mark(timings, "retrieve", retrieveStart)
	if err != nil {
		return nil, o.stageErr(ctx, "retrieve", err)
	}

	// Zero candidates skip straight to generation with an explicit
	// no-evidence note.
	var contexts []*models.Chunk
	if len(candidates) > 0 {
		rerankStart := o.now()
		scored, err := o.deps.Reranker.Rerank(ctx, question, candidates, topK)
		o.mark(timings, "rerank", rerankStart)
		if err != nil {
			return nil, o.stageErr(ctx, "rerank", err)
		}

		compressStart := o.now()
		contexts = compress.Compress(scored, o.cfg.ContextTokens)
		o.mark(timings, "compress", compressStart)
	}

	generateStart := o.now()
	gen, err := o.deps.Generator.Generate(ctx, question, contexts, history)
	genStatus := "success"
	if err != nil {
		genStatus = "error"
	} else if gen.Blocked {
		genStatus = "blocked"
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.LLMRequestDuration.WithLabelValues("chat", genStatus).
			Observe(o.now().Sub(generateStart).Seconds())
	}
	o.mark(timings, "generate", generateStart)
	if err != nil {
		return nil, o.stageErr(ctx, "generate", err)
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.LLMTokensUsed.WithLabelValues("prompt").Add(float64(gen.PromptTokens))
		o.deps.Metrics.LLMTokensUsed.WithLabelValues("completion").Add(float64(gen.CompletionTokens))
	}

	recordStart := o.now()
	o.record(ctx, sessionID, question, gen, timings)
	o.mark(timings, "record", recordStart)

	result := &models.QueryResult{
		Answer:    gen.Answer,
		Citations: gen.Citations,
		SessionID: sessionID,
		TokenUsage: models.TokenUsage{
			PromptTokens:     gen.PromptTokens,
			CompletionTokens: gen.CompletionTokens,
		},
		Timings:   timings,
		Blocked:   gen.Blocked,
		RequestID: observability.RequestID(ctx),
		CreatedAt: startedAt,
	}
	for _, c := range contexts {
		result.ContextsUsed = append(result.ContextsUsed, c.ID)
	}
	return result, nil
}

// loadHistory resolves the session and loads recent dialog. A session store
// outage degrades to a history-less query under the no-session id; a client
// naming an unknown or foreign session is an error.
func (o *Orchestrator) loadHistory(ctx context.Context, req Request, question string) (string, []models.Message, error) {
	if req.SessionID == sessions.NoSessionID {
		return sessions.NoSessionID, nil, nil
	}

	if req.SessionID == "" {
		id, err := o.deps.Sessions.CreateSession(ctx, req.UserID, question)
		if err != nil {
			if errdefs.KindOf(err) == errdefs.KindSessionUnavailable {
				o.deps.Log.Warn(ctx, "session store unavailable, proceeding without history", "error", err)
				return sessions.NoSessionID, nil, nil
			}
			return "", nil, o.stageErr(ctx, "history", err)
		}
		return id, nil, nil
	}

	meta, err := o.deps.Sessions.GetMeta(ctx, req.SessionID)
	if err != nil {
		if errdefs.KindOf(err) == errdefs.KindSessionUnavailable {
			o.deps.Log.Warn(ctx, "session store unavailable, proceeding without history", "error", err)
			return sessions.NoSessionID, nil, nil
		}
		return "", nil, o.stageErr(ctx, "history", err)
	}
	if meta.UserID != req.UserID {
		return "", nil, errdefs.Forbidden("session belongs to another user")
	}

	if !req.UseHistory {
		return req.SessionID, nil, nil
	}
	history, err := o.deps.Sessions.Recent(ctx, req.SessionID, o.cfg.HistoryLimit)
	if err != nil {
		if errdefs.KindOf(err) == errdefs.KindSessionUnavailable {
			o.deps.Log.Warn(ctx, "session store unavailable, proceeding without history", "error", err)
			return sessions.NoSessionID, nil, nil
		}
		return "", nil, o.stageErr(ctx, "history", err)
	}
	return req.SessionID, history, nil
}

// hydrate resolves index matches to chunk rows, dropping orphans.
func (o *Orchestrator) hydrate(ctx context.Context, matches []index.Match) ([]rerank.Candidate, error) {
	if len(matches) == 0 {
		return nil, nil
	}
	refs := make([]string, len(matches))
	for i, m := range matches {
		refs[i] = m.Ref
	}
	chunks, err := o.deps.Chunks.GetMany(ctx, refs)
	if err != nil {
		return nil, err
	}

	candidates := make([]rerank.Candidate, 0, len(matches))
	for i, c := range chunks {
		if c == nil {
			o.deps.Log.Warn(ctx, "dropping orphan candidate without a chunk row", "ref", refs[i])
			continue
		}
		candidates = append(candidates, rerank.Candidate{Chunk: c, RetrievalScore: matches[i].Score})
	}
	return candidates, nil
}

// record appends the turn to the session. Recording failures degrade the
// query to history-less, they never fail it.
func (o *Orchestrator) record(ctx context.Context, sessionID, question string, gen *generate.Result, timings models.StageTimings) {
	if sessionID == sessions.NoSessionID {
		return
	}
	if err := o.deps.Sessions.Append(ctx, sessionID, models.Message{
		Role:    models.RoleUser,
		Content: question,
	}); err != nil {
		o.deps.Log.Warn(ctx, "failed to record user message", "session_id", sessionID, "error", err)
		return
	}
	if err := o.deps.Sessions.Append(ctx, sessionID, models.Message{
		Role:    models.RoleAssistant,
		Content: gen.Answer,
		Meta: &models.MessageMeta{
			PromptTokens:     gen.PromptTokens,
			CompletionTokens: gen.CompletionTokens,
			LatencyMS:        timings.Total(),
			Citations:        gen.Citations,
		},
	}); err != nil {
		o.deps.Log.Warn(ctx, "failed to record assistant message", "session_id", sessionID, "error", err)
	}
}

// stageErr translates a component failure into the taxonomy, annotated with
// the failed transition. A deadline hit anywhere reports as such.
func (o *Orchestrator) stageErr(ctx context.Context, stage string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errdefs.DeadlineExceeded(stage)
	}
	var te *errdefs.Error
	if errors.As(err, &te) {
		if te.Stage == "" {
			return te.WithStage(stage)
		}
		return te
	}
	return errdefs.Internal(err).WithStage(stage)
}

func (o *Orchestrator) mark(timings models.StageTimings, stage string, start time.Time) {
	elapsed := o.now().Sub(start)
	timings[stage] = elapsed.Milliseconds()
	if o.deps.Metrics != nil {
		o.deps.Metrics.StageDuration.WithLabelValues("query", stage).Observe(elapsed.Seconds())
	}
}
