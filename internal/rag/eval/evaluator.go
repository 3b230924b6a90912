package eval

import (
	"context"
	"time"

	"github.com/groundline/groundline/internal/observability"
	"github.com/groundline/groundline/internal/query"
	"github.com/groundline/groundline/internal/rag/store"
	"github.com/groundline/groundline/internal/sessions"
	"github.com/groundline/groundline/pkg/models"
)

// DefaultPassThreshold is the composite score a case must reach to pass.
const DefaultPassThreshold = 0.70

// QueryRunner answers one question. Satisfied by query.Orchestrator.
type QueryRunner interface {
	Query(ctx context.Context, req query.Request) (*models.QueryResult, error)
}

// Config bounds one evaluation run.
type Config struct {
	// UserID is the synthetic identity evaluation queries run under.
	UserID string
	// TopK overrides the retrieval width per case when positive.
	TopK int
	// PassThreshold is the composite score a case must reach to pass.
	PassThreshold float64
}

// Evaluator replays a test set through the live query pipeline and scores
// each answer. Evaluation queries run session-less so they never pollute
// conversation history.
type Evaluator struct {
	runner QueryRunner
	chunks store.ChunkStore
	cfg    Config
	log    *observability.Logger
	now    func() time.Time
}

// New creates an evaluator.
func New(runner QueryRunner, chunks store.ChunkStore, cfg Config, log *observability.Logger) *Evaluator {
	if log == nil {
		log = observability.Nop()
	}
	if cfg.UserID == "" {
		cfg.UserID = "evaluator"
	}
	if cfg.PassThreshold <= 0 {
		cfg.PassThreshold = DefaultPassThreshold
	}
	return &Evaluator{runner: runner, chunks: chunks, cfg: cfg, log: log, now: time.Now}
}

// Run evaluates every case in the set. A failing query marks its case as
// errored and the run continues; only a canceled context aborts the run.
func (e *Evaluator) Run(ctx context.Context, set *TestSet) (*Report, error) {
	report := &Report{
		TestSetName: set.Name,
		Threshold:   e.cfg.PassThreshold,
		GeneratedAt: e.now().UTC(),
	}
	for _, tc := range set.Cases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Cases = append(report.Cases, e.runCase(ctx, tc))
	}
	report.Summary = summarize(report.Cases)
	return report, nil
}

func (e *Evaluator) runCase(ctx context.Context, tc TestCase) CaseResult {
	cr := CaseResult{ID: tc.ID, Query: tc.Query}

	res, err := e.runner.Query(ctx, query.Request{
		Question:  tc.Query,
		UserID:    e.cfg.UserID,
		SessionID: sessions.NoSessionID,
		TopK:      e.cfg.TopK,
	})
	if err != nil {
		e.log.Warn(ctx, "evaluation query failed", "case_id", tc.ID, "error", err)
		cr.Error = err.Error()
		return cr
	}

	cr.Answer = res.Answer
	cr.Blocked = res.Blocked
	cr.LatencyMS = res.Timings.Total()

	contexts, docIDs := e.resolveContexts(ctx, res.ContextsUsed)
	cr.RetrievedDocIDs = docIDs

	cr.Scores = Score(res.Answer, tc.Reference, contexts, docIDs, tc.ExpectedDocIDs)
	if tc.Reference == "" && len(tc.ExpectedAnswerContains) > 0 {
		cr.Scores.Correctness = ContainsScore(res.Answer, tc.ExpectedAnswerContains)
		cr.Scores.Composite = Composite(cr.Scores)
	}
	cr.MRR = MRR(docIDs, tc.ExpectedDocIDs)
	cr.NDCG = NDCG(docIDs, tc.ExpectedDocIDs)
	cr.Passed = !cr.Blocked && cr.Scores.Composite >= e.cfg.PassThreshold
	return cr
}

// resolveContexts hydrates the chunk ids an answer was generated from into
// chunk texts and the ordered, deduplicated list of parent document ids.
func (e *Evaluator) resolveContexts(ctx context.Context, chunkIDs []string) (texts, docIDs []string) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	chunks, err := e.chunks.GetMany(ctx, chunkIDs)
	if err != nil {
		e.log.Warn(ctx, "failed to hydrate evaluation contexts", "error", err)
		return nil, nil
	}
	seen := make(map[string]struct{})
	for _, c := range chunks {
		if c == nil {
			continue
		}
		texts = append(texts, c.Text)
		if _, ok := seen[c.DocumentID]; !ok {
			seen[c.DocumentID] = struct{}{}
			docIDs = append(docIDs, c.DocumentID)
		}
	}
	return texts, docIDs
}
