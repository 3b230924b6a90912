package models

import (
	"time"
)

// Citation resolves a [k] marker in the answer back to a specific chunk.
type Citation struct {
	Index      int     `json:"index"`
	DocumentID string  `json:"doc_id"`
	ChunkID    string  `json:"chunk_id"`
	Excerpt    string  `json:"excerpt"`
	Score      float64 `json:"score,omitempty"`
}

// CitationExcerptLen is the number of characters of chunk text included in a
// citation excerpt.
const CitationExcerptLen = 300

// TokenUsage reports prompt and completion token counts for one generation.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// StageTimings records per-stage wall-clock latency for one query, keyed by
// pipeline stage name.
type StageTimings map[string]int64

// Total returns the sum of all recorded stage latencies in milliseconds.
func (t StageTimings) Total() int64 {
	var total int64
	for _, ms := range t {
		total += ms
	}
	return total
}

// QueryResult is the per-request outcome of the query pipeline. It is not
// persisted beyond the assistant message metadata written into the session.
type QueryResult struct {
	Answer       string       `json:"answer"`
	Citations    []Citation   `json:"citations"`
	ContextsUsed []string     `json:"contexts_used"`
	SessionID    string       `json:"session_id"`
	TokenUsage   TokenUsage   `json:"token_usage"`
	Timings      StageTimings `json:"latency_ms"`
	Blocked      bool         `json:"blocked,omitempty"`
	RequestID    string       `json:"request_id"`
	CreatedAt    time.Time    `json:"-"`
}

// EvalScores is the composite quality score returned by /evaluate.
type EvalScores struct {
	Faithfulness float64 `json:"faithfulness"`
	Correctness  float64 `json:"correctness"`
	Precision    float64 `json:"precision"`
	Recall       float64 `json:"recall"`
	Toxicity     float64 `json:"toxicity"`
	Composite    float64 `json:"composite"`
}
