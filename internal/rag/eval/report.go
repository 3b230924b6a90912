package eval

import (
	"encoding/json"
	"io"
	"time"

	"github.com/groundline/groundline/pkg/models"
)

// CaseResult is the scored outcome of a single test case.
type CaseResult struct {
	ID      string `json:"id"`
	Query   string `json:"query"`
	Answer  string `json:"answer,omitempty"`
	Blocked bool   `json:"blocked,omitempty"`

	RetrievedDocIDs []string          `json:"retrieved_doc_ids,omitempty"`
	Scores          models.EvalScores `json:"scores"`
	MRR             float64           `json:"mrr"`
	NDCG            float64           `json:"ndcg"`

	LatencyMS int64  `json:"latency_ms"`
	Passed    bool   `json:"passed"`
	Error     string `json:"error,omitempty"`
}

// Summary aggregates a run. Means are taken over cases that produced an
// answer; errored cases count toward Errors only.
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Errors int `json:"errors"`

	MeanComposite    float64 `json:"mean_composite"`
	MeanFaithfulness float64 `json:"mean_faithfulness"`
	MeanCorrectness  float64 `json:"mean_correctness"`
	MeanPrecision    float64 `json:"mean_precision"`
	MeanRecall       float64 `json:"mean_recall"`
	MeanMRR          float64 `json:"mean_mrr"`
	MeanNDCG         float64 `json:"mean_ndcg"`

	PassRate float64 `json:"pass_rate"`
}

// Report is the full outcome of one evaluation run.
type Report struct {
	TestSetName string       `json:"test_set"`
	Threshold   float64      `json:"threshold"`
	GeneratedAt time.Time    `json:"generated_at"`
	Cases       []CaseResult `json:"cases"`
	Summary     Summary      `json:"summary"`
}

// Gate reports whether the run as a whole passes: no errored cases and
// every scored case at or above the threshold.
func (r *Report) Gate() bool {
	return r.Summary.Errors == 0 && r.Summary.Failed == 0 && r.Summary.Total > 0
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func summarize(cases []CaseResult) Summary {
	s := Summary{Total: len(cases)}
	scored := 0
	for _, c := range cases {
		if c.Error != "" {
			s.Errors++
			continue
		}
		scored++
		if c.Passed {
			s.Passed++
		} else {
			s.Failed++
		}
		s.MeanComposite += c.Scores.Composite
		s.MeanFaithfulness += c.Scores.Faithfulness
		s.MeanCorrectness += c.Scores.Correctness
		s.MeanPrecision += c.Scores.Precision
		s.MeanRecall += c.Scores.Recall
		s.MeanMRR += c.MRR
		s.MeanNDCG += c.NDCG
	}
	if scored > 0 {
		n := float64(scored)
		s.MeanComposite /= n
		s.MeanFaithfulness /= n
		s.MeanCorrectness /= n
		s.MeanPrecision /= n
		s.MeanRecall /= n
		s.MeanMRR /= n
		s.MeanNDCG /= n
	}
	if s.Total > 0 {
		s.PassRate = float64(s.Passed) / float64(s.Total)
	}
	return s
}
