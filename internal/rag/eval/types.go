// Package eval scores answer quality behind the quality gates. Every
// estimator is deterministic and lexical, so a score is reproducible from
// the answer text alone without another model call.
package eval

// TestSet defines an evaluation dataset.
type TestSet struct {
	Version int        `yaml:"version" json:"version"`
	Name    string     `yaml:"name" json:"name"`
	Cases   []TestCase `yaml:"cases" json:"cases"`
}

// TestCase defines a single evaluation query and its expectations.
type TestCase struct {
	ID    string `yaml:"id" json:"id"`
	Query string `yaml:"query" json:"query"`

	// ExpectedDocIDs are the documents a correct retrieval surfaces.
	ExpectedDocIDs []string `yaml:"expected_doc_ids" json:"expected_doc_ids"`

	// Reference is the reference answer for correctness scoring.
	Reference string `yaml:"reference" json:"reference"`

	// ExpectedAnswerContains are substrings a correct answer includes,
	// matched case-insensitively.
	ExpectedAnswerContains []string `yaml:"expected_answer_contains" json:"expected_answer_contains"`
}

// Composite weights. The weighted toxicity term enters inverted, so a clean
// answer contributes the full weight.
const (
	FaithfulnessWeight = 0.30
	CorrectnessWeight  = 0.25
	PrecisionWeight    = 0.25
	RecallWeight       = 0.15
	ToxicityWeight     = 0.05
)
