package eval

import (
	"strings"

	"github.com/groundline/groundline/pkg/models"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "i": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {},
	"that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "you": {}, "your": {},
}

// toxicLexicon is deliberately small: the gate catches hostile phrasing in
// generated answers, it is not a content moderation system.
var toxicLexicon = map[string]struct{}{
	"idiot": {}, "idiots": {}, "stupid": {}, "moron": {}, "morons": {},
	"hate": {}, "hateful": {}, "worthless": {}, "pathetic": {},
	"garbage": {}, "trash": {}, "shut": {}, "kill": {}, "die": {},
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()[]{}")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func contentTokens(text string) []string {
	toks := tokenize(text)
	out := toks[:0]
	for _, t := range toks {
		if _, stop := stopwords[t]; !stop {
			out = append(out, t)
		}
	}
	return out
}

// Faithfulness estimates grounding as the fraction of the answer's content
// tokens that appear in the evidence. An answer with no content tokens has
// nothing unsupported and scores 1.
func Faithfulness(answer string, contexts []string) float64 {
	answerToks := contentTokens(answer)
	if len(answerToks) == 0 {
		return 1
	}
	evidence := make(map[string]struct{})
	for _, c := range contexts {
		for _, t := range tokenize(c) {
			evidence[t] = struct{}{}
		}
	}
	if len(evidence) == 0 {
		return 0
	}
	supported := 0
	for _, t := range answerToks {
		if _, ok := evidence[t]; ok {
			supported++
		}
	}
	return float64(supported) / float64(len(answerToks))
}

// Correctness is the token-level F1 between the answer and the reference.
func Correctness(answer, reference string) float64 {
	answerToks := contentTokens(answer)
	refToks := contentTokens(reference)
	if len(answerToks) == 0 || len(refToks) == 0 {
		return 0
	}

	refCounts := make(map[string]int, len(refToks))
	for _, t := range refToks {
		refCounts[t]++
	}
	overlap := 0
	for _, t := range answerToks {
		if refCounts[t] > 0 {
			refCounts[t]--
			overlap++
		}
	}
	if overlap == 0 {
		return 0
	}
	precision := float64(overlap) / float64(len(answerToks))
	recall := float64(overlap) / float64(len(refToks))
	return 2 * precision * recall / (precision + recall)
}

// ContainsScore is the fraction of expected substrings present in the
// answer, matched case-insensitively. Used for correctness when a case has
// no reference answer.
func ContainsScore(answer string, expected []string) float64 {
	if len(expected) == 0 {
		return 0
	}
	lower := strings.ToLower(answer)
	found := 0
	for _, want := range expected {
		if strings.Contains(lower, strings.ToLower(want)) {
			found++
		}
	}
	return float64(found) / float64(len(expected))
}

// Toxicity is the fraction of answer tokens found in the toxic lexicon.
func Toxicity(answer string) float64 {
	toks := tokenize(answer)
	if len(toks) == 0 {
		return 0
	}
	hits := 0
	for _, t := range toks {
		if _, ok := toxicLexicon[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(toks))
}

// Composite folds the five estimators into one gate score. Toxicity enters
// inverted: a clean answer contributes the full weight.
func Composite(s models.EvalScores) float64 {
	return FaithfulnessWeight*s.Faithfulness +
		CorrectnessWeight*s.Correctness +
		PrecisionWeight*s.Precision +
		RecallWeight*s.Recall +
		ToxicityWeight*(1-s.Toxicity)
}

// Score computes the full score set for one answered question.
func Score(answer, reference string, contexts []string, retrieved, expected []string) models.EvalScores {
	precision, recall := PrecisionRecall(retrieved, expected)
	scores := models.EvalScores{
		Faithfulness: Faithfulness(answer, contexts),
		Correctness:  Correctness(answer, reference),
		Precision:    precision,
		Recall:       recall,
		Toxicity:     Toxicity(answer),
	}
	scores.Composite = Composite(scores)
	return scores
}
