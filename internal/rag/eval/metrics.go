package eval

import "math"

// PrecisionRecall computes retrieval precision and recall over document ids.
func PrecisionRecall(retrieved, expected []string) (precision, recall float64) {
	if len(retrieved) == 0 {
		return 0, 0
	}
	expectedSet := toSet(expected)
	relevant := 0
	for _, id := range dedupe(retrieved) {
		if _, ok := expectedSet[id]; ok {
			relevant++
		}
	}
	precision = float64(relevant) / float64(len(dedupe(retrieved)))
	if len(expectedSet) == 0 {
		return precision, 0
	}
	recall = float64(relevant) / float64(len(expectedSet))
	return precision, recall
}

// MRR computes the mean reciprocal rank of the first relevant document.
func MRR(retrieved, expected []string) float64 {
	expectedSet := toSet(expected)
	for idx, id := range retrieved {
		if _, ok := expectedSet[id]; ok {
			return 1.0 / float64(idx+1)
		}
	}
	return 0
}

// NDCG computes normalized discounted cumulative gain for binary relevance.
func NDCG(retrieved, expected []string) float64 {
	expectedSet := toSet(expected)
	if len(expectedSet) == 0 || len(retrieved) == 0 {
		return 0
	}
	dcg := 0.0
	for idx, id := range retrieved {
		if _, ok := expectedSet[id]; ok {
			dcg += 1.0 / math.Log2(float64(idx+2))
		}
	}
	n := len(expectedSet)
	if len(retrieved) < n {
		n = len(retrieved)
	}
	idcg := 0.0
	for i := 0; i < n; i++ {
		idcg += 1.0 / math.Log2(float64(i+2))
	}
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
