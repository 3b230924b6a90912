package eval

import (
	"math"
	"testing"
)

func almost(t *testing.T, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPrecisionRecall(t *testing.T) {
	p, r := PrecisionRecall([]string{"a", "b", "c", "d"}, []string{"a", "c", "e"})
	almost(t, p, 0.5)
	almost(t, r, 2.0/3.0)
}

func TestPrecisionRecallDeduplicates(t *testing.T) {
	p, r := PrecisionRecall([]string{"a", "a", "b"}, []string{"a"})
	almost(t, p, 0.5)
	almost(t, r, 1.0)
}

func TestPrecisionRecallEmpty(t *testing.T) {
	p, r := PrecisionRecall(nil, []string{"a"})
	almost(t, p, 0)
	almost(t, r, 0)

	p, r = PrecisionRecall([]string{"a"}, nil)
	almost(t, p, 0)
	almost(t, r, 0)
}

func TestMRR(t *testing.T) {
	almost(t, MRR([]string{"x", "y", "a"}, []string{"a"}), 1.0/3.0)
	almost(t, MRR([]string{"a"}, []string{"a"}), 1.0)
	almost(t, MRR([]string{"x", "y"}, []string{"a"}), 0)
}

func TestNDCGPerfectRanking(t *testing.T) {
	almost(t, NDCG([]string{"a", "b"}, []string{"a", "b"}), 1.0)
}

func TestNDCGRelevantLast(t *testing.T) {
	// Single relevant doc at rank 3: DCG = 1/log2(4), IDCG = 1/log2(2).
	want := (1.0 / math.Log2(4)) / (1.0 / math.Log2(2))
	almost(t, NDCG([]string{"x", "y", "a"}, []string{"a"}), want)
}

func TestNDCGNoRelevant(t *testing.T) {
	almost(t, NDCG([]string{"x", "y"}, []string{"a"}), 0)
}
