package memory

import (
	"context"
	"testing"

	"github.com/groundline/groundline/internal/errdefs"
	"github.com/groundline/groundline/internal/rag/index"
)

func unit(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestQueryOrdersByScore(t *testing.T) {
	x := New(4)
	ctx := context.Background()

	err := x.Upsert(ctx, []index.Entry{
		{Ref: "far", Vector: unit(4, 1)},
		{Ref: "near", Vector: unit(4, 0)},
		{Ref: "mid", Vector: []float32{0.7071, 0.7071, 0, 0}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := x.Query(ctx, unit(4, 0), 3, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("got %d matches", len(matches))
	}
	if matches[0].Ref != "near" || matches[1].Ref != "mid" || matches[2].Ref != "far" {
		t.Errorf("order = %s %s %s", matches[0].Ref, matches[1].Ref, matches[2].Ref)
	}
	if matches[0].Score < 0.999 {
		t.Errorf("best score = %v, want ~1", matches[0].Score)
	}
}

func TestQueryTieBreaksByRef(t *testing.T) {
	x := New(4)
	ctx := context.Background()

	// Identical vectors force a score tie.
	x.Upsert(ctx, []index.Entry{
		{Ref: "bbb", Vector: unit(4, 0)},
		{Ref: "aaa", Vector: unit(4, 0)},
		{Ref: "ccc", Vector: unit(4, 0)},
	})

	matches, err := x.Query(ctx, unit(4, 0), 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	if matches[0].Ref != "aaa" || matches[1].Ref != "bbb" || matches[2].Ref != "ccc" {
		t.Errorf("tie-break order = %s %s %s", matches[0].Ref, matches[1].Ref, matches[2].Ref)
	}
}

func TestQueryTopKLimits(t *testing.T) {
	x := New(4)
	ctx := context.Background()
	for _, ref := range []string{"a", "b", "c", "d"} {
		x.Upsert(ctx, []index.Entry{{Ref: ref, Vector: unit(4, 0)}})
	}
	matches, _ := x.Query(ctx, unit(4, 0), 2, nil)
	if len(matches) != 2 {
		t.Errorf("got %d matches, want 2", len(matches))
	}
}

func TestQueryRestricts(t *testing.T) {
	x := New(4)
	ctx := context.Background()
	x.Upsert(ctx, []index.Entry{
		{Ref: "mine", Vector: unit(4, 0), Restricts: map[string][]string{"doc_id": {"d1"}}},
		{Ref: "other", Vector: unit(4, 0), Restricts: map[string][]string{"doc_id": {"d2"}}},
		{Ref: "untagged", Vector: unit(4, 0)},
	})

	matches, err := x.Query(ctx, unit(4, 0), 10, map[string][]string{"doc_id": {"d1"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Ref != "mine" {
		t.Errorf("restricted matches = %+v", matches)
	}
}

func TestUpsertIdempotentAndDelete(t *testing.T) {
	x := New(4)
	ctx := context.Background()

	x.Upsert(ctx, []index.Entry{{Ref: "r1", Vector: unit(4, 0)}})
	x.Upsert(ctx, []index.Entry{{Ref: "r1", Vector: unit(4, 1)}})
	if x.Len() != 1 {
		t.Errorf("Len = %d, want 1", x.Len())
	}

	// The second upsert replaced the vector.
	matches, _ := x.Query(ctx, unit(4, 1), 1, nil)
	if matches[0].Score < 0.999 {
		t.Errorf("upsert did not replace vector")
	}

	if err := x.Delete(ctx, []string{"r1", "ghost"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if x.Len() != 0 {
		t.Errorf("Len after delete = %d", x.Len())
	}
}

func TestUpsertRejectsWrongDimension(t *testing.T) {
	x := New(4)
	err := x.Upsert(context.Background(), []index.Entry{{Ref: "bad", Vector: unit(8, 0)}})
	if errdefs.KindOf(err) != errdefs.KindInvalidInput {
		t.Errorf("kind = %v, want invalid_input", errdefs.KindOf(err))
	}
}

func TestListRefsPages(t *testing.T) {
	x := New(4)
	ctx := context.Background()
	for _, ref := range []string{"c", "a", "b"} {
		x.Upsert(ctx, []index.Entry{{Ref: ref, Vector: unit(4, 0)}})
	}
	page, err := x.ListRefs(ctx, "a", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0] != "b" || page[1] != "c" {
		t.Errorf("page = %v", page)
	}
}
