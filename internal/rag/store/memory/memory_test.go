package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/groundline/groundline/internal/errdefs"
	"github.com/groundline/groundline/pkg/models"
)

func testChunk(id, docID string, ordinal int) *models.Chunk {
	return &models.Chunk{
		ID:         id,
		DocumentID: docID,
		Ordinal:    ordinal,
		Text:       fmt.Sprintf("chunk %s body", id),
	}
}

func TestUpsertManyIdempotent(t *testing.T) {
	s := New(768)
	ctx := context.Background()

	chunks := []*models.Chunk{testChunk("c1", "d1", 0), testChunk("c2", "d1", 1)}
	ids, err := s.UpsertMany(ctx, chunks)
	if err != nil {
		t.Fatalf("UpsertMany: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v", ids)
	}

	// Replaying the same batch changes nothing.
	mutated := testChunk("c1", "d1", 0)
	mutated.Text = "different text"
	if _, err := s.UpsertMany(ctx, []*models.Chunk{mutated}); err != nil {
		t.Fatalf("replay: %v", err)
	}

	got, err := s.GetMany(ctx, []string{"c1"})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Text != "chunk c1 body" {
		t.Errorf("replay mutated existing chunk: %q", got[0].Text)
	}

	stats, _ := s.Stats(ctx)
	if stats.TotalChunks != 2 {
		t.Errorf("TotalChunks = %d, want 2", stats.TotalChunks)
	}
}

func TestUpsertManyRejectsEmptyText(t *testing.T) {
	s := New(768)
	bad := testChunk("c9", "d1", 0)
	bad.Text = "   "
	_, err := s.UpsertMany(context.Background(), []*models.Chunk{testChunk("c1", "d1", 0), bad})
	if errdefs.KindOf(err) != errdefs.KindInvalidInput {
		t.Fatalf("kind = %v, want invalid_input", errdefs.KindOf(err))
	}

	// Validation happens before any write.
	stats, _ := s.Stats(context.Background())
	if stats.TotalChunks != 0 {
		t.Errorf("partial write after rejected batch: %d chunks", stats.TotalChunks)
	}
}

func TestGetManyPreservesOrderWithHoles(t *testing.T) {
	s := New(768)
	ctx := context.Background()
	s.UpsertMany(ctx, []*models.Chunk{testChunk("a", "d", 0), testChunk("b", "d", 1)})

	got, err := s.GetMany(ctx, []string{"b", "missing", "a"})
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	if got[0] == nil || got[0].ID != "b" {
		t.Errorf("position 0 = %+v, want b", got[0])
	}
	if got[1] != nil {
		t.Errorf("position 1 = %+v, want hole", got[1])
	}
	if got[2] == nil || got[2].ID != "a" {
		t.Errorf("position 2 = %+v, want a", got[2])
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	s := New(768)
	ctx := context.Background()
	s.PutDocument(ctx, &models.Document{ID: "d1", Filename: "a.txt", ContentType: models.ContentTypeText})
	s.UpsertMany(ctx, []*models.Chunk{testChunk("c1", "d1", 0), testChunk("c2", "d2", 0)})

	if err := s.DeleteDocument(ctx, "d1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := s.GetDocument(ctx, "d1"); errdefs.KindOf(err) != errdefs.KindNotFound {
		t.Errorf("document still present after delete")
	}

	got, _ := s.GetMany(ctx, []string{"c1", "c2"})
	if got[0] != nil {
		t.Error("chunk of deleted document survived")
	}
	if got[1] == nil {
		t.Error("chunk of other document was deleted")
	}

	if err := s.DeleteDocument(ctx, "d1"); errdefs.KindOf(err) != errdefs.KindNotFound {
		t.Errorf("second delete: kind = %v, want not_found", errdefs.KindOf(err))
	}
}

func TestDeleteByDoc(t *testing.T) {
	s := New(768)
	ctx := context.Background()
	s.UpsertMany(ctx, []*models.Chunk{
		testChunk("c1", "d1", 0), testChunk("c2", "d1", 1), testChunk("c3", "d2", 0),
	})
	n, err := s.DeleteByDoc(ctx, "d1")
	if err != nil || n != 2 {
		t.Errorf("DeleteByDoc = %d, %v; want 2, nil", n, err)
	}
}

func TestListEmbeddingRefsPages(t *testing.T) {
	s := New(768)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		c := testChunk(fmt.Sprintf("c%d", i), "d", i)
		c.EmbeddingRef = c.ID
		s.UpsertMany(ctx, []*models.Chunk{c})
	}

	page1, err := s.ListEmbeddingRefs(ctx, "", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(page1) != 3 || page1[0] != "c0" {
		t.Fatalf("page1 = %v", page1)
	}
	page2, err := s.ListEmbeddingRefs(ctx, page1[2], 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 2 || page2[0] != "c3" {
		t.Fatalf("page2 = %v", page2)
	}
}
