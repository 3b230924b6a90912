package objectstore

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/groundline/groundline/internal/errdefs"
)

func TestObjectKeyDatePartitioned(t *testing.T) {
	at := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	key := ObjectKey("doc-abc", at)
	if key != "documents/2026/03/07/doc-abc" {
		t.Errorf("key = %q", key)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	meta := Metadata{
		UploaderID:  "u1",
		Filename:    "report.pdf",
		ContentType: "application/pdf",
		SHA256:      "abc123",
		CreatedAt:   time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}

	ref, err := s.Put(ctx, "doc-1", strings.NewReader("raw bytes"), meta)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.Contains(ref, "documents/2026/01/02/doc-1") {
		t.Errorf("ref = %q", ref)
	}

	rc, gotMeta, err := s.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "raw bytes" {
		t.Errorf("data = %q", data)
	}
	if gotMeta.SHA256 != "abc123" || gotMeta.UploaderID != "u1" {
		t.Errorf("meta = %+v", gotMeta)
	}
}

func TestPutIdempotentOnDocID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	meta := Metadata{CreatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}

	ref1, err := s.Put(ctx, "doc-1", strings.NewReader("original"), meta)
	if err != nil {
		t.Fatal(err)
	}
	ref2, err := s.Put(ctx, "doc-1", strings.NewReader("replayed"), meta)
	if err != nil {
		t.Fatal(err)
	}
	if ref1 != ref2 {
		t.Errorf("refs differ: %q vs %q", ref1, ref2)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}

	// The original bytes survive the replay.
	rc, _, _ := s.Get(ctx, ref1)
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "original" {
		t.Errorf("replay overwrote blob: %q", data)
	}
}

func TestGetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, _, err := s.Get(context.Background(), "mem://documents/2026/01/01/ghost")
	if errdefs.KindOf(err) != errdefs.KindNotFound {
		t.Errorf("kind = %v, want not_found", errdefs.KindOf(err))
	}
}

func TestDeleteAbsentIsNoError(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Delete(context.Background(), "mem://nothing"); err != nil {
		t.Errorf("Delete absent ref: %v", err)
	}
}
