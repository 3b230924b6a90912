package html

import (
	"context"
	"strings"
	"testing"

	"github.com/groundline/groundline/internal/errdefs"
)

const sampleHTML = `<!DOCTYPE html>
<html>
<head><title>Release Notes</title></head>
<body>
<nav><a href="/">Home</a> | <a href="/about">About</a></nav>
<article>
<h1>Release Notes</h1>
<p>The storage layer now batches writes, which reduces commit latency under
sustained ingest load. Deployments should see lower p99 latencies.</p>
<p>The query planner gained support for filtered traversal so that access
checks happen before scoring rather than after.</p>
</article>
<footer>Copyright 2026</footer>
</body>
</html>`

func TestParseExtractsArticle(t *testing.T) {
	p := New()
	result, err := p.Parse(context.Background(), strings.NewReader(sampleHTML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(result.Content, "batches writes") {
		t.Errorf("article body missing: %q", result.Content)
	}
	if result.Title != "Release Notes" {
		t.Errorf("Title = %q, want Release Notes", result.Title)
	}
}

func TestParseEmptyDocument(t *testing.T) {
	p := New()
	_, err := p.Parse(context.Background(), strings.NewReader("   \n  "))
	if errdefs.KindOf(err) != errdefs.KindInvalidInput {
		t.Errorf("kind = %v, want invalid_input", errdefs.KindOf(err))
	}
}

func TestSupportedRouting(t *testing.T) {
	p := New()
	if p.Name() != "html" {
		t.Errorf("Name = %q", p.Name())
	}
	if p.SupportedTypes()[0] != "text/html" {
		t.Errorf("types = %v", p.SupportedTypes())
	}
}
