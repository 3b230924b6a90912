// Package parser extracts plain text from uploaded documents. Each format
// has its own parser; the registry routes by MIME type first, then by file
// extension. A parse failure is scoped to the single document and reported
// to the caller, it never aborts a batch.
package parser

import (
	"context"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/groundline/groundline/internal/errdefs"
)

// Parser extracts text content from one document format.
type Parser interface {
	// Parse extracts text from the raw document bytes. The returned content
	// is normalized: LF line endings, no control characters, collapsed
	// blank runs.
	Parse(ctx context.Context, reader io.Reader) (*Result, error)

	// Name returns the parser name for logging.
	Name() string

	// SupportedTypes returns the MIME types this parser handles.
	SupportedTypes() []string

	// SupportedExtensions returns the file extensions this parser handles.
	SupportedExtensions() []string
}

// Result is the output of a parse.
type Result struct {
	// Content is the normalized extracted text.
	Content string

	// Title is a best-effort document title, empty when none was found.
	Title string

	// Pages is the page count for paginated formats, zero otherwise.
	Pages int
}

// Registry routes documents to parsers.
type Registry struct {
	mu            sync.RWMutex
	parsersByType map[string]Parser
	parsersByExt  map[string]Parser
	defaultParser Parser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		parsersByType: make(map[string]Parser),
		parsersByExt:  make(map[string]Parser),
	}
}

// Register adds a parser for all its supported types and extensions.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, mimeType := range p.SupportedTypes() {
		r.parsersByType[strings.ToLower(mimeType)] = p
	}
	for _, ext := range p.SupportedExtensions() {
		ext = strings.ToLower(strings.TrimPrefix(ext, "."))
		r.parsersByExt[ext] = p
	}
}

// SetDefault sets the fallback parser used when nothing matches.
func (r *Registry) SetDefault(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultParser = p
}

// Get returns the parser for the given content type and extension, trying
// the content type first. Parameters like charset are stripped before
// matching.
func (r *Registry) Get(contentType, ext string) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if contentType != "" {
		if idx := strings.Index(contentType, ";"); idx != -1 {
			contentType = strings.TrimSpace(contentType[:idx])
		}
		if p, ok := r.parsersByType[strings.ToLower(contentType)]; ok {
			return p, nil
		}
	}
	if ext != "" {
		ext = strings.ToLower(strings.TrimPrefix(ext, "."))
		if p, ok := r.parsersByExt[ext]; ok {
			return p, nil
		}
	}
	if r.defaultParser != nil {
		return r.defaultParser, nil
	}
	return nil, errdefs.InvalidInput(
		"unsupported document type " + contentType + " (extension " + ext + ")")
}

var (
	crlfRe      = regexp.MustCompile(`\r\n?`)
	controlRe   = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	blankRunsRe = regexp.MustCompile(`\n{3,}`)
	spaceRunsRe = regexp.MustCompile(`[ \t]{2,}`)
)

// Normalize canonicalizes extracted text so that chunk offsets are stable
// across platforms: LF endings, control characters removed, runs of blank
// lines collapsed to one, interior space runs collapsed.
func Normalize(s string) string {
	s = crlfRe.ReplaceAllString(s, "\n")
	s = controlRe.ReplaceAllString(s, "")
	s = spaceRunsRe.ReplaceAllString(s, " ")
	s = blankRunsRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// FirstLine returns the first non-empty line, capped, for use as a title.
func FirstLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > 100 {
			return line[:100]
		}
		return line
	}
	return ""
}
