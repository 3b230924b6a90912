// Package html parses HTML documents using readability extraction, so
// navigation chrome and boilerplate stay out of the index.
package html

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"

	"github.com/groundline/groundline/internal/errdefs"
	"github.com/groundline/groundline/internal/rag/parser"
)

// Parser parses HTML documents.
type Parser struct{}

// New creates an HTML parser.
func New() *Parser {
	return &Parser{}
}

// Name returns the parser name.
func (p *Parser) Name() string {
	return "html"
}

// SupportedTypes returns the MIME types this parser handles.
func (p *Parser) SupportedTypes() []string {
	return []string{"text/html", "application/xhtml+xml"}
}

// SupportedExtensions returns the file extensions this parser handles.
func (p *Parser) SupportedExtensions() []string {
	return []string{".html", ".htm", ".xhtml"}
}

// Parse extracts the main article text. When readability finds no article
// body it falls back to stripping tags from the whole document.
func (p *Parser) Parse(ctx context.Context, reader io.Reader) (*parser.Result, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, "read html document", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errdefs.InvalidInput("empty document")
	}

	// Uploaded files have no origin URL; readability only uses it to
	// resolve relative links, which we discard anyway.
	base := &url.URL{Scheme: "file", Path: "/"}
	article, err := readability.FromReader(bytes.NewReader(data), base)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, "extract html content", err)
	}

	content := parser.Normalize(article.TextContent)
	if content == "" {
		return nil, errdefs.InvalidInput("document contains no text")
	}

	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = parser.FirstLine(content)
	}
	return &parser.Result{Content: content, Title: title}, nil
}
