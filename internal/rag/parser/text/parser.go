// Package text parses plain text documents.
package text

import (
	"context"
	"io"
	"unicode/utf8"

	"github.com/groundline/groundline/internal/errdefs"
	"github.com/groundline/groundline/internal/rag/parser"
)

// Parser parses plain text documents.
type Parser struct{}

// New creates a plain text parser.
func New() *Parser {
	return &Parser{}
}

// Name returns the parser name.
func (p *Parser) Name() string {
	return "text"
}

// SupportedTypes returns the MIME types this parser handles.
func (p *Parser) SupportedTypes() []string {
	return []string{"text/plain", "text/csv", "text/markdown"}
}

// SupportedExtensions returns the file extensions this parser handles.
func (p *Parser) SupportedExtensions() []string {
	return []string{".txt", ".text", ".md", ".csv", ".log"}
}

// Parse reads the document and returns its normalized text. Invalid UTF-8
// sequences are replaced rather than rejected; fully binary input is an
// error.
func (p *Parser) Parse(ctx context.Context, reader io.Reader) (*parser.Result, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, "read text document", err)
	}
	if len(data) == 0 {
		return nil, errdefs.InvalidInput("empty document")
	}

	content := string(data)
	if !utf8.ValidString(content) {
		if binaryRatio(data) > 0.3 {
			return nil, errdefs.InvalidInput("document is not text")
		}
		content = string([]rune(content))
	}

	content = parser.Normalize(content)
	if content == "" {
		return nil, errdefs.InvalidInput("document contains no text")
	}
	return &parser.Result{
		Content: content,
		Title:   parser.FirstLine(content),
	}, nil
}

// binaryRatio reports the fraction of bytes outside the printable range.
func binaryRatio(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	bad := 0
	for _, b := range data {
		if b < 0x09 || (b > 0x0d && b < 0x20) {
			bad++
		}
	}
	return float64(bad) / float64(len(data))
}
