// Package pdf parses PDF documents.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	pdflib "github.com/dslipak/pdf"

	"github.com/groundline/groundline/internal/errdefs"
	"github.com/groundline/groundline/internal/rag/parser"
)

// Parser parses PDF documents.
type Parser struct{}

// New creates a PDF parser.
func New() *Parser {
	return &Parser{}
}

// Name returns the parser name.
func (p *Parser) Name() string {
	return "pdf"
}

// SupportedTypes returns the MIME types this parser handles.
func (p *Parser) SupportedTypes() []string {
	return []string{"application/pdf"}
}

// SupportedExtensions returns the file extensions this parser handles.
func (p *Parser) SupportedExtensions() []string {
	return []string{".pdf"}
}

// Parse extracts text page by page. A page that fails to decode is skipped;
// the document only fails when no page yields text. The pdf library panics
// on some malformed files, so decoding runs behind a recover.
func (p *Parser) Parse(ctx context.Context, reader io.Reader) (result *parser.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errdefs.InvalidInput(fmt.Sprintf("malformed pdf: %v", r))
		}
	}()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, "read pdf document", err)
	}
	doc, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, "open pdf", err)
	}

	var b strings.Builder
	pages := doc.NumPage()
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}

	content := parser.Normalize(b.String())
	if content == "" {
		return nil, errdefs.InvalidInput("pdf contains no extractable text")
	}
	return &parser.Result{
		Content: content,
		Title:   parser.FirstLine(content),
		Pages:   pages,
	}, nil
}
