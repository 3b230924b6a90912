// Package docx parses Office Open XML word processing documents. A .docx
// file is a zip archive; the body text lives in word/document.xml as runs
// of w:t elements grouped into w:p paragraphs.
package docx

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"strings"

	"github.com/groundline/groundline/internal/errdefs"
	"github.com/groundline/groundline/internal/rag/parser"
)

// Parser parses .docx documents.
type Parser struct{}

// New creates a docx parser.
func New() *Parser {
	return &Parser{}
}

// Name returns the parser name.
func (p *Parser) Name() string {
	return "docx"
}

// SupportedTypes returns the MIME types this parser handles.
func (p *Parser) SupportedTypes() []string {
	return []string{"application/vnd.openxmlformats-officedocument.wordprocessingml.document"}
}

// SupportedExtensions returns the file extensions this parser handles.
func (p *Parser) SupportedExtensions() []string {
	return []string{".docx"}
}

// Parse extracts paragraph text from the document body.
func (p *Parser) Parse(ctx context.Context, reader io.Reader) (*parser.Result, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, "read docx document", err)
	}

	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, "open docx archive", err)
	}

	var body *zip.File
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return nil, errdefs.InvalidInput("docx archive has no word/document.xml")
	}

	rc, err := body.Open()
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, "open docx body", err)
	}
	defer rc.Close()

	content, err := extractBody(ctx, rc)
	if err != nil {
		return nil, err
	}

	content = parser.Normalize(content)
	if content == "" {
		return nil, errdefs.InvalidInput("docx contains no text")
	}
	return &parser.Result{
		Content: content,
		Title:   parser.FirstLine(content),
	}, nil
}

// extractBody walks the XML token stream collecting w:t text, emitting a
// paragraph break at the end of each w:p and a line break for w:br.
func extractBody(ctx context.Context, r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	inText := false

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errdefs.Wrap(errdefs.KindInvalidInput, "decode docx body", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "br", "cr":
				b.WriteString("\n")
			case "tab":
				b.WriteString("\t")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
