package chunker

import (
	"regexp"
	"strings"
)

// Sentence is one sentence with its position in the source text.
type Sentence struct {
	Text  string
	Start int
	End   int
}

// SentenceSplitter segments text into sentences.
type SentenceSplitter interface {
	Split(text string) []Sentence
}

// terminatorRe matches a sentence terminator, optionally followed by a
// closing quote or bracket, then whitespace or end of input.
var terminatorRe = regexp.MustCompile(`[.!?][")'\]]?(\s+|$)`)

// RegexSplitter segments on punctuation terminators, treating paragraph
// breaks as boundaries too. Text with no terminators at all comes back as
// a single sentence.
type RegexSplitter struct{}

// Split segments text into non-empty sentences with stable offsets.
func (RegexSplitter) Split(text string) []Sentence {
	var sentences []Sentence
	start := 0

	flush := func(end int) {
		raw := text[start:end]
		trimmed := strings.TrimSpace(raw)
		if trimmed != "" {
			lead := strings.Index(raw, trimmed)
			sentences = append(sentences, Sentence{
				Text:  trimmed,
				Start: start + lead,
				End:   start + lead + len(trimmed),
			})
		}
		start = end
	}

	for _, loc := range terminatorRe.FindAllStringIndex(text, -1) {
		flush(loc[1])
	}
	flush(len(text))

	// Split any sentence that spans a paragraph break; headings and list
	// items rarely end with punctuation.
	var out []Sentence
	for _, s := range sentences {
		out = append(out, splitParagraphs(s)...)
	}
	return out
}

func splitParagraphs(s Sentence) []Sentence {
	parts := strings.Split(s.Text, "\n\n")
	if len(parts) == 1 {
		return []Sentence{s}
	}
	var out []Sentence
	offset := s.Start
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			lead := strings.Index(part, trimmed)
			out = append(out, Sentence{
				Text:  trimmed,
				Start: offset + lead,
				End:   offset + lead + len(trimmed),
			})
		}
		offset += len(part) + 2
	}
	return out
}
