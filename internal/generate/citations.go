package generate

import (
	"regexp"
	"strconv"

	"github.com/groundline/groundline/pkg/models"
)

var citationRe = regexp.MustCompile(`\[(\d+)\]`)

// ParseCitations resolves [k] markers in the answer against the contexts
// that were in the prompt. Markers that point outside the context list are
// dropped; duplicates collapse to the first occurrence.
func ParseCitations(answer string, contexts []*models.Chunk) []models.Citation {
	var citations []models.Citation
	seen := map[int]bool{}

	for _, m := range citationRe.FindAllStringSubmatch(answer, -1) {
		k, err := strconv.Atoi(m[1])
		if err != nil || k < 1 || k > len(contexts) {
			continue
		}
		if seen[k] {
			continue
		}
		seen[k] = true

		c := contexts[k-1]
		citations = append(citations, models.Citation{
			Index:      k,
			DocumentID: c.DocumentID,
			ChunkID:    c.ID,
			Excerpt:    excerpt(c.Text),
		})
	}
	return citations
}

// excerpt returns the first CitationExcerptLen bytes on a rune boundary.
func excerpt(text string) string {
	if len(text) <= models.CitationExcerptLen {
		return text
	}
	cut := models.CitationExcerptLen
	for cut > 0 && text[cut]&0xc0 == 0x80 {
		cut--
	}
	return text[:cut]
}
