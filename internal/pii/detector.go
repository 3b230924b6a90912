// Package pii detects personally identifiable information in chunk text.
// Detection is deterministic: identical input always yields identical
// categories and spans. Chunks are stored intact with their category set;
// redaction happens in generated output, not at rest.
package pii

import (
	"regexp"
	"sort"
	"strings"
)

// Category labels a class of detected PII. The set is closed.
type Category string

const (
	CategoryEmail      Category = "email"
	CategoryPhone      Category = "phone"
	CategoryNationalID Category = "national_id"
	CategoryCreditCard Category = "credit_card"
)

// Categories lists every category the detector can emit, in stable order.
func Categories() []Category {
	return []Category{CategoryEmail, CategoryPhone, CategoryNationalID, CategoryCreditCard}
}

// Span locates one detected occurrence inside the input text.
type Span struct {
	Category Category `json:"category"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
}

// Result is the outcome of a detection pass.
type Result struct {
	// Categories is the sorted, de-duplicated set of detected categories.
	Categories []string `json:"categories"`
	// Spans locates each occurrence, ordered by start offset.
	Spans []Span `json:"spans"`
}

var patterns = []struct {
	category Category
	re       *regexp.Regexp
}{
	{CategoryEmail, regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	// International and US-style phone numbers with common separators.
	{CategoryPhone, regexp.MustCompile(`(?:\+\d{1,3}[\s.\-]?)?(?:\(\d{2,4}\)[\s.\-]?)?\d{3}[\s.\-]\d{3,4}[\s.\-]?\d{0,4}\b|\+\d{9,14}\b`)},
	// SSN-like 3-2-4 groupings.
	{CategoryNationalID, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	// 13-16 digit card-like sequences, optionally grouped by 4.
	{CategoryCreditCard, regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`)},
}

// Detector finds PII in text.
type Detector struct{}

// NewDetector creates a new detector.
func NewDetector() *Detector {
	return &Detector{}
}

// Detect returns the categories and spans present in text.
func (d *Detector) Detect(text string) Result {
	var spans []Span
	seen := map[Category]bool{}

	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			if p.category == CategoryCreditCard && !plausibleCard(text[loc[0]:loc[1]]) {
				continue
			}
			spans = append(spans, Span{Category: p.category, Start: loc[0], End: loc[1]})
			seen[p.category] = true
		}
	}

	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].Category < spans[j].Category
	})

	categories := make([]string, 0, len(seen))
	for _, c := range Categories() {
		if seen[c] {
			categories = append(categories, string(c))
		}
	}
	return Result{Categories: categories, Spans: spans}
}

// Redact replaces every detected span with its category marker.
func (d *Detector) Redact(text string) string {
	result := d.Detect(text)
	if len(result.Spans) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, span := range result.Spans {
		if span.Start < prev {
			// Overlapping spans: keep the earlier replacement.
			continue
		}
		b.WriteString(text[prev:span.Start])
		b.WriteString("[" + strings.ToUpper(string(span.Category)) + "]")
		prev = span.End
	}
	b.WriteString(text[prev:])
	return b.String()
}

// plausibleCard filters the digit-run pattern through a Luhn check so that
// arbitrary long numbers do not flag as cards.
func plausibleCard(s string) bool {
	digits := make([]int, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 16 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
