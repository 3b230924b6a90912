package generate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/groundline/groundline/pkg/models"
)

// NoEvidenceAnswer is the mandated reply when the evidence cannot support
// an answer. The exact phrase is part of the API contract.
const NoEvidenceAnswer = "I cannot answer from the available evidence"

// RecentMessageLimit caps how much dialog history enters the prompt.
const RecentMessageLimit = 6

// BuildPrompt assembles the grounded prompt: system instructions, recent
// dialog, numbered evidence, question. The model is never called without
// an evidence section; when contexts is empty the section carries an
// explicit no-evidence note instead.
func BuildPrompt(query string, contexts []*models.Chunk, history []models.Message, maxTokens int) *Request {
	req := &Request{
		System:    systemInstructions(contexts),
		MaxTokens: maxTokens,
	}

	if len(history) > RecentMessageLimit {
		history = history[len(history)-RecentMessageLimit:]
	}
	for _, m := range history {
		req.Messages = append(req.Messages, ChatMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	var b strings.Builder
	b.WriteString("EVIDENCE:\n")
	if len(contexts) == 0 {
		b.WriteString("(no evidence found)\n")
	} else {
		for i, c := range contexts {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, c.Text)
		}
	}
	b.WriteString("\nQUESTION:\n")
	b.WriteString(query)

	req.Messages = append(req.Messages, ChatMessage{Role: "user", Content: b.String()})
	return req
}

func systemInstructions(contexts []*models.Chunk) string {
	var b strings.Builder
	b.WriteString("SYSTEM INSTRUCTIONS:\n")
	b.WriteString("You answer questions using only the numbered evidence provided. ")
	b.WriteString("Answer only from the evidence; if evidence is insufficient, say so explicitly ")
	b.WriteString("with the phrase \"" + NoEvidenceAnswer + "\". ")
	b.WriteString("Cite evidence by its numeric index in square brackets, for example [1].")

	if categories := piiCategories(contexts); len(categories) > 0 {
		b.WriteString("\nThe evidence contains personally identifiable information of these categories: ")
		b.WriteString(strings.Join(categories, ", "))
		b.WriteString(". Redact any such values in your answer, replacing each with [REDACTED].")
	}

	if len(contexts) == 0 {
		b.WriteString("\nNo evidence was found for this question. ")
		b.WriteString("State that you cannot answer from the available evidence.")
	}
	return b.String()
}

// piiCategories unions the detected categories across contexts, sorted for
// a stable prompt.
func piiCategories(contexts []*models.Chunk) []string {
	seen := map[string]bool{}
	for _, c := range contexts {
		for _, cat := range c.PIICategories {
			seen[cat] = true
		}
	}
	out := make([]string, 0, len(seen))
	for cat := range seen {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}
