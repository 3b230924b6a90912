// Package generate builds grounded prompts, calls the language model, and
// extracts citations from the answer. It is never invoked as a free-form
// LM: every call carries an evidence section, possibly with an explicit
// no-evidence note.
package generate

import (
	"context"
	"time"

	"github.com/groundline/groundline/internal/errdefs"
	"github.com/groundline/groundline/pkg/models"
)

// BlockedAnswer is the answer body reported for an upstream safety
// refusal.
const BlockedAnswer = "<safety-refusal>"

// Config contains generation parameters.
type Config struct {
	// MaxTokens caps the completion length.
	MaxTokens int

	// Timeout is the wall-clock limit for one model call.
	Timeout time.Duration
}

// DefaultConfig returns the default generation parameters.
func DefaultConfig() Config {
	return Config{MaxTokens: 1024, Timeout: 60 * time.Second}
}

// Result is the generation outcome.
type Result struct {
	Answer           string
	Citations        []models.Citation
	PromptTokens     int
	CompletionTokens int
	Blocked          bool
}

// Generator produces grounded answers.
type Generator struct {
	provider ChatProvider
	config   Config
}

// New creates a generator on the given provider.
func New(provider ChatProvider, cfg Config) *Generator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Generator{provider: provider, config: cfg}
}

// Generate answers the query from the given contexts and history. A safety
// refusal comes back as a blocked result, not an error; it is reported
// verbatim and never retried.
func (g *Generator) Generate(ctx context.Context, query string, contexts []*models.Chunk, history []models.Message) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	req := BuildPrompt(query, contexts, history, g.config.MaxTokens)
	completion, err := g.provider.Complete(ctx, req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errdefs.Unavailable(errdefs.KindGenerationUnavailable, err).
				WithStage("generate").WithRetryable(false)
		}
		return nil, errdefs.Unavailable(errdefs.KindGenerationUnavailable, err).WithStage("generate")
	}

	result := &Result{
		PromptTokens:     completion.PromptTokens,
		CompletionTokens: completion.CompletionTokens,
	}
	if completion.Blocked {
		result.Answer = BlockedAnswer
		result.Blocked = true
		return result, nil
	}

	// With no evidence the refusal is forced; the model text is discarded
	// even when it ignored the no-evidence note and answered anyway.
	if len(contexts) == 0 {
		result.Answer = NoEvidenceAnswer
		return result, nil
	}

	result.Answer = completion.Text
	result.Citations = ParseCitations(completion.Text, contexts)
	return result, nil
}
