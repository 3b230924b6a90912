package generate

import "context"

// ChatMessage is one turn handed to the language model.
type ChatMessage struct {
	Role    string // "user" or "assistant"
	Content string
}

// Request is a fully built prompt.
type Request struct {
	System    string
	Messages  []ChatMessage
	MaxTokens int
}

// Completion is the model's reply.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int

	// Blocked reports an upstream safety refusal. Blocked completions
	// are surfaced verbatim, never retried or rephrased.
	Blocked bool
}

// ChatProvider calls one language model backend.
type ChatProvider interface {
	Complete(ctx context.Context, req *Request) (*Completion, error)
	Name() string
}
