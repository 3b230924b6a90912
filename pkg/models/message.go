package models

import (
	"strings"
	"time"
)

// MessageRole identifies the author of a session message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one entry in a session's append-only message log.
// Messages are never edited in place; insertion order is the total order.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`

	// Meta is populated for assistant messages only.
	Meta *MessageMeta `json:"meta,omitempty"`
}

// MessageMeta carries the generation accounting for an assistant message.
type MessageMeta struct {
	PromptTokens     int        `json:"prompt_tokens,omitempty"`
	CompletionTokens int        `json:"completion_tokens,omitempty"`
	LatencyMS        int64      `json:"latency_ms,omitempty"`
	Citations        []Citation `json:"citations,omitempty"`
}

// SessionMeta describes a session without its messages.
type SessionMeta struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Title          string    `json:"title,omitempty"`
	MessageCount   int       `json:"message_count"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// SessionTitleMaxLen bounds the derived session title length.
const SessionTitleMaxLen = 80

// DeriveSessionTitle builds a session title from the first user message,
// collapsing newlines and truncating at a rune boundary.
func DeriveSessionTitle(firstMessage string) string {
	title := strings.Join(strings.Fields(firstMessage), " ")
	runes := []rune(title)
	if len(runes) > SessionTitleMaxLen {
		title = string(runes[:SessionTitleMaxLen])
	}
	return title
}
