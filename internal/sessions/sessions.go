// Package sessions owns per-user conversation state: an ordered, bounded-TTL
// message log per session. The external store is the source of truth; the
// service keeps no per-session mutable state in memory.
package sessions

import (
	"context"
	"time"

	"github.com/groundline/groundline/pkg/models"
)

// DefaultTTL is the session inactivity window. Every append resets it.
const DefaultTTL = 30 * 24 * time.Hour

// NoSessionID is the placeholder session id used when the store is
// unavailable and the query proceeds without history.
const NoSessionID = "no-session"

// Store is the session state contract. Sessions never migrate across users;
// within a session, append order is the total message order.
type Store interface {
	// CreateSession creates a session for the user. The title is derived
	// from the first user message when one is given.
	CreateSession(ctx context.Context, userID, firstMessage string) (string, error)

	// Append adds one message to the session log and resets the TTL.
	// Returns not_found for an unknown or expired session.
	Append(ctx context.Context, sessionID string, msg models.Message) error

	// Recent returns the last limit messages oldest-to-newest.
	Recent(ctx context.Context, sessionID string, limit int) ([]models.Message, error)

	// Messages returns a slice of the log starting at offset,
	// oldest-to-newest, plus the total message count.
	Messages(ctx context.Context, sessionID string, limit, offset int) ([]models.Message, int, error)

	// GetMeta returns the session metadata.
	GetMeta(ctx context.Context, sessionID string) (*models.SessionMeta, error)

	// ListSessions returns the user's sessions newest-first by last
	// activity.
	ListSessions(ctx context.Context, userID string, limit, offset int) ([]models.SessionMeta, error)

	// Delete removes a session the user owns. Returns forbidden when the
	// session belongs to another user.
	Delete(ctx context.Context, sessionID, userID string) error

	// Touch refreshes the session's last-activity timestamp and TTL
	// without appending.
	Touch(ctx context.Context, sessionID string) error

	Close() error
}
