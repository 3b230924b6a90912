package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/groundline/groundline/internal/errdefs"
	"github.com/groundline/groundline/pkg/models"
)

// MemoryStore is an in-process Store for tests and single-node development.
// Expiry is evaluated lazily against the injected clock.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	ttl      time.Duration
	now      func() time.Time
}

type memorySession struct {
	meta     models.SessionMeta
	messages []models.Message
	expires  time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemory creates an in-memory session store with the given TTL,
// DefaultTTL when zero.
func NewMemory(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		ttl:      ttl,
		now:      time.Now,
	}
}

// SetClock replaces the clock, for expiry tests.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

func (s *MemoryStore) CreateSession(_ context.Context, userID, firstMessage string) (string, error) {
	if userID == "" {
		return "", errdefs.InvalidInput("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	now := s.now().UTC()
	s.sessions[id] = &memorySession{
		meta: models.SessionMeta{
			ID:             id,
			UserID:         userID,
			Title:          models.DeriveSessionTitle(firstMessage),
			CreatedAt:      now,
			LastActivityAt: now,
		},
		expires: now.Add(s.ttl),
	}
	return id, nil
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.live(sessionID)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	sess.messages = append(sess.messages, msg)
	sess.meta.MessageCount = len(sess.messages)
	sess.meta.LastActivityAt = now
	sess.expires = now.Add(s.ttl)
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, sessionID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.live(sessionID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	start := len(sess.messages) - limit
	if start < 0 {
		start = 0
	}
	out := make([]models.Message, len(sess.messages)-start)
	copy(out, sess.messages[start:])
	return out, nil
}

func (s *MemoryStore) Messages(_ context.Context, sessionID string, limit, offset int) ([]models.Message, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.live(sessionID)
	if err != nil {
		return nil, 0, err
	}
	total := len(sess.messages)
	if limit <= 0 || offset < 0 || offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]models.Message, end-offset)
	copy(out, sess.messages[offset:end])
	return out, total, nil
}

func (s *MemoryStore) GetMeta(_ context.Context, sessionID string) (*models.SessionMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.live(sessionID)
	if err != nil {
		return nil, err
	}
	meta := sess.meta
	return &meta, nil
}

func (s *MemoryStore) ListSessions(_ context.Context, userID string, limit, offset int) ([]models.SessionMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || offset < 0 {
		return nil, nil
	}
	now := s.now()
	var metas []models.SessionMeta
	for _, sess := range s.sessions {
		if sess.meta.UserID == userID && now.Before(sess.expires) {
			metas = append(metas, sess.meta)
		}
	}
	sort.Slice(metas, func(i, j int) bool {
		if !metas[i].LastActivityAt.Equal(metas[j].LastActivityAt) {
			return metas[i].LastActivityAt.After(metas[j].LastActivityAt)
		}
		return metas[i].ID < metas[j].ID
	})
	if offset >= len(metas) {
		return nil, nil
	}
	end := offset + limit
	if end > len(metas) {
		end = len(metas)
	}
	return metas[offset:end], nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.live(sessionID)
	if err != nil {
		return err
	}
	if sess.meta.UserID != userID {
		return errdefs.Forbidden("session belongs to another user")
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.live(sessionID)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	sess.meta.LastActivityAt = now
	sess.expires = now.Add(s.ttl)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// live returns the session or not_found, treating expired sessions as gone.
// Callers hold at least a read lock.
func (s *MemoryStore) live(sessionID string) (*memorySession, error) {
	sess, ok := s.sessions[sessionID]
	if !ok || !s.now().Before(sess.expires) {
		return nil, errdefs.NotFound("session " + sessionID + " not found")
	}
	return sess, nil
}
