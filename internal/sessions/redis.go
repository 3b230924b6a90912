package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/groundline/groundline/internal/errdefs"
	"github.com/groundline/groundline/pkg/models"
)

// RedisStore keeps sessions in Redis: a hash for metadata, a list for the
// message log, and a per-user sorted set scored by last-activity epoch.
// Redis serializes commands, so RPUSH gives appends a total order.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// RedisConfig configures the Redis session store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// TTL is the inactivity window, DefaultTTL when zero.
	TTL time.Duration
}

// NewRedis creates a Redis-backed session store.
func NewRedis(cfg RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisWithClient(client, cfg.TTL)
}

// NewRedisWithClient wraps an existing client, for tests and shared pools.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func sessionKey(id string) string  { return "chat:session:" + id }
func messagesKey(id string) string { return "chat:session:" + id + ":messages" }
func userKey(userID string) string { return "chat:user:" + userID + ":sessions" }

// CreateSession creates the metadata hash and registers the session in the
// user's sorted set.
func (s *RedisStore) CreateSession(ctx context.Context, userID, firstMessage string) (string, error) {
	if userID == "" {
		return "", errdefs.InvalidInput("user id is required")
	}

	id := uuid.NewString()
	now := s.now().UTC()
	title := models.DeriveSessionTitle(firstMessage)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, sessionKey(id), map[string]any{
		"user_id":          userID,
		"title":            title,
		"created_at":       now.Format(time.RFC3339Nano),
		"last_activity_at": now.Format(time.RFC3339Nano),
		"message_count":    0,
	})
	pipe.Expire(ctx, sessionKey(id), s.ttl)
	pipe.ZAdd(ctx, userKey(userID), redis.Z{Score: float64(now.UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", sessionErr(err)
	}
	return id, nil
}

// Append pushes the message onto the log, bumps the metadata, and resets the
// TTL on both session keys.
func (s *RedisStore) Append(ctx context.Context, sessionID string, msg models.Message) error {
	userID, err := s.ownerOf(ctx, sessionID)
	if err != nil {
		return err
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return errdefs.Internal(fmt.Errorf("marshal message: %w", err))
	}

	now := s.now().UTC()
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, messagesKey(sessionID), data)
	pipe.HSet(ctx, sessionKey(sessionID), "last_activity_at", now.Format(time.RFC3339Nano))
	pipe.HIncrBy(ctx, sessionKey(sessionID), "message_count", 1)
	pipe.ZAdd(ctx, userKey(userID), redis.Z{Score: float64(now.UnixMilli()), Member: sessionID})
	pipe.Expire(ctx, sessionKey(sessionID), s.ttl)
	pipe.Expire(ctx, messagesKey(sessionID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return sessionErr(err)
	}
	return nil
}

// Recent returns the last limit messages oldest-to-newest.
func (s *RedisStore) Recent(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	if _, err := s.ownerOf(ctx, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, messagesKey(sessionID), int64(-limit), -1).Result()
	if err != nil {
		return nil, sessionErr(err)
	}
	return decodeMessages(raw)
}

// Messages returns the log slice [offset, offset+limit) oldest-to-newest and
// the total count.
func (s *RedisStore) Messages(ctx context.Context, sessionID string, limit, offset int) ([]models.Message, int, error) {
	if _, err := s.ownerOf(ctx, sessionID); err != nil {
		return nil, 0, err
	}
	total, err := s.client.LLen(ctx, messagesKey(sessionID)).Result()
	if err != nil {
		return nil, 0, sessionErr(err)
	}
	if limit <= 0 || offset < 0 || int64(offset) >= total {
		return nil, int(total), nil
	}
	raw, err := s.client.LRange(ctx, messagesKey(sessionID), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, 0, sessionErr(err)
	}
	msgs, err := decodeMessages(raw)
	return msgs, int(total), err
}

// GetMeta returns the session metadata hash.
func (s *RedisStore) GetMeta(ctx context.Context, sessionID string) (*models.SessionMeta, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, sessionErr(err)
	}
	if len(fields) == 0 {
		return nil, errdefs.NotFound("session " + sessionID + " not found")
	}
	return metaFromHash(sessionID, fields), nil
}

// ListSessions pages the user's sorted set newest-first. Members whose hash
// has expired are dropped from the set on the way.
func (s *RedisStore) ListSessions(ctx context.Context, userID string, limit, offset int) ([]models.SessionMeta, error) {
	if limit <= 0 || offset < 0 {
		return nil, nil
	}
	ids, err := s.client.ZRevRange(ctx, userKey(userID), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, sessionErr(err)
	}

	out := make([]models.SessionMeta, 0, len(ids))
	for _, id := range ids {
		fields, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
		if err != nil {
			return nil, sessionErr(err)
		}
		if len(fields) == 0 {
			s.client.ZRem(ctx, userKey(userID), id)
			continue
		}
		out = append(out, *metaFromHash(id, fields))
	}
	return out, nil
}

// Delete removes the session after checking ownership.
func (s *RedisStore) Delete(ctx context.Context, sessionID, userID string) error {
	owner, err := s.ownerOf(ctx, sessionID)
	if err != nil {
		return err
	}
	if owner != userID {
		return errdefs.Forbidden("session belongs to another user")
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(sessionID), messagesKey(sessionID))
	pipe.ZRem(ctx, userKey(owner), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return sessionErr(err)
	}
	return nil
}

// Touch refreshes last activity and the TTL without appending.
func (s *RedisStore) Touch(ctx context.Context, sessionID string) error {
	userID, err := s.ownerOf(ctx, sessionID)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, sessionKey(sessionID), "last_activity_at", now.Format(time.RFC3339Nano))
	pipe.ZAdd(ctx, userKey(userID), redis.Z{Score: float64(now.UnixMilli()), Member: sessionID})
	pipe.Expire(ctx, sessionKey(sessionID), s.ttl)
	pipe.Expire(ctx, messagesKey(sessionID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return sessionErr(err)
	}
	return nil
}

// Ping verifies Redis connectivity, for readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error { return s.client.Close() }

// ownerOf returns the session's user id, not_found when the hash is gone.
func (s *RedisStore) ownerOf(ctx context.Context, sessionID string) (string, error) {
	userID, err := s.client.HGet(ctx, sessionKey(sessionID), "user_id").Result()
	if errors.Is(err, redis.Nil) {
		return "", errdefs.NotFound("session " + sessionID + " not found")
	}
	if err != nil {
		return "", sessionErr(err)
	}
	return userID, nil
}

func decodeMessages(raw []string) ([]models.Message, error) {
	msgs := make([]models.Message, 0, len(raw))
	for _, r := range raw {
		var m models.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, errdefs.Internal(fmt.Errorf("decode message: %w", err))
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func metaFromHash(id string, fields map[string]string) *models.SessionMeta {
	meta := &models.SessionMeta{
		ID:     id,
		UserID: fields["user_id"],
		Title:  fields["title"],
	}
	meta.MessageCount, _ = strconv.Atoi(fields["message_count"])
	meta.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	meta.LastActivityAt, _ = time.Parse(time.RFC3339Nano, fields["last_activity_at"])
	return meta
}

func sessionErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errdefs.Unavailable(errdefs.KindSessionUnavailable, err).WithStage("session")
}
