package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "chat:session:"
	sessionTTL       = 24 * time.Hour
)

// ErrSessionNotFound means the session expired or belongs to another client.
var ErrSessionNotFound = errors.New("chat session not found")

// Session links a widget conversation to its assistant thread.
type Session struct {
	ID        string    `json:"session_id"`
	ClientID  string    `json:"client_id"`
	TenantID  string    `json:"tenant_id,omitempty"`
	ThreadID  string    `json:"thread_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStore keeps chat sessions in Redis hashes that expire after a day of inactivity.
type SessionStore struct {
	rdb redis.Cmdable
}

func NewSessionStore(rdb redis.Cmdable) *SessionStore {
	return &SessionStore{rdb: rdb}
}

func (s *SessionStore) Save(ctx context.Context, sess *Session) error {
	key := sessionKeyPrefix + sess.ID
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"client_id", sess.ClientID,
		"tenant_id", sess.TenantID,
		"thread_id", sess.ThreadID,
		"created_at", sess.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving chat session: %w", err)
	}
	return nil
}

// Get loads id and checks that it belongs to clientID. Each read extends the TTL.
func (s *SessionStore) Get(ctx context.Context, id, clientID string) (*Session, error) {
	key := sessionKeyPrefix + id
	vals, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("loading chat session: %w", err)
	}
	if len(vals) == 0 || vals["client_id"] != clientID {
		return nil, ErrSessionNotFound
	}

	created, err := time.Parse(time.RFC3339Nano, vals["created_at"])
	if err != nil {
		return nil, fmt.Errorf("decoding chat session %s: %w", id, err)
	}
	if err := s.rdb.Expire(ctx, key, sessionTTL).Err(); err != nil {
		slog.Warn("extending chat session ttl", "session_id", id, "error", err)
	}

	return &Session{
		ID:        id,
		ClientID:  vals["client_id"],
		TenantID:  vals["tenant_id"],
		ThreadID:  vals["thread_id"],
		CreatedAt: created,
	}, nil
}

// Delete removes a session before its TTL runs out.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("deleting chat session: %w", err)
	}
	return nil
}
