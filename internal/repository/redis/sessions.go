package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/jayceeit/password-expire/internal/core/domain"
	"github.com/jayceeit/password-expire/internal/core/port"
	"github.com/jayceeit/password-expire/internal/repository"
)

const (
	defaultSessionPrefix = "pe:session"

	fieldUserID    = "user_id"
	fieldUserUUID  = "user_uuid"
	fieldDatabase  = "database"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
)

// SessionStore persists login sessions as Redis hashes that expire with the session.
type SessionStore struct {
	client *red.Client
	prefix string
}

// NewSessionStore constructs a Redis-backed session store.
func NewSessionStore(client *red.Client, keyPrefix string) *SessionStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultSessionPrefix
	}
	return &SessionStore{client: client, prefix: prefix}
}

// Create stores the session for ttl.
func (s *SessionStore) Create(ctx context.Context, session domain.Session, ttl time.Duration) error {
	key := s.key(session.ID)
	if key == "" {
		return errors.New("session id is required")
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		fieldUserID:    strconv.FormatInt(session.UserID, 10),
		fieldUserUUID:  session.UserUUID,
		fieldDatabase:  session.Database,
		fieldCreatedAt: session.CreatedAt.UTC().Format(time.RFC3339Nano),
		fieldExpiresAt: session.ExpiresAt.UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store session: %w", err)
	}
	return nil
}

// Get loads a session or returns repository.ErrNotFound.
func (s *SessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	key := s.key(id)
	if key == "" {
		return nil, repository.ErrNotFound
	}

	values, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load session: %w", err)
	}
	if len(values) == 0 {
		return nil, repository.ErrNotFound
	}

	userID, err := strconv.ParseInt(values[fieldUserID], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse session user id: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, values[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("parse session created_at: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, values[fieldExpiresAt])
	if err != nil {
		return nil, fmt.Errorf("parse session expires_at: %w", err)
	}

	return &domain.Session{
		ID:        strings.TrimSpace(id),
		UserID:    userID,
		UserUUID:  values[fieldUserUUID],
		Database:  values[fieldDatabase],
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

// Delete removes the session; deleting a missing session is not an error.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	key := s.key(id)
	if key == "" {
		return nil
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) key(id string) string {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", s.prefix, trimmed)
}

var _ port.SessionStore = (*SessionStore)(nil)
