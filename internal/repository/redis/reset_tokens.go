package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/jayceeit/password-expire/internal/core/port"
	"github.com/jayceeit/password-expire/internal/repository"
)

const defaultResetPrefix = "pe:reset"

// ResetTokenStore keeps single-use password reset tokens.
type ResetTokenStore struct {
	client *red.Client
	prefix string
}

// NewResetTokenStore constructs a Redis-backed reset token store.
func NewResetTokenStore(client *red.Client, keyPrefix string) *ResetTokenStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultResetPrefix
	}
	return &ResetTokenStore{client: client, prefix: prefix}
}

// Save stores the token hash for the user until ttl elapses.
func (s *ResetTokenStore) Save(ctx context.Context, tokenHash string, userUUID string, ttl time.Duration) error {
	key := s.key(tokenHash)
	switch {
	case key == "":
		return errors.New("token hash is required")
	case strings.TrimSpace(userUUID) == "":
		return errors.New("user uuid is required")
	case ttl <= 0:
		return errors.New("ttl must be positive")
	}

	if err := s.client.Set(ctx, key, userUUID, ttl).Err(); err != nil {
		return fmt.Errorf("redis store reset token: %w", err)
	}
	return nil
}

// Lookup returns the user UUID without using the token up.
func (s *ResetTokenStore) Lookup(ctx context.Context, tokenHash string) (string, error) {
	key := s.key(tokenHash)
	if key == "" {
		return "", repository.ErrNotFound
	}

	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("redis lookup reset token: %w", err)
	}
	return value, nil
}

// Consume returns the user UUID and deletes the token. Unknown or expired
// tokens yield repository.ErrNotFound.
func (s *ResetTokenStore) Consume(ctx context.Context, tokenHash string) (string, error) {
	key := s.key(tokenHash)
	if key == "" {
		return "", repository.ErrNotFound
	}

	value, err := s.client.GetDel(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("redis consume reset token: %w", err)
	}
	return value, nil
}

func (s *ResetTokenStore) key(tokenHash string) string {
	trimmed := strings.TrimSpace(tokenHash)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", s.prefix, trimmed)
}

var _ port.ResetTokenStore = (*ResetTokenStore)(nil)
