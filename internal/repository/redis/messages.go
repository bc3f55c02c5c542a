package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/jayceeit/password-expire/internal/core/domain"
	"github.com/jayceeit/password-expire/internal/core/port"
)

const defaultMessagePrefix = "pe:messages"

// MessageStore keeps flash messages in a Redis list per browser key.
type MessageStore struct {
	client *red.Client
	prefix string
}

// NewMessageStore constructs a Redis-backed flash message store.
func NewMessageStore(client *red.Client, keyPrefix string) *MessageStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultMessagePrefix
	}
	return &MessageStore{client: client, prefix: prefix}
}

// Peek returns the queued messages without consuming them.
func (s *MessageStore) Peek(ctx context.Context, key string) ([]domain.Message, error) {
	k := s.key(key)
	if k == "" {
		return nil, nil
	}

	raw, err := s.client.LRange(ctx, k, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis peek messages: %w", err)
	}
	return decodeMessages(raw)
}

// Append queues messages and refreshes the list TTL.
func (s *MessageStore) Append(ctx context.Context, key string, messages []domain.Message, ttl time.Duration) error {
	if len(messages) == 0 {
		return nil
	}
	k := s.key(key)
	if k == "" {
		return errors.New("message key is required")
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	values := make([]any, 0, len(messages))
	for _, msg := range messages {
		encoded, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		values = append(values, string(encoded))
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, k, values...)
	pipe.Expire(ctx, k, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append messages: %w", err)
	}
	return nil
}

// Pop returns and removes every queued message.
func (s *MessageStore) Pop(ctx context.Context, key string) ([]domain.Message, error) {
	k := s.key(key)
	if k == "" {
		return nil, nil
	}

	pipe := s.client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, k, 0, -1)
	pipe.Del(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis pop messages: %w", err)
	}
	return decodeMessages(rangeCmd.Val())
}

func decodeMessages(raw []string) ([]domain.Message, error) {
	messages := make([]domain.Message, 0, len(raw))
	for _, item := range raw {
		var msg domain.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *MessageStore) key(key string) string {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", s.prefix, trimmed)
}

var _ port.MessageStore = (*MessageStore)(nil)
