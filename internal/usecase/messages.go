package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/jayceeit/password-expire/internal/core/domain"
	"github.com/jayceeit/password-expire/internal/core/port"
)

// MessageQueue collects flash messages during a request. Messages stay pending
// until Flush appends them to the store.
type MessageQueue struct {
	store   port.MessageStore
	key     string
	ttl     time.Duration
	pending []domain.Message
}

func (q *MessageQueue) Add(level domain.MessageLevel, text string, tags ...string) {
	q.pending = append(q.pending, domain.Message{Level: level, Text: text, Tags: tags})
}

func (q *MessageQueue) Warning(text string, tags ...string) {
	q.Add(domain.MessageWarning, text, tags...)
}

func (q *MessageQueue) Error(text string, tags ...string) {
	q.Add(domain.MessageError, text, tags...)
}

// HasTag looks at pending and stored messages without consuming them.
func (q *MessageQueue) HasTag(ctx context.Context, tag string) (bool, error) {
	for _, msg := range q.pending {
		if msg.HasTag(tag) {
			return true, nil
		}
	}
	if q.store == nil || q.key == "" {
		return false, nil
	}

	stored, err := q.store.Peek(ctx, q.key)
	if err != nil {
		return false, fmt.Errorf("peek messages: %w", err)
	}
	for _, msg := range stored {
		if msg.HasTag(tag) {
			return true, nil
		}
	}
	return false, nil
}

func (q *MessageQueue) Pending() []domain.Message {
	return append([]domain.Message(nil), q.pending...)
}

func (q *MessageQueue) Flush(ctx context.Context) error {
	if len(q.pending) == 0 || q.store == nil || q.key == "" {
		return nil
	}
	if err := q.store.Append(ctx, q.key, q.pending, q.ttl); err != nil {
		return fmt.Errorf("store messages: %w", err)
	}
	q.pending = nil
	return nil
}

// MessageService hands out per-browser queues backed by the message store.
type MessageService struct {
	store port.MessageStore
	ttl   time.Duration
}

func NewMessageService(store port.MessageStore, ttl time.Duration) *MessageService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MessageService{store: store, ttl: ttl}
}

func (s *MessageService) Queue(key string) *MessageQueue {
	return &MessageQueue{store: s.store, key: key, ttl: s.ttl}
}

// Pop returns and clears everything stored for key.
func (s *MessageService) Pop(ctx context.Context, key string) ([]domain.Message, error) {
	if key == "" {
		return nil, nil
	}
	messages, err := s.store.Pop(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("pop messages: %w", err)
	}
	return messages, nil
}
