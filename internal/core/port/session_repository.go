package port

import (
	"context"
	"time"

	"github.com/jayceeit/password-expire/internal/core/domain"
)

// SessionStore persists login sessions.
type SessionStore interface {
	Create(ctx context.Context, session domain.Session, ttl time.Duration) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	Delete(ctx context.Context, id string) error
}

// MessageStore persists flash messages per browser between requests.
type MessageStore interface {
	Peek(ctx context.Context, key string) ([]domain.Message, error)
	Append(ctx context.Context, key string, messages []domain.Message, ttl time.Duration) error
	Pop(ctx context.Context, key string) ([]domain.Message, error)
}

// ResetTokenStore keeps single-use password reset tokens keyed by their hash.
type ResetTokenStore interface {
	Save(ctx context.Context, tokenHash string, userUUID string, ttl time.Duration) error
	Lookup(ctx context.Context, tokenHash string) (string, error)
	Consume(ctx context.Context, tokenHash string) (string, error)
}

// RateLimitStore keeps timestamps of attempts in a sliding window per identifier.
type RateLimitStore interface {
	TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error
	CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error)
	RecordAttempt(ctx context.Context, identifier string, at time.Time) error
	OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error)
}
