package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jayceeit/password-expire/internal/core/domain"
	"github.com/jayceeit/password-expire/internal/core/port"
	"github.com/jayceeit/password-expire/internal/infra/logger"
)

// StubPublisher logs events instead of sending them to Kafka. Used when no brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, userUUID, database string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("stub event published",
		zap.String("event_type", eventType),
		zap.String("user_id", userUUID),
		zap.String("database", database),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

func (p *StubPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	payload := map[string]any{
		"username":   logger.MaskUsername(event.Username),
		"changed_at": event.ChangedAt,
		"method":     event.Method,
		"metadata":   event.Metadata,
	}
	p.logEvent(EventPasswordChanged, event.UserUUID, event.Database, event.ChangedAt, payload)
	return nil
}

func (p *StubPublisher) PublishExpiredLogin(_ context.Context, event domain.ExpiredLoginEvent) error {
	payload := map[string]any{
		"username":     logger.MaskUsername(event.Username),
		"reasons":      event.Reasons,
		"last_changed": event.LastChanged,
	}
	p.logEvent(EventExpiredLogin, event.UserUUID, event.Database, event.OccurredAt, payload)
	return nil
}

func (p *StubPublisher) PublishPasswordResetRequested(_ context.Context, event domain.PasswordResetRequestedEvent) error {
	payload := map[string]any{
		"username":   logger.MaskUsername(event.Username),
		"email":      logger.MaskEmail(event.Email),
		"expires_at": event.ExpiresAt,
	}
	p.logEvent(EventPasswordResetRequested, event.UserUUID, event.Database, event.RequestedAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
