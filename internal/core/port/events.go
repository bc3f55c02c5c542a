package port

import (
	"context"

	"github.com/jayceeit/password-expire/internal/core/domain"
)

// EventPublisher publishes domain events to the message bus.
type EventPublisher interface {
	PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error
	PublishExpiredLogin(ctx context.Context, event domain.ExpiredLoginEvent) error
	PublishPasswordResetRequested(ctx context.Context, event domain.PasswordResetRequestedEvent) error
}
