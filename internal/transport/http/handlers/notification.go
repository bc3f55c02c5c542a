package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jayceeit/password-expire/internal/infra/logger"
)

// NotificationDispatcher delivers reset credentials to the account owner.
type NotificationDispatcher interface {
	SendPasswordReset(ctx context.Context, payload PasswordResetNotification) error
}

// PasswordResetNotification captures data needed to deliver password reset credentials.
type PasswordResetNotification struct {
	UserID   string
	Username string
	Email    string
	DevToken string
	Expires  time.Time
}

type noopDispatcher struct{}

func (noopDispatcher) SendPasswordReset(context.Context, PasswordResetNotification) error {
	return nil
}

// LoggingNotificationDispatcher records credential dispatch events for observability without delivering them.
// Delivery itself is left to consumers of the reset requested event.
type LoggingNotificationDispatcher struct {
	logger *zap.Logger
}

func NewLoggingNotificationDispatcher(log *zap.Logger) NotificationDispatcher {
	if log == nil {
		return noopDispatcher{}
	}
	return &LoggingNotificationDispatcher{logger: log}
}

func (d *LoggingNotificationDispatcher) SendPasswordReset(ctx context.Context, payload PasswordResetNotification) error {
	fields := []zap.Field{
		zap.String("request_id", logger.RequestIDFromContext(ctx)),
		zap.String("user_id", payload.UserID),
		zap.String("username", logger.MaskUsername(payload.Username)),
		zap.Time("expires_at", payload.Expires),
	}
	if payload.Email != "" {
		fields = append(fields, zap.String("email", logger.MaskEmail(payload.Email)))
	}
	if payload.DevToken != "" {
		fields = append(fields, zap.String("dev_token", payload.DevToken))
	}

	d.logger.Info("dispatch password reset", fields...)
	return nil
}
