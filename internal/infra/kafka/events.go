package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jayceeit/password-expire/internal/core/domain"
	"github.com/jayceeit/password-expire/internal/core/port"
	"github.com/jayceeit/password-expire/internal/infra/config"
	"github.com/jayceeit/password-expire/internal/infra/logger"
)

const schemaVersion = "1.0"

const (
	EventPasswordChanged        = "pe.user.password.changed"
	EventExpiredLogin           = "pe.user.password.expired_login"
	EventPasswordResetRequested = "pe.user.password.reset_requested"
)

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Database  string           `json:"database,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, userID, database string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if requestID := logger.RequestIDFromContext(ctx); requestID != "" {
		metadata["request_id"] = requestID
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		UserID:    userID,
		Database:  database,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Key:   sarama.StringEncoder(userID),
		Value: sarama.ByteEncoder(bytes),
	}

	return p.producer.Send(ctx, message)
}

// PublishPasswordChanged publishes pe.user.password.changed events.
func (p *EventPublisher) PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error {
	payload := struct {
		UserUUID  string         `json:"user_uuid"`
		Username  string         `json:"username"`
		ChangedAt time.Time      `json:"changed_at"`
		Method    string         `json:"method"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}{
		UserUUID:  event.UserUUID,
		Username:  event.Username,
		ChangedAt: event.ChangedAt.UTC(),
		Method:    event.Method,
		Metadata:  event.Metadata,
	}

	return p.publish(ctx, event.EventID, EventPasswordChanged, event.UserUUID, event.Database, event.ChangedAt, payload)
}

// PublishExpiredLogin publishes pe.user.password.expired_login events.
func (p *EventPublisher) PublishExpiredLogin(ctx context.Context, event domain.ExpiredLoginEvent) error {
	payload := struct {
		UserUUID    string    `json:"user_uuid"`
		Username    string    `json:"username"`
		Reasons     []string  `json:"reasons"`
		OccurredAt  time.Time `json:"occurred_at"`
		LastChanged time.Time `json:"last_changed"`
	}{
		UserUUID:    event.UserUUID,
		Username:    event.Username,
		Reasons:     event.Reasons,
		OccurredAt:  event.OccurredAt.UTC(),
		LastChanged: event.LastChanged.UTC(),
	}

	return p.publish(ctx, event.EventID, EventExpiredLogin, event.UserUUID, event.Database, event.OccurredAt, payload)
}

// PublishPasswordResetRequested publishes pe.user.password.reset_requested events.
func (p *EventPublisher) PublishPasswordResetRequested(ctx context.Context, event domain.PasswordResetRequestedEvent) error {
	payload := struct {
		UserUUID          string    `json:"user_uuid"`
		Username          string    `json:"username"`
		MaskedDestination string    `json:"masked_destination,omitempty"`
		RequestedAt       time.Time `json:"requested_at"`
		ExpiresAt         time.Time `json:"expires_at"`
	}{
		UserUUID:          event.UserUUID,
		Username:          event.Username,
		MaskedDestination: logger.MaskEmail(event.Email),
		RequestedAt:       event.RequestedAt.UTC(),
		ExpiresAt:         event.ExpiresAt.UTC(),
	}

	timestamp := event.RequestedAt
	if timestamp.IsZero() {
		timestamp = event.ExpiresAt
	}

	return p.publish(ctx, event.EventID, EventPasswordResetRequested, event.UserUUID, event.Database, timestamp, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
