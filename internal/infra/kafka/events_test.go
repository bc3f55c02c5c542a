package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"

	"github.com/jayceeit/password-expire/internal/core/domain"
	"github.com/jayceeit/password-expire/internal/infra/config"
)

type fakeAsyncProducer struct {
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage, 1),
		errors: make(chan *sarama.ProducerError, 1),
	}
}

func (f *fakeAsyncProducer) AsyncClose() {}

func (f *fakeAsyncProducer) Close() error { return nil }

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage { return f.input }

func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return nil }

func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError { return f.errors }

func (f *fakeAsyncProducer) IsTransactional() bool { return false }

func (f *fakeAsyncProducer) BeginTxn() error { return nil }

func (f *fakeAsyncProducer) CommitTxn() error { return nil }

func (f *fakeAsyncProducer) AbortTxn() error { return nil }

func (f *fakeAsyncProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (f *fakeAsyncProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func (f *fakeAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnStatusFlag(0)
}

func newTestPublisher(t *testing.T) (*EventPublisher, *fakeAsyncProducer) {
	t.Helper()

	asyncProducer := newFakeAsyncProducer()
	producer := &Producer{
		async:  asyncProducer,
		logger: zaptest.NewLogger(t),
		cfg: config.KafkaSettings{
			TopicPrefix: "pe",
		},
	}

	publisher := NewEventPublisher(producer, config.AppSettings{
		Name: "password-expire",
		Env:  "test",
	}, zaptest.NewLogger(t))
	return publisher, asyncProducer
}

func receiveEnvelope(t *testing.T, asyncProducer *fakeAsyncProducer) (*sarama.ProducerMessage, map[string]any) {
	t.Helper()

	select {
	case msg := <-asyncProducer.input:
		bytes, err := msg.Value.Encode()
		if err != nil {
			t.Fatalf("Value.Encode returned error: %v", err)
		}

		var envelope map[string]any
		if err := json.Unmarshal(bytes, &envelope); err != nil {
			t.Fatalf("failed to unmarshal envelope: %v", err)
		}
		return msg, envelope
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message on async producer input channel")
	}
	return nil, nil
}

func TestPublishPasswordChanged(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	changedAt := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	event := domain.PasswordChangedEvent{
		EventID:   "event-123",
		UserUUID:  "user-789",
		Username:  "alice",
		Database:  "site_b",
		ChangedAt: changedAt,
		Method:    "self_service",
		Metadata:  map[string]any{"source": "unit-test"},
	}

	if err := publisher.PublishPasswordChanged(context.Background(), event); err != nil {
		t.Fatalf("PublishPasswordChanged returned error: %v", err)
	}

	msg, envelope := receiveEnvelope(t, asyncProducer)
	if msg.Topic != EventPasswordChanged {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	if got := envelope["event_type"]; got != EventPasswordChanged {
		t.Fatalf("unexpected event_type: %v", got)
	}
	if got := envelope["event_id"]; got != "event-123" {
		t.Fatalf("unexpected event_id: %v", got)
	}
	if got := envelope["user_id"]; got != event.UserUUID {
		t.Fatalf("unexpected user_id: %v", got)
	}
	if got := envelope["database"]; got != "site_b" {
		t.Fatalf("unexpected database: %v", got)
	}

	timestamp, ok := envelope["timestamp"].(string)
	if !ok {
		t.Fatalf("timestamp not a string: %T", envelope["timestamp"])
	}
	if timestamp != changedAt.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp: %s", timestamp)
	}

	payload, ok := envelope["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload not a map: %T", envelope["payload"])
	}
	if got := payload["method"]; got != "self_service" {
		t.Fatalf("unexpected method: %v", got)
	}
	metadata, ok := payload["metadata"].(map[string]any)
	if !ok || metadata["source"] != "unit-test" {
		t.Fatalf("metadata did not round-trip: %v", payload["metadata"])
	}

	envelopeMetadata, ok := envelope["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("envelope metadata not a map: %T", envelope["metadata"])
	}
	if envelopeMetadata["service"] != "password-expire" {
		t.Fatalf("unexpected metadata service: %v", envelopeMetadata["service"])
	}
	if envelopeMetadata["environment"] != "test" {
		t.Fatalf("unexpected metadata environment: %v", envelopeMetadata["environment"])
	}
}

func TestPublishExpiredLogin(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	event := domain.ExpiredLoginEvent{
		UserUUID:    "user-1",
		Username:    "bob",
		Database:    "default",
		Reasons:     []string{"expired", "admin_forced"},
		OccurredAt:  time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		LastChanged: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := publisher.PublishExpiredLogin(context.Background(), event); err != nil {
		t.Fatalf("PublishExpiredLogin returned error: %v", err)
	}

	msg, envelope := receiveEnvelope(t, asyncProducer)
	if msg.Topic != EventExpiredLogin {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	if id, _ := envelope["event_id"].(string); id == "" {
		t.Fatal("expected generated event_id")
	}

	payload := envelope["payload"].(map[string]any)
	reasons, ok := payload["reasons"].([]any)
	if !ok || len(reasons) != 2 || reasons[1] != "admin_forced" {
		t.Fatalf("unexpected reasons: %v", payload["reasons"])
	}
}

func TestPublishPasswordResetRequestedMasksEmail(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	event := domain.PasswordResetRequestedEvent{
		UserUUID:  "user-1",
		Username:  "carol",
		Email:     "carol@example.com",
		ExpiresAt: time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC),
	}
	if err := publisher.PublishPasswordResetRequested(context.Background(), event); err != nil {
		t.Fatalf("PublishPasswordResetRequested returned error: %v", err)
	}

	msg, envelope := receiveEnvelope(t, asyncProducer)
	if msg.Topic != EventPasswordResetRequested {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	if got := envelope["timestamp"]; got != event.ExpiresAt.Format(time.RFC3339Nano) {
		t.Fatalf("expected timestamp to fall back to expires_at, got %v", got)
	}

	payload := envelope["payload"].(map[string]any)
	if masked, _ := payload["masked_destination"].(string); masked == "" || masked == event.Email {
		t.Fatalf("expected masked destination, got %q", masked)
	}
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)
	asyncProducer.input <- &sarama.ProducerMessage{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := publisher.PublishPasswordChanged(ctx, domain.PasswordChangedEvent{UserUUID: "u"})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type fakeSyncProducer struct {
	sent []*sarama.ProducerMessage
	err  error
}

func (f *fakeSyncProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	f.sent = append(f.sent, msg)
	return 0, int64(len(f.sent)), nil
}

func (f *fakeSyncProducer) Close() error { return nil }

func TestSyncProducerSendsAndReportsFailures(t *testing.T) {
	sender := &fakeSyncProducer{}
	producer := &Producer{sync: sender, logger: zaptest.NewLogger(t), cfg: config.KafkaSettings{TopicPrefix: "site_b"}}
	publisher := NewEventPublisher(producer, config.AppSettings{Name: "password-expire"}, zaptest.NewLogger(t))

	if err := publisher.PublishPasswordChanged(context.Background(), domain.PasswordChangedEvent{UserUUID: "u-1"}); err != nil {
		t.Fatalf("PublishPasswordChanged returned error: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].Topic != "site_b."+EventPasswordChanged {
		t.Fatalf("unexpected sent messages: %+v", sender.sent)
	}

	sender.err = errors.New("not enough in-sync replicas")
	err := publisher.PublishPasswordChanged(context.Background(), domain.PasswordChangedEvent{UserUUID: "u-1"})
	if !errors.Is(err, sender.err) {
		t.Fatalf("expected the delivery error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := publisher.PublishPasswordChanged(ctx, domain.PasswordChangedEvent{UserUUID: "u-1"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPublishCarriesTraceID(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	if err != nil {
		t.Fatalf("trace id: %v", err)
	}
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	if err != nil {
		t.Fatalf("span id: %v", err)
	}
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	if err := publisher.PublishExpiredLogin(ctx, domain.ExpiredLoginEvent{UserUUID: "u-1"}); err != nil {
		t.Fatalf("PublishExpiredLogin returned error: %v", err)
	}

	_, envelope := receiveEnvelope(t, asyncProducer)
	metadata, ok := envelope["metadata"].(map[string]any)
	if !ok || metadata["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected trace_id in metadata, got %v", envelope["metadata"])
	}
}

func TestTopicName(t *testing.T) {
	cases := []struct {
		prefix    string
		eventType string
		want      string
	}{
		{prefix: "", eventType: "pe.user.password.changed", want: "pe.user.password.changed"},
		{prefix: "pe", eventType: "pe.user.password.changed", want: "pe.user.password.changed"},
		{prefix: "site_b", eventType: "pe.user.password.changed", want: "site_b.pe.user.password.changed"},
	}

	for _, tc := range cases {
		producer := &Producer{cfg: config.KafkaSettings{TopicPrefix: tc.prefix}}
		if got := producer.TopicName(tc.eventType); got != tc.want {
			t.Fatalf("TopicName(%q) with prefix %q = %q, want %q", tc.eventType, tc.prefix, got, tc.want)
		}
	}
}
