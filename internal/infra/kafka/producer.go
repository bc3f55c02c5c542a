package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/jayceeit/password-expire/internal/infra/config"
)

// syncSender is the part of sarama.SyncProducer the service uses.
type syncSender interface {
	SendMessage(msg *sarama.ProducerMessage) (int32, int64, error)
	Close() error
}

// Producer delivers event envelopes. With KafkaSettings.Async messages are
// queued and delivery failures are only logged; otherwise Send returns once
// all in-sync replicas acknowledged the message.
type Producer struct {
	async  sarama.AsyncProducer
	sync   syncSender
	logger *zap.Logger
	cfg    config.KafkaSettings
}

func newSaramaConfig(async bool) *sarama.Config {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_5_0_0
	saramaConfig.ClientID = "password-expire"
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Metadata.Retry.Max = 3
	saramaConfig.Metadata.Retry.Backoff = 250 * time.Millisecond

	if async {
		saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
		saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
		saramaConfig.Producer.Flush.Messages = 100
		saramaConfig.Producer.Return.Successes = false
		return saramaConfig
	}

	// SyncProducer requires successes to be returned.
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Return.Successes = true
	return saramaConfig
}

// NewProducer connects to the configured brokers.
func NewProducer(cfg config.KafkaSettings, logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Producer{logger: logger, cfg: cfg}

	if cfg.Async {
		producer, err := sarama.NewAsyncProducer(cfg.Brokers, newSaramaConfig(true))
		if err != nil {
			return nil, fmt.Errorf("create kafka async producer: %w", err)
		}
		p.async = producer
		go p.logErrors()
	} else {
		producer, err := sarama.NewSyncProducer(cfg.Brokers, newSaramaConfig(false))
		if err != nil {
			return nil, fmt.Errorf("create kafka sync producer: %w", err)
		}
		p.sync = producer
	}

	logger.Info("kafka producer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic_prefix", cfg.TopicPrefix),
		zap.Bool("async", cfg.Async),
	)
	return p, nil
}

// logErrors runs until the async producer closes its error channel.
func (p *Producer) logErrors() {
	for err := range p.async.Errors() {
		if err == nil {
			continue
		}
		p.logger.Error("kafka delivery failed",
			zap.Error(err.Err),
			zap.String("topic", err.Msg.Topic),
		)
	}
}

// Send hands msg to Kafka. A cancelled ctx stops an async send waiting for
// queue space and keeps a sync send from starting.
func (p *Producer) Send(ctx context.Context, msg *sarama.ProducerMessage) error {
	if p.sync != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		partition, offset, err := p.sync.SendMessage(msg)
		if err != nil {
			return fmt.Errorf("send to %s: %w", msg.Topic, err)
		}
		p.logger.Debug("kafka message delivered",
			zap.String("topic", msg.Topic),
			zap.Int32("partition", partition),
			zap.Int64("offset", offset),
		)
		return nil
	}

	select {
	case p.async.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending messages.
func (p *Producer) Close() error {
	p.logger.Info("closing kafka producer")

	var err error
	if p.sync != nil {
		err = p.sync.Close()
	} else if p.async != nil {
		err = p.async.Close()
	}
	if err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

// TopicName prefixes eventType unless it already carries the prefix.
func (p *Producer) TopicName(eventType string) string {
	if p.cfg.TopicPrefix == "" {
		return eventType
	}

	prefix := p.cfg.TopicPrefix + "."
	if strings.HasPrefix(eventType, prefix) {
		return eventType
	}
	return prefix + eventType
}
