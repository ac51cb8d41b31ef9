package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/arcade-backend/internal/config"
	"github.com/arcade-backend/internal/events"
	"github.com/arcade-backend/internal/notify"
)

// Producer publishes envelopes and push notifications to Kafka
type Producer struct {
	producer           sarama.SyncProducer
	topic              string
	notificationsTopic string
	logger             *slog.Logger
}

// NewProducer connects a synchronous producer to the configured brokers
func NewProducer(cfg *config.KafkaConfig, logger *slog.Logger) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}

	return NewProducerFrom(producer, cfg, logger), nil
}

// NewProducerFrom wraps an existing sarama producer
func NewProducerFrom(producer sarama.SyncProducer, cfg *config.KafkaConfig, logger *slog.Logger) *Producer {
	return &Producer{
		producer:           producer,
		topic:              cfg.Topic,
		notificationsTopic: cfg.NotificationsTopic,
		logger:             logger,
	}
}

// Publish sends env keyed by its subject so per-subject order is kept
func (p *Producer) Publish(ctx context.Context, env events.Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(env.Type)},
		},
	}
	if env.Key != "" {
		msg.Key = sarama.StringEncoder(env.Key)
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publishing %s: %w", env.Type, err)
	}

	p.logger.Debug("published event",
		"event_id", env.ID,
		"type", env.Type,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

// Notify hands a push notification to the delivery service's topic
func (p *Producer) Notify(ctx context.Context, n notify.Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.notificationsTopic,
		Key:   sarama.StringEncoder(n.Kind),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		return fmt.Errorf("publishing notification: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying producer
func (p *Producer) Close() error {
	return p.producer.Close()
}
