package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/arcade-backend/internal/config"
	"github.com/arcade-backend/internal/domain"
	"github.com/arcade-backend/internal/events"
)

// Dispatcher routes a decoded envelope to its handler
type Dispatcher interface {
	Dispatch(ctx context.Context, env events.Envelope) error
}

// Consumer consumes trigger envelopes from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	dispatcher    Dispatcher
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, dispatcher Dispatcher, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	return newConsumer(cfg, dispatcher, consumerGroup, logger), nil
}

func newConsumer(cfg *config.KafkaConfig, dispatcher Dispatcher, group sarama.ConsumerGroup, logger *slog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:        cfg,
		dispatcher:    dispatcher,
		logger:        logger,
		consumerGroup: group,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	<-c.ready
	c.logger.Info("Kafka consumer ready")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// handleMessage decodes and dispatches one message, retrying transient
// failures. It reports whether the message may be committed.
func (c *Consumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) bool {
	var env events.Envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		c.logger.Warn("failed to unmarshal envelope",
			"error", err,
			"offset", message.Offset,
			"partition", message.Partition,
		)
		return true
	}

	attempts := c.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := c.dispatch(ctx, env)
		if err == nil {
			return true
		}
		if errors.Is(err, domain.ErrUnknownEventType) {
			c.logger.Warn("dropping event of unknown type", "event_id", env.ID, "type", env.Type)
			return true
		}
		if attempt >= attempts {
			// the record stays in its error state for the reprocessing job
			c.logger.Error("event handling failed",
				"event_id", env.ID,
				"type", env.Type,
				"attempts", attempt,
				"error", err,
			)
			return true
		}

		c.logger.Warn("retrying event", "event_id", env.ID, "type", env.Type, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, env events.Envelope) error {
	if c.config.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.HandlerTimeout)
		defer cancel()
	}
	return c.dispatcher.Dispatch(ctx, env)
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition in order
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !h.consumer.handleMessage(session.Context(), message) {
				return nil
			}
			session.MarkMessage(message, "")
		}
	}
}
