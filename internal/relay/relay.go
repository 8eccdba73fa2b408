package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/samvad-hq/cps-sink-connector/internal/logger"
)

const defaultRetryDelay = time.Second

// Config selects the Kafka source of the relay.
type Config struct {
	Brokers []string
	GroupID string
	Topics  []string
	Log     logger.Logger

	// RetryDelay is the pause after a failed session; defaults to one second.
	RetryDelay time.Duration
}

// Relay drives a Kafka consumer group through a Handler until stopped.
type Relay struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler sarama.ConsumerGroupHandler
	log     logger.Logger

	retryDelay time.Duration
}

// New joins the consumer group described by cfg.
func New(cfg Config, handler sarama.ConsumerGroupHandler) (*Relay, error) {
	if handler == nil {
		return nil, errors.New("relay: handler is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("relay: at least one topic is required")
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, newSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return newRelay(group, cfg, handler), nil
}

func newRelay(group sarama.ConsumerGroup, cfg Config, handler sarama.ConsumerGroupHandler) *Relay {
	log := cfg.Log
	if log == nil {
		log = &logger.NopLogger{}
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	return &Relay{group: group, topics: cfg.Topics, handler: handler, log: log, retryDelay: retryDelay}
}

func newSaramaConfig() *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = "cps-sink-connector"
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Offsets.AutoCommit.Enable = true
	return sc
}

// Run consumes until ctx is cancelled. Each rebalance starts a new session;
// a failed session is retried after the retry delay.
func (r *Relay) Run(ctx context.Context) error {
	go r.drainErrors()

	for {
		err := r.group.Consume(ctx, r.topics, r.handler)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			continue
		}

		r.log.ErrorObj("relay session failed", "relay_error", map[string]any{
			"topics":      r.topics,
			"error":       err.Error(),
			"retry_delay": r.retryDelay.String(),
		})
		timer := time.NewTimer(r.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (r *Relay) drainErrors() {
	for err := range r.group.Errors() {
		r.log.ErrorObj("relay consumer error", "relay_error", map[string]any{
			"error": err.Error(),
		})
	}
}

// Close leaves the consumer group.
func (r *Relay) Close() error {
	return r.group.Close()
}
