package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samvad-hq/cps-sink-connector/internal/config"
	"github.com/samvad-hq/cps-sink-connector/internal/logger"
	"github.com/samvad-hq/cps-sink-connector/internal/relay"
	"github.com/samvad-hq/cps-sink-connector/internal/storage"
	"github.com/samvad-hq/cps-sink-connector/pkg/cps"
	"github.com/samvad-hq/cps-sink-connector/pkg/deadletter"
	"github.com/samvad-hq/cps-sink-connector/pkg/records"
)

const shutdownTimeout = 10 * time.Second

// Sink is the connector runtime. It owns the publisher pool, the checkpoint
// store, the Kafka relay and the metrics endpoint, and tears them down in
// reverse order of construction.
type Sink struct {
	cfg      *config.Config
	pool     *cps.RoundRobin
	store    storage.Store
	relay    *relay.Relay
	registry *prometheus.Registry
	log      logger.Logger
}

// NewSink builds the runtime. Any construction failure, including missing
// credentials, releases what was already built and is returned.
func NewSink(ctx context.Context, cfg *config.Config, log logger.Logger) (s *Sink, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var closers []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}()

	builder, err := records.NewBuilder(cfg.CPSProject, cfg.CPSTopic)
	if err != nil {
		return nil, fmt.Errorf("init request builder: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := cps.NewMetrics(registry)
	channelCfg := cps.ChannelConfig{MaxMessageSize: cfg.MaxMessageSize}

	if cfg.VerifyTopic {
		if err := verifyTopic(ctx, channelCfg, builder.Topic()); err != nil {
			return nil, err
		}
	}

	pool, err := cps.NewRoundRobin(ctx, cps.RoundRobinConfig{
		Size: cfg.PublisherCount,
		Factory: cps.GRPCPublisherFactory(cps.PublisherConfig{
			ID:           cfg.AppName,
			Channel:      channelCfg,
			Logger:       log,
			Metrics:      metrics,
			DrainTimeout: cfg.DrainTimeout,
		}),
		Metrics: metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("build publisher pool: %w", err)
	}
	closers = append(closers, pool.Close)
	log.InfoObj("publisher pool ready", "pool_meta", map[string]any{
		"size":             pool.Size(),
		"topic":            builder.Topic(),
		"max_message_size": cfg.MaxMessageSize,
	})

	store, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	closers = append(closers, store.Close)
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type": cfg.StorageType,
		"path": cfg.BBoltPath,
	})

	var sink deadletter.Sink
	if cfg.FailurePolicy == config.FailurePolicyDeadLetter {
		sink, err = deadletter.DefaultRegistry().SinkFor(ctx, deadLetterConfig(cfg), log)
		if err != nil {
			return nil, fmt.Errorf("build dead-letter sink: %w", err)
		}
		log.InfoObj("dead-letter sink ready", "deadletter_meta", map[string]any{
			"id":   sink.ID(),
			"type": sink.Type(),
		})
	}

	handler, err := relay.NewHandler(relay.HandlerConfig{
		Publisher:     pool,
		Builder:       builder,
		Store:         store,
		DeadLetter:    sink,
		BatchSize:     cfg.FlushBatchSize,
		FlushInterval: cfg.FlushInterval,
		FlushTimeout:  cfg.FlushTimeout,
		Log:           log,
	})
	if err != nil {
		return nil, fmt.Errorf("init relay handler: %w", err)
	}

	rl, err := relay.New(relay.Config{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.KafkaGroupID,
		Topics:  cfg.KafkaTopics,
		Log:     log,
	}, handler)
	if err != nil {
		return nil, fmt.Errorf("init relay: %w", err)
	}

	return &Sink{
		cfg:      cfg,
		pool:     pool,
		store:    store,
		relay:    rl,
		registry: registry,
		log:      log,
	}, nil
}

// verifyTopic fails startup when the destination topic does not exist.
func verifyTopic(ctx context.Context, channelCfg cps.ChannelConfig, topic string) error {
	ch, err := cps.NewChannel(ctx, channelCfg)
	if err != nil {
		return fmt.Errorf("open verification channel: %w", err)
	}
	defer ch.Close()

	ok, err := ch.TopicExists(ctx, topic)
	if err != nil {
		return fmt.Errorf("verify topic: %w", err)
	}
	if !ok {
		return fmt.Errorf("topic %s does not exist", topic)
	}
	return nil
}

func deadLetterConfig(cfg *config.Config) deadletter.Config {
	dl := deadletter.Config{ID: cfg.AppName + "-deadletter", Type: cfg.DeadLetterType}
	switch dl.Type {
	case deadletter.TypeSQS:
		dl.SQS = &deadletter.SQSConfig{QueueURL: cfg.DeadLetterTarget, Region: cfg.DeadLetterRegion}
	case deadletter.TypeSNS:
		dl.SNS = &deadletter.SNSConfig{TopicARN: cfg.DeadLetterTarget, Region: cfg.DeadLetterRegion}
	case deadletter.TypeHTTP:
		dl.HTTP = &deadletter.HTTPConfig{URL: cfg.DeadLetterTarget}
	}
	return dl
}

// Run serves metrics and relays records until ctx is cancelled, then releases
// every resource the sink owns.
func (s *Sink) Run(ctx context.Context) error {
	if s == nil || s.relay == nil {
		return fmt.Errorf("sink is not initialized")
	}

	srv := &http.Server{
		Addr:              s.cfg.MetricsAddr,
		Handler:           s.metricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.ErrorObj("metrics server failed", "error", err)
		}
	}()

	s.log.InfoObj("sink loop starting", "sink_state", map[string]any{
		"kafka_topics":    s.cfg.KafkaTopics,
		"kafka_group_id":  s.cfg.KafkaGroupID,
		"publisher_count": s.pool.Size(),
		"failure_policy":  s.cfg.FailurePolicy,
		"metrics_addr":    s.cfg.MetricsAddr,
	})

	runErr := s.relay.Run(ctx)
	s.log.InfoObj("sink loop exiting", "reason", ctx.Err())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, srv.Shutdown(shutdownCtx), s.Close())
}

func (s *Sink) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// Close leaves the consumer group, then drains and closes the publisher pool
// and the checkpoint store.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if err := s.relay.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close relay: %w", err))
	}
	if err := s.pool.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher pool: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	if len(errs) > 0 {
		s.log.ErrorObj("sink teardown failed", "error", errors.Join(errs...))
	}
	return errors.Join(errs...)
}
