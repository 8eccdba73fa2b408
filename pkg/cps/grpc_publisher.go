package cps

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
)

// GRPCPublisher publishes over a single Channel it owns.
type GRPCPublisher struct {
	id      string
	channel *Channel
	client  pubsubpb.PublisherClient
	log     Logger
	metrics *Metrics

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup

	// stop is cancelled when Close gives up waiting; every RPC context derives from it.
	stop         context.Context
	stopRPCs     context.CancelFunc
	drainTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewGRPCPublisher opens a dedicated channel and binds a publisher stub to it.
func NewGRPCPublisher(ctx context.Context, cfg PublisherConfig) (*GRPCPublisher, error) {
	ch, err := NewChannel(ctx, cfg.Channel)
	if err != nil {
		return nil, fmt.Errorf("publisher %q: %w", cfg.ID, err)
	}
	return newGRPCPublisher(cfg, ch, pubsubpb.NewPublisherClient(ch.conn)), nil
}

func newGRPCPublisher(cfg PublisherConfig, ch *Channel, client pubsubpb.PublisherClient) *GRPCPublisher {
	drain := cfg.DrainTimeout
	if drain <= 0 {
		drain = DefaultDrainTimeout
	}
	stop, stopRPCs := context.WithCancel(context.Background())
	return &GRPCPublisher{
		id:           cfg.ID,
		channel:      ch,
		client:       client,
		log:          ensureLogger(cfg.Logger),
		metrics:      cfg.Metrics,
		stop:         stop,
		stopRPCs:     stopRPCs,
		drainTimeout: drain,
	}
}

// ID identifies the publisher in logs.
func (p *GRPCPublisher) ID() string { return p.id }

// Publish starts the RPC and returns immediately. Failures are delivered only
// through the returned result; nothing is retried.
func (p *GRPCPublisher) Publish(ctx context.Context, req *pubsubpb.PublishRequest) *PublishResult {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ResolvedResult(nil, ErrPublisherClosed)
	}
	p.inflight.Add(1)
	p.mu.RUnlock()

	rpcCtx, cancel := context.WithCancel(ctx)
	detach := context.AfterFunc(p.stop, cancel)

	result, resolve := NewPublishResult()
	go func() {
		defer p.inflight.Done()
		defer cancel()
		defer detach()

		start := time.Now()
		p.metrics.publishStarted()
		resp, err := p.client.Publish(rpcCtx, req)
		p.metrics.publishFinished(err, time.Since(start))

		if err != nil {
			p.log.ErrorObj("cps publish failed", "publisher_cps_error", map[string]any{
				"publisher_id": p.id,
				"topic":        req.GetTopic(),
				"messages":     len(req.GetMessages()),
				"error":        err.Error(),
			})
		} else {
			p.log.DebugObj("cps publish delivered", "publisher_cps_delivery", map[string]any{
				"publisher_id": p.id,
				"message_ids":  resp.GetMessageIds(),
			})
		}
		resolve(resp, err)
	}()
	return result
}

// Close rejects new publishes and waits up to the drain timeout for in-flight
// ones. Publishes still running after that are cancelled and resolve with a
// context error. The channel is released in both cases.
func (p *GRPCPublisher) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		drained := make(chan struct{})
		go func() {
			p.inflight.Wait()
			close(drained)
		}()

		timer := time.NewTimer(p.drainTimeout)
		select {
		case <-drained:
			timer.Stop()
		case <-timer.C:
			p.log.WarnObj("cps publisher drain timed out", "publisher_cps_close", map[string]any{
				"publisher_id":  p.id,
				"drain_timeout": p.drainTimeout.String(),
			})
			p.stopRPCs()
			<-drained
		}
		p.stopRPCs()

		if p.channel != nil {
			p.closeErr = p.channel.Close()
		}
	})
	return p.closeErr
}
