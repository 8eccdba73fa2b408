package cps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
)

// RoundRobin distributes publishes across a fixed pool of publishers in
// rotating order. It is itself a Publisher, so pools can be nested.
type RoundRobin struct {
	publishers []Publisher
	// cursor holds the index of the last selected publisher, always in [0, len(publishers)).
	cursor  atomic.Int64
	metrics *Metrics
}

// RoundRobinConfig sizes and populates a pool.
type RoundRobinConfig struct {
	Size    int
	Factory PublisherFactory
	Metrics *Metrics
}

// NewRoundRobin builds cfg.Size publishers up front. If any of them fails to
// build, the ones already built are closed and the error is returned.
func NewRoundRobin(ctx context.Context, cfg RoundRobinConfig) (*RoundRobin, error) {
	if cfg.Size <= 0 {
		return nil, ErrInvalidPoolSize
	}
	if cfg.Factory == nil {
		return nil, errors.New("cps: publisher factory is nil")
	}

	pubs := make([]Publisher, 0, cfg.Size)
	for i := 0; i < cfg.Size; i++ {
		pub, err := cfg.Factory(ctx, i)
		if err == nil && pub == nil {
			err = errors.New("factory returned nil publisher")
		}
		if err != nil {
			closeErr := closeAll(pubs)
			return nil, errors.Join(fmt.Errorf("build publisher %d: %w", i, err), closeErr)
		}
		pubs = append(pubs, pub)
	}
	return &RoundRobin{publishers: pubs, metrics: cfg.Metrics}, nil
}

// NewRoundRobinOf composes existing publishers into a pool, in the given order.
func NewRoundRobinOf(metrics *Metrics, pubs ...Publisher) (*RoundRobin, error) {
	if len(pubs) == 0 {
		return nil, ErrInvalidPoolSize
	}
	cp := make([]Publisher, len(pubs))
	for i, p := range pubs {
		if p == nil {
			return nil, fmt.Errorf("cps: publisher %d is nil", i)
		}
		cp[i] = p
	}
	return &RoundRobin{publishers: cp, metrics: metrics}, nil
}

// Publish advances the cursor and delegates to the publisher it lands on. The
// cursor starts at 0 and moves before delegation, so the first call after
// construction goes to index 1 (mod size). The delegate's result is returned
// unaltered: no retry, reroute or timeout happens here.
func (r *RoundRobin) Publish(ctx context.Context, req *pubsubpb.PublishRequest) *PublishResult {
	idx := r.next()
	r.metrics.selected(idx)
	return r.publishers[idx].Publish(ctx, req)
}

func (r *RoundRobin) next() int {
	n := int64(len(r.publishers))
	for {
		cur := r.cursor.Load()
		nxt := (cur + 1) % n
		if r.cursor.CompareAndSwap(cur, nxt) {
			return int(nxt)
		}
	}
}

// Size returns the fixed pool size.
func (r *RoundRobin) Size() int {
	if r == nil {
		return 0
	}
	return len(r.publishers)
}

// Close closes every pooled publisher that can be closed.
func (r *RoundRobin) Close() error {
	if r == nil {
		return nil
	}
	return closeAll(r.publishers)
}

func closeAll(pubs []Publisher) error {
	var errs []error
	for i, p := range pubs {
		c, ok := p.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
