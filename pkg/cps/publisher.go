package cps

import (
	"context"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
)

// Publisher submits a publish request and returns its eventual outcome without blocking.
type Publisher interface {
	Publish(ctx context.Context, req *pubsubpb.PublishRequest) *PublishResult
}

// PublisherFactory builds the publisher occupying a pool slot.
type PublisherFactory func(ctx context.Context, index int) (Publisher, error)

// DefaultDrainTimeout bounds how long Close waits for in-flight publishes
// before cancelling them.
const DefaultDrainTimeout = 30 * time.Second

// PublisherConfig describes a single channel-backed publisher.
type PublisherConfig struct {
	ID      string
	Channel ChannelConfig
	Logger  Logger
	Metrics *Metrics

	// DrainTimeout defaults to DefaultDrainTimeout when not positive.
	DrainTimeout time.Duration
}

// GRPCPublisherFactory returns a factory building one GRPCPublisher, each on its
// own channel, per pool slot.
func GRPCPublisherFactory(cfg PublisherConfig) PublisherFactory {
	return func(ctx context.Context, index int) (Publisher, error) {
		slot := cfg
		slot.ID = slotID(cfg.ID, index)
		return NewGRPCPublisher(ctx, slot)
	}
}

func slotID(base string, index int) string {
	if base == "" {
		base = "cps"
	}
	return base + "-" + strconv.Itoa(index)
}
