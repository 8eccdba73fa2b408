package cps

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/grpc/credentials"
)

const (
	// Endpoint is the Cloud Pub/Sub gRPC endpoint reached on the standard TLS port.
	Endpoint = "pubsub.googleapis.com:443"
	// PublishScope is the only OAuth2 scope requested for the channel credentials.
	PublishScope = "https://www.googleapis.com/auth/pubsub"

	// MaxMessageSizeKey names the option bounding inbound message size on the channel.
	MaxMessageSizeKey = "cps.max.message.size"
	// DefaultMaxMessageSize matches gRPC's default receive limit (4 MiB).
	DefaultMaxMessageSize = 4 << 20
)

// credentialsFinder resolves ambient credentials narrowed to the given scopes.
type credentialsFinder func(ctx context.Context, scopes ...string) (*google.Credentials, error)

// ChannelConfig controls how a Channel is built.
type ChannelConfig struct {
	// MaxMessageSize bounds inbound messages in bytes. Values <= 0 fall back
	// to DefaultMaxMessageSize.
	MaxMessageSize int

	// Overridden only by tests in this package; production channels always
	// dial Endpoint over TLS with application default credentials.
	target          string
	transport       credentials.TransportCredentials
	findCredentials credentialsFinder
}

func (cfg ChannelConfig) withDefaults() ChannelConfig {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.target == "" {
		cfg.target = Endpoint
	}
	if cfg.transport == nil {
		cfg.transport = credentials.NewClientTLSFromCert(nil, "")
	}
	if cfg.findCredentials == nil {
		cfg.findCredentials = google.FindDefaultCredentials
	}
	return cfg
}

// ResolveMaxMessageSize reads MaxMessageSizeKey from props. Missing, blank,
// non-numeric or non-positive values resolve to DefaultMaxMessageSize.
func ResolveMaxMessageSize(props map[string]string) int {
	raw, ok := props[MaxMessageSizeKey]
	if !ok {
		return DefaultMaxMessageSize
	}
	return ParseMaxMessageSize(raw)
}

// ParseMaxMessageSize parses a raw size option, falling back to DefaultMaxMessageSize.
func ParseMaxMessageSize(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return DefaultMaxMessageSize
	}
	return n
}
