package cps

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Channel is an authenticated gRPC connection to the Pub/Sub endpoint. It owns
// the connection and the scoped token source attached to every outgoing call.
type Channel struct {
	conn           *grpc.ClientConn
	tokens         oauth2.TokenSource
	target         string
	maxMessageSize int

	closeOnce sync.Once
	closeErr  error
}

// NewChannel builds a TLS channel to Endpoint, bounded to cfg.MaxMessageSize
// inbound bytes, whose calls carry application default credentials scoped to
// PublishScope. It returns a *CredentialError when no credentials can be found.
func NewChannel(ctx context.Context, cfg ChannelConfig) (*Channel, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.withDefaults()

	// Token refreshes outlive the construction context.
	creds, err := cfg.findCredentials(context.WithoutCancel(ctx), PublishScope)
	if err != nil {
		return nil, &CredentialError{Err: err}
	}
	if creds == nil || creds.TokenSource == nil {
		return nil, &CredentialError{Err: errors.New("no token source in default credentials")}
	}
	tokens := oauth2.ReuseTokenSource(nil, creds.TokenSource)

	conn, err := grpc.NewClient(cfg.target,
		grpc.WithTransportCredentials(cfg.transport),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize)),
		grpc.WithChainUnaryInterceptor(authInterceptor(tokens)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.target, err)
	}

	return &Channel{
		conn:           conn,
		tokens:         tokens,
		target:         cfg.target,
		maxMessageSize: cfg.MaxMessageSize,
	}, nil
}

// authInterceptor attaches a bearer token to each unary call. Token failures
// fail only the call that needed the token.
func authInterceptor(tokens oauth2.TokenSource) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		tok, err := tokens.Token()
		if err != nil {
			return status.Errorf(codes.Unauthenticated, "fetch access token: %v", err)
		}
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", tok.Type()+" "+tok.AccessToken)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// Conn exposes the underlying connection for generated stubs.
func (c *Channel) Conn() grpc.ClientConnInterface {
	return c.conn
}

// Target returns the address the channel dials.
func (c *Channel) Target() string {
	return c.target
}

// MaxMessageSize returns the inbound message bound in bytes.
func (c *Channel) MaxMessageSize() int {
	return c.maxMessageSize
}

// TopicExists reports whether the fully qualified topic name exists.
func (c *Channel) TopicExists(ctx context.Context, topic string) (bool, error) {
	_, err := pubsubpb.NewPublisherClient(c.conn).GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: topic})
	switch status.Code(err) {
	case codes.OK:
		return true, nil
	case codes.NotFound:
		return false, nil
	default:
		return false, fmt.Errorf("get topic %s: %w", topic, err)
	}
}

// Close tears down the connection. Safe to call more than once.
func (c *Channel) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
