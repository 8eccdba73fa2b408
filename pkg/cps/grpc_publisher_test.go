package cps

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const (
	testProject = "test-project"
	testTopic   = "projects/test-project/topics/topic-1"
)

// newEmulator starts the in-memory Pub/Sub server with topic-1 created and
// returns a channel config pointed at it.
func newEmulator(t *testing.T) (*pstest.Server, ChannelConfig) {
	t.Helper()
	server := pstest.NewServer()
	t.Cleanup(func() { server.Close() })

	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, testProject,
		option.WithEndpoint(server.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	defer client.Close()
	if _, err := client.CreateTopic(ctx, "topic-1"); err != nil {
		t.Fatalf("create topic: %v", err)
	}

	return server, ChannelConfig{
		target:          server.Addr,
		transport:       insecure.NewCredentials(),
		findCredentials: staticCredentials,
	}
}

func TestGRPCPublisherPublishes(t *testing.T) {
	server, chCfg := newEmulator(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	pub, err := NewGRPCPublisher(context.Background(), PublisherConfig{ID: "p0", Channel: chCfg, Metrics: metrics})
	if err != nil {
		t.Fatalf("NewGRPCPublisher: %v", err)
	}
	defer pub.Close()

	resp, err := pub.Publish(context.Background(), &pubsubpb.PublishRequest{
		Topic: testTopic,
		Messages: []*pubsubpb.PubsubMessage{
			{Data: []byte("hello"), Attributes: map[string]string{"key": "k1"}},
		},
	}).Get(context.Background())
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(resp.GetMessageIds()) != 1 {
		t.Fatalf("message ids = %v", resp.GetMessageIds())
	}

	msgs := server.Messages()
	if len(msgs) != 1 || string(msgs[0].Data) != "hello" || msgs[0].Attributes["key"] != "k1" {
		t.Fatalf("server messages = %#v", msgs)
	}
	if got := testutil.ToFloat64(metrics.published.WithLabelValues(codes.OK.String())); got != 1 {
		t.Fatalf("ok publishes = %v", got)
	}
	if got := testutil.ToFloat64(metrics.inflight); got != 0 {
		t.Fatalf("inflight = %v", got)
	}
}

func TestGRPCPublisherFailureDoesNotLeak(t *testing.T) {
	_, chCfg := newEmulator(t)
	pub, err := NewGRPCPublisher(context.Background(), PublisherConfig{ID: "p0", Channel: chCfg})
	if err != nil {
		t.Fatalf("NewGRPCPublisher: %v", err)
	}
	defer pub.Close()

	_, err = pub.Publish(context.Background(), &pubsubpb.PublishRequest{
		Topic:    "projects/test-project/topics/missing",
		Messages: []*pubsubpb.PubsubMessage{{Data: []byte("x")}},
	}).Get(context.Background())
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	_, err = pub.Publish(context.Background(), &pubsubpb.PublishRequest{
		Topic:    testTopic,
		Messages: []*pubsubpb.PubsubMessage{{Data: []byte("y")}},
	}).Get(context.Background())
	if err != nil {
		t.Fatalf("publish after failure: %v", err)
	}
}

func TestRoundRobinOverGRPCPublishers(t *testing.T) {
	server, chCfg := newEmulator(t)
	rr, err := NewRoundRobin(context.Background(), RoundRobinConfig{
		Size:    3,
		Factory: GRPCPublisherFactory(PublisherConfig{ID: "pool", Channel: chCfg}),
	})
	if err != nil {
		t.Fatalf("NewRoundRobin: %v", err)
	}

	results := make([]*PublishResult, 0, 6)
	for i := 0; i < 6; i++ {
		results = append(results, rr.Publish(context.Background(), &pubsubpb.PublishRequest{
			Topic:    testTopic,
			Messages: []*pubsubpb.PubsubMessage{{Data: []byte{byte(i)}}},
		}))
	}
	for i, r := range results {
		if _, err := r.Get(context.Background()); err != nil {
			t.Fatalf("result %d: %v", i, err)
		}
	}
	if got := len(server.Messages()); got != 6 {
		t.Fatalf("server received %d messages", got)
	}

	if err := rr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err = rr.Publish(context.Background(), &pubsubpb.PublishRequest{Topic: testTopic}).Get(context.Background())
	if !errors.Is(err, ErrPublisherClosed) {
		t.Fatalf("expected ErrPublisherClosed after Close, got %v", err)
	}
}

func TestGRPCPublisherFactoryPropagatesCredentialError(t *testing.T) {
	_, err := NewRoundRobin(context.Background(), RoundRobinConfig{
		Size: 2,
		Factory: GRPCPublisherFactory(PublisherConfig{Channel: ChannelConfig{
			findCredentials: func(context.Context, ...string) (*google.Credentials, error) {
				return nil, errors.New("no ambient credentials")
			},
		}}),
	})
	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("expected CredentialError, got %v", err)
	}
}

func TestChannelTopicExists(t *testing.T) {
	_, chCfg := newEmulator(t)
	ch, err := NewChannel(context.Background(), chCfg)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	defer ch.Close()

	ok, err := ch.TopicExists(context.Background(), testTopic)
	if err != nil || !ok {
		t.Fatalf("TopicExists(existing) = %v, %v", ok, err)
	}
	ok, err = ch.TopicExists(context.Background(), "projects/test-project/topics/nope")
	if err != nil || ok {
		t.Fatalf("TopicExists(missing) = %v, %v", ok, err)
	}
}

// hangingClient never answers a publish until its context is cancelled.
type hangingClient struct {
	pubsubpb.PublisherClient
	started chan struct{}
}

func (h hangingClient) Publish(ctx context.Context, _ *pubsubpb.PublishRequest, _ ...grpc.CallOption) (*pubsubpb.PublishResponse, error) {
	h.started <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGRPCPublisherCloseCancelsStuckPublish(t *testing.T) {
	client := hangingClient{started: make(chan struct{}, 1)}
	pub := newGRPCPublisher(PublisherConfig{ID: "p0", DrainTimeout: 20 * time.Millisecond}, nil, client)

	result := pub.Publish(context.WithoutCancel(context.Background()), &pubsubpb.PublishRequest{Topic: testTopic})
	<-client.started

	closed := make(chan error, 1)
	go func() { closed <- pub.Close() }()

	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Close blocked on a stuck publish")
	}

	select {
	case <-result.Ready():
	default:
		t.Fatalf("stuck publish not resolved after Close")
	}
	if _, err := result.Get(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGRPCPublisherCloseWaitsForFastPublish(t *testing.T) {
	_, chCfg := newEmulator(t)
	pub, err := NewGRPCPublisher(context.Background(), PublisherConfig{ID: "p0", Channel: chCfg, DrainTimeout: time.Minute})
	if err != nil {
		t.Fatalf("NewGRPCPublisher: %v", err)
	}

	result := pub.Publish(context.Background(), &pubsubpb.PublishRequest{
		Topic:    testTopic,
		Messages: []*pubsubpb.PubsubMessage{{Data: []byte("z")}},
	})
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := result.Get(context.Background()); err != nil {
		t.Fatalf("publish in flight at Close: %v", err)
	}
}
