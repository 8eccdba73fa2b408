package records

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
)

func TestNames(t *testing.T) {
	if got := TopicName("p", "t"); got != "projects/p/topics/t" {
		t.Fatalf("TopicName = %s", got)
	}
	if got := SubscriptionName("p", "s"); got != "projects/p/subscriptions/s" {
		t.Fatalf("SubscriptionName = %s", got)
	}
}

func TestNewBuilderRequiresProjectAndTopic(t *testing.T) {
	if _, err := NewBuilder(" ", "t"); err == nil {
		t.Fatalf("expected error for blank project")
	}
	if _, err := NewBuilder("p", ""); err == nil {
		t.Fatalf("expected error for blank topic")
	}
}

func TestBuildMapsRecordCoordinates(t *testing.T) {
	b, err := NewBuilder("proj", "events")
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	ts := time.UnixMilli(1700000000123)
	req := b.Build(
		&sarama.ConsumerMessage{Topic: "orders", Partition: 3, Offset: 42, Key: []byte("k"), Value: []byte("v"), Timestamp: ts},
		nil,
		&sarama.ConsumerMessage{Topic: "orders", Partition: 3, Offset: 43, Value: []byte("w")},
	)

	if req.GetTopic() != "projects/proj/topics/events" {
		t.Fatalf("topic = %s", req.GetTopic())
	}
	if len(req.GetMessages()) != 2 {
		t.Fatalf("messages = %d", len(req.GetMessages()))
	}

	first := req.GetMessages()[0]
	if string(first.GetData()) != "v" {
		t.Fatalf("data = %q", first.GetData())
	}
	want := map[string]string{
		KeyAttribute:       "k",
		TopicAttribute:     "orders",
		PartitionAttribute: "3",
		OffsetAttribute:    "42",
		TimestampAttribute: "1700000000123",
	}
	for k, v := range want {
		if first.GetAttributes()[k] != v {
			t.Fatalf("attribute %s = %q, want %q", k, first.GetAttributes()[k], v)
		}
	}

	second := req.GetMessages()[1]
	if _, ok := second.GetAttributes()[KeyAttribute]; ok {
		t.Fatalf("empty key must not be attached")
	}
	if _, ok := second.GetAttributes()[TimestampAttribute]; ok {
		t.Fatalf("zero timestamp must not be attached")
	}
}
