// Package records maps consumed Kafka records onto Pub/Sub publish requests.
package records

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/IBM/sarama"
)

const (
	topicFormat        = "projects/%s/topics/%s"
	subscriptionFormat = "projects/%s/subscriptions/%s"

	// Attribute keys attached to every published message.
	KeyAttribute       = "key"
	TopicAttribute     = "kafka.topic"
	PartitionAttribute = "kafka.partition"
	OffsetAttribute    = "kafka.offset"
	TimestampAttribute = "kafka.timestamp"
)

// TopicName returns the fully qualified Pub/Sub topic name.
func TopicName(project, topic string) string {
	return fmt.Sprintf(topicFormat, project, topic)
}

// SubscriptionName returns the fully qualified Pub/Sub subscription name.
func SubscriptionName(project, subscription string) string {
	return fmt.Sprintf(subscriptionFormat, project, subscription)
}

// Builder turns consumer messages into publish requests for a single topic.
type Builder struct {
	topic string
}

// NewBuilder validates the project and topic ids and returns a Builder for them.
func NewBuilder(project, topic string) (*Builder, error) {
	project = strings.TrimSpace(project)
	topic = strings.TrimSpace(topic)
	if project == "" {
		return nil, errors.New("cps project is required")
	}
	if topic == "" {
		return nil, errors.New("cps topic is required")
	}
	return &Builder{topic: TopicName(project, topic)}, nil
}

// Topic returns the fully qualified destination topic.
func (b *Builder) Topic() string { return b.topic }

// Build packs msgs, in order, into one publish request. Nil entries are skipped.
func (b *Builder) Build(msgs ...*sarama.ConsumerMessage) *pubsubpb.PublishRequest {
	req := &pubsubpb.PublishRequest{
		Topic:    b.topic,
		Messages: make([]*pubsubpb.PubsubMessage, 0, len(msgs)),
	}
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		req.Messages = append(req.Messages, Message(msg))
	}
	return req
}

// Message converts a single record: the value becomes the payload and the
// record coordinates become attributes.
func Message(msg *sarama.ConsumerMessage) *pubsubpb.PubsubMessage {
	attrs := map[string]string{
		TopicAttribute:     msg.Topic,
		PartitionAttribute: strconv.FormatInt(int64(msg.Partition), 10),
		OffsetAttribute:    strconv.FormatInt(msg.Offset, 10),
	}
	if len(msg.Key) > 0 {
		attrs[KeyAttribute] = string(msg.Key)
	}
	if !msg.Timestamp.IsZero() {
		attrs[TimestampAttribute] = strconv.FormatInt(msg.Timestamp.UnixMilli(), 10)
	}
	return &pubsubpb.PubsubMessage{
		Data:       msg.Value,
		Attributes: attrs,
	}
}
