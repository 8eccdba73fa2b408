package deadletter

import "time"

// Letter is the payload handed to a dead-letter sink.
type Letter struct {
	Topic     string    `json:"topic"`
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	Key       []byte    `json:"key,omitempty"`
	Value     []byte    `json:"value"`
	Error     string    `json:"error"`
	FailedAt  time.Time `json:"failed_at"`
}

// NewLetter builds a Letter for a record whose publish failed with cause.
func NewLetter(topic string, partition int32, offset int64, key, value []byte, cause error) Letter {
	l := Letter{
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Key:       key,
		Value:     value,
		FailedAt:  time.Now().UTC(),
	}
	if cause != nil {
		l.Error = cause.Error()
	}
	return l
}
