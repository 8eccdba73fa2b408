package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/samvad-hq/cps-sink-connector/internal/logger"
	"github.com/samvad-hq/cps-sink-connector/internal/storage"
	"github.com/samvad-hq/cps-sink-connector/pkg/cps"
	"github.com/samvad-hq/cps-sink-connector/pkg/deadletter"
	"github.com/samvad-hq/cps-sink-connector/pkg/records"
)

const defaultFlushTimeout = 30 * time.Second

// HandlerConfig wires the collaborators of a Handler.
type HandlerConfig struct {
	Publisher     cps.Publisher
	Builder       *records.Builder
	Store         storage.Store
	DeadLetter    deadletter.Sink
	BatchSize     int
	FlushInterval time.Duration
	FlushTimeout  time.Duration
	Log           logger.Logger
}

// Handler publishes claimed records and marks them consumed once their
// publish is confirmed, in offset order.
type Handler struct {
	publisher     cps.Publisher
	builder       *records.Builder
	store         storage.Store
	deadLetter    deadletter.Sink
	batchSize     int
	flushInterval time.Duration
	flushTimeout  time.Duration
	log           logger.Logger
}

type pendingRecord struct {
	msg    *sarama.ConsumerMessage
	result *cps.PublishResult
}

// NewHandler validates cfg and returns a consumer group handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Publisher == nil {
		return nil, errors.New("relay: publisher is required")
	}
	if cfg.Builder == nil {
		return nil, errors.New("relay: request builder is required")
	}
	if cfg.Store == nil {
		cfg.Store, _ = storage.NewStore("none", "")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = defaultFlushTimeout
	}
	if cfg.Log == nil {
		cfg.Log = &logger.NopLogger{}
	}
	return &Handler{
		publisher:     cfg.Publisher,
		builder:       cfg.Builder,
		store:         cfg.Store,
		deadLetter:    cfg.DeadLetter,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		flushTimeout:  cfg.FlushTimeout,
		log:           cfg.Log,
	}, nil
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (h *Handler) Setup(sess sarama.ConsumerGroupSession) error {
	h.log.InfoObj("relay session started", "relay_session", map[string]any{
		"member_id":  sess.MemberID(),
		"generation": sess.GenerationID(),
		"claims":     sess.Claims(),
	})
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (h *Handler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.log.InfoObj("relay session ended", "relay_session", map[string]any{
		"member_id":  sess.MemberID(),
		"generation": sess.GenerationID(),
	})
	return nil
}

// ConsumeClaim publishes every message of the claim and flushes pending
// results on batch size, on the flush interval and when the claim ends.
func (h *Handler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	checkpoint, hasCheckpoint, err := h.store.Checkpoint(claim.Topic(), claim.Partition())
	if err != nil {
		h.log.WarnObj("checkpoint lookup failed", "relay_checkpoint_error", map[string]any{
			"topic":     claim.Topic(),
			"partition": claim.Partition(),
			"error":     err.Error(),
		})
		hasCheckpoint = false
	}

	// In-flight publishes complete even when the session is revoked.
	publishCtx := context.WithoutCancel(sess.Context())

	pending := make([]pendingRecord, 0, h.batchSize)
	ticker := time.NewTicker(h.flushInterval)
	defer ticker.Stop()

	flush := func() error {
		err := h.flush(sess, pending)
		pending = pending[:0]
		return err
	}

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return flush()
			}
			if hasCheckpoint && msg.Offset <= checkpoint {
				sess.MarkMessage(msg, "")
				continue
			}
			pending = append(pending, pendingRecord{
				msg:    msg,
				result: h.publisher.Publish(publishCtx, h.builder.Build(msg)),
			})
			if len(pending) >= h.batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		case <-sess.Context().Done():
			return flush()
		}
	}
}

// flush waits for pending results in order. Each confirmed record is
// checkpointed and marked; the first unrecoverable failure stops the flush so
// later records are redelivered. A result still pending when the flush
// timeout expires has no known outcome, so it is neither dead-lettered nor
// marked.
func (h *Handler) flush(sess sarama.ConsumerGroupSession, pending []pendingRecord) error {
	if len(pending) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.flushTimeout)
	defer cancel()

	for _, p := range pending {
		_, err := p.result.Get(ctx)
		if err != nil && !settled(p.result) {
			return fmt.Errorf("publish %s/%d@%d unconfirmed after %s: %w",
				p.msg.Topic, p.msg.Partition, p.msg.Offset, h.flushTimeout, err)
		}
		if err != nil {
			// Settled while the timeout fired; take the publish outcome.
			_, err = p.result.Get(context.Background())
		}
		if err != nil {
			if err := h.handleFailure(ctx, p.msg, err); err != nil {
				return err
			}
		}
		if err := h.store.Commit(p.msg.Topic, p.msg.Partition, p.msg.Offset); err != nil {
			h.log.WarnObj("checkpoint commit failed", "relay_checkpoint_error", map[string]any{
				"topic":     p.msg.Topic,
				"partition": p.msg.Partition,
				"offset":    p.msg.Offset,
				"error":     err.Error(),
			})
		}
		sess.MarkMessage(p.msg, "")
	}
	return nil
}

func settled(r *cps.PublishResult) bool {
	select {
	case <-r.Ready():
		return true
	default:
		return false
	}
}

func (h *Handler) handleFailure(ctx context.Context, msg *sarama.ConsumerMessage, cause error) error {
	if h.deadLetter == nil {
		return fmt.Errorf("publish %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, cause)
	}

	letter := deadletter.NewLetter(msg.Topic, msg.Partition, msg.Offset, msg.Key, msg.Value, cause)
	if err := h.deadLetter.Send(ctx, letter); err != nil {
		return errors.Join(
			fmt.Errorf("publish %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, cause),
			fmt.Errorf("dead-letter %s: %w", h.deadLetter.ID(), err),
		)
	}
	h.log.WarnObj("record dead-lettered", "relay_deadletter", map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
		"sink_id":   h.deadLetter.ID(),
		"error":     cause.Error(),
	})
	return nil
}
