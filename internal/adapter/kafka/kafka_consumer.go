package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/aq2208/portfolio-api/internal/logging"
)

// HandlerFunc processes a decoded event of type T.
type HandlerFunc[T any] func(ctx context.Context, ev T) error

// Consumer consumes topics of one group with a single typed handler.
type Consumer[T any] struct {
	Group  sarama.ConsumerGroup
	Topics []string
	Handle HandlerFunc[T]
	Logger *slog.Logger
}

func NewConsumer[T any](group sarama.ConsumerGroup, topics []string, h HandlerFunc[T]) *Consumer[T] {
	return &Consumer[T]{
		Group:  group,
		Topics: topics,
		Handle: h,
		Logger: logging.New("kafka"),
	}
}

// Start blocks until ctx is cancelled or the group fails.
func (c *Consumer[T]) Start(ctx context.Context) error {
	handler := &cgHandler[T]{handle: c.Handle, logger: c.Logger}
	for {
		if err := c.Group.Consume(ctx, c.Topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		// Consume returns on rebalance or when ctx is done
		if ctx.Err() != nil {
			return nil
		}
	}
}

type cgHandler[T any] struct {
	handle HandlerFunc[T]
	logger *slog.Logger
}

func (h *cgHandler[T]) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *cgHandler[T]) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *cgHandler[T]) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var ev T
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			h.logger.Warn("kafka decode error", "topic", msg.Topic, "offset", msg.Offset, "err", err)
			// poison message, never retried
			sess.MarkMessage(msg, "decode-error")
			continue
		}
		if err := h.handle(sess.Context(), ev); err != nil {
			h.logger.Error("kafka handler error", "topic", msg.Topic, "key", string(msg.Key), "offset", msg.Offset, "err", err)
			// left unmarked so the group redelivers it after a restart or rebalance
			continue
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
