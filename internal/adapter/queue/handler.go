package queue

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/aq2208/portfolio-api/internal/logging"
)

// Handler processes a single delivery. It should be idempotent: a failed
// delivery is redelivered once. See Consumer for how errors are settled.
type Handler interface {
	Handle(ctx context.Context, d amqp.Delivery) error
}

type HandlerFunc func(ctx context.Context, d amqp.Delivery) error

func (f HandlerFunc) Handle(ctx context.Context, d amqp.Delivery) error { return f(ctx, d) }

// KeyMux dispatches deliveries by routing key. Deliveries with no route are
// acknowledged and dropped.
type KeyMux map[string]Handler

func (m KeyMux) Handle(ctx context.Context, d amqp.Delivery) error {
	h, ok := m[d.RoutingKey]
	if !ok {
		logging.FromCtx(ctx).Warn("no handler for routing key, dropping", "rk", d.RoutingKey)
		return nil
	}
	return h.Handle(ctx, d)
}
