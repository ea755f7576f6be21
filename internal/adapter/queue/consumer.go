package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/aq2208/portfolio-api/internal/logging"
)

// ErrMalformed marks deliveries no retry can fix. They are dropped, not
// requeued.
var ErrMalformed = errors.New("malformed delivery")

// deliverySource is the part of *amqp.Channel the consumer uses.
type deliverySource interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
}

const (
	outcomeAcked    = "acked"
	outcomeRequeued = "requeued"
	outcomeDropped  = "dropped"
)

type route struct {
	queue string
	tag   string
	h     Handler
}

// Consumer feeds the deliveries of one or more queues to their handlers and
// settles each one: success is acked, a first transient failure is requeued,
// and malformed or already redelivered messages are dropped.
type Consumer struct {
	src        deliverySource
	prefetch   int
	timeout    time.Duration
	routes     []route
	deliveries *prometheus.CounterVec
	log        *slog.Logger
}

type ConsumerOption func(*Consumer)

func WithPrefetch(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.prefetch = n
		}
	}
}

func WithHandlerTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.timeout = d }
}

// NewConsumer builds a Consumer over src, usually an *amqp.Channel.
// Defaults: prefetch 50, 10s per delivery.
func NewConsumer(src deliverySource, reg prometheus.Registerer, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		src:      src,
		prefetch: 50,
		timeout:  10 * time.Second,
		deliveries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "amqp_deliveries_total",
			Help: "AMQP deliveries by queue and how they were settled",
		}, []string{"queue", "outcome"}),
		log: logging.New("amqp-consumer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Route sends the deliveries of queue to h. Routes are fixed once Run starts.
func (c *Consumer) Route(queue string, h Handler) {
	c.routes = append(c.routes, route{queue: queue, tag: "portfolio-" + queue, h: h})
}

// Run consumes every routed queue until ctx is done or the broker closes
// the deliveries. On ctx cancellation the consumers are cancelled and the
// deliveries already pushed to this process are still settled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.src.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	var (
		wg      sync.WaitGroup
		started []route
	)
	for _, rt := range c.routes {
		msgs, err := c.src.Consume(rt.queue, rt.tag, false, false, false, false, nil)
		if err != nil {
			c.cancel(started)
			wg.Wait()
			return fmt.Errorf("consume %s: %w", rt.queue, err)
		}
		started = append(started, rt)
		wg.Add(1)
		go func(rt route) {
			defer wg.Done()
			c.drain(ctx, rt, msgs)
		}(rt)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		c.cancel(started)
		<-done
	case <-done:
	}
	return nil
}

func (c *Consumer) cancel(routes []route) {
	for _, rt := range routes {
		if err := c.src.Cancel(rt.tag, false); err != nil {
			c.log.Warn("cancel consumer", "queue", rt.queue, "err", err)
		}
	}
}

func (c *Consumer) drain(ctx context.Context, rt route, msgs <-chan amqp.Delivery) {
	log := c.log.With("queue", rt.queue)
	base := logging.WithCtx(context.WithoutCancel(ctx), log)
	for d := range msgs {
		hctx, cancel := context.WithTimeout(base, c.timeout)
		err := rt.h.Handle(hctx, d)
		cancel()
		c.settle(log, rt.queue, d, err)
	}
	log.Info("consumer stopped")
}

func (c *Consumer) settle(log *slog.Logger, queue string, d amqp.Delivery, err error) {
	outcome := outcomeAcked
	switch {
	case err == nil:
		err = d.Ack(false)
	case errors.Is(err, ErrMalformed) || d.Redelivered:
		outcome = outcomeDropped
		log.Error("dropping delivery", "rk", d.RoutingKey, "redelivered", d.Redelivered, "err", err)
		err = d.Nack(false, false)
	default:
		outcome = outcomeRequeued
		log.Warn("requeueing delivery", "rk", d.RoutingKey, "err", err)
		err = d.Nack(false, true)
	}
	if err != nil {
		log.Warn("settle delivery", "rk", d.RoutingKey, "outcome", outcome, "err", err)
	}
	c.deliveries.WithLabelValues(queue, outcome).Inc()
}
