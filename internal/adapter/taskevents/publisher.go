package taskevents

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	kgo "github.com/segmentio/kafka-go"

	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/tasks"
)

// Writer is the part of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

func NewWriter(brokers []string, topic string) *kgo.Writer {
	return &kgo.Writer{
		Addr:         kgo.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kgo.Hash{}, // keyed by task id
		RequiredAcks: kgo.RequireOne,
	}
}

// TaskEvent is published once per task, when it reaches a terminal status.
type TaskEvent struct {
	TaskID      string     `json:"taskId"`
	OwnerID     string     `json:"ownerId"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Publisher is a registry observer. TaskChanged only enqueues; Run writes
// to Kafka. Events are dropped when the buffer is full.
type Publisher struct {
	w       Writer
	events  chan TaskEvent
	timeout time.Duration
	log     *slog.Logger
	dropped atomic.Int64
}

func NewPublisher(w Writer, buffer int, log *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher{
		w:       w,
		events:  make(chan TaskEvent, buffer),
		timeout: 3 * time.Second,
		log:     log,
	}
}

func (p *Publisher) TaskChanged(t domain.Task) {
	if !t.Status.IsTerminal() {
		return
	}
	ev := TaskEvent{
		TaskID:      t.ID,
		OwnerID:     t.OwnerID,
		Name:        t.Name,
		Status:      string(t.Status),
		Progress:    t.Progress,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
	}
	select {
	case p.events <- ev:
	default:
		p.dropped.Add(1)
	}
}

// Dropped is the number of events lost to a full buffer.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Run publishes queued events until ctx is done, then flushes what is left
// with a fresh deadline and closes the writer.
func (p *Publisher) Run(ctx context.Context) error {
	defer p.w.Close()
	for {
		select {
		case ev := <-p.events:
			p.publish(ctx, ev)
		case <-ctx.Done():
			p.drain()
			return nil
		}
	}
}

func (p *Publisher) drain() {
	for {
		select {
		case ev := <-p.events:
			p.publish(context.Background(), ev)
		default:
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev TaskEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("encode task event", "task_id", ev.TaskID, "err", err)
		return
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	err = p.w.WriteMessages(cctx, kgo.Message{
		Key:   []byte(ev.TaskID),
		Value: b,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		p.log.Warn("publish task event failed", "task_id", ev.TaskID, "status", ev.Status, "err", err)
		return
	}
	p.log.Debug("task event published", "task_id", ev.TaskID, "status", ev.Status)
}

var _ tasks.Observer = (*Publisher)(nil)
