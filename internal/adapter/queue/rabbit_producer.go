package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/aq2208/portfolio-api/internal/usecase"
)

const (
	ExchangeName        = "order.events"
	KeyOrderCreated     = "order.created"
	KeyOrderStatus      = "order.status_changed"
	AuditQueueName      = "order.events.audit"
	auditBindingPattern = "order.*"
)

// amqpPublisher is the part of *amqp.Channel the producer publishes through.
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitProducer implements usecase.EventPublisher
type RabbitProducer struct {
	ch amqpPublisher
}

// NewRabbitProducer sets up the exchange, the audit queue and its binding
// once at startup.
func NewRabbitProducer(ch *amqp.Channel) (*RabbitProducer, error) {
	// 1. declare exchange (topic type, durable)
	if err := ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	// 2. declare queue
	q, err := ch.QueueDeclare(
		AuditQueueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	// 3. bind queue → exchange for every order event
	if err := ch.QueueBind(q.Name, auditBindingPattern, ExchangeName, false, nil); err != nil {
		return nil, fmt.Errorf("queue bind: %w", err)
	}

	return &RabbitProducer{ch: ch}, nil
}

func (p *RabbitProducer) PublishOrderCreated(ctx context.Context, msg usecase.OrderCreatedMsg) error {
	return p.publish(ctx, KeyOrderCreated, msg.OrderID, msg)
}

func (p *RabbitProducer) PublishOrderStatusChanged(ctx context.Context, msg usecase.OrderStatusChangedMsg) error {
	return p.publish(ctx, KeyOrderStatus, msg.OrderID, msg)
}

func (p *RabbitProducer) publish(ctx context.Context, key, messageID string, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // survive broker restarts
		MessageId:    messageID,
		Type:         key,
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, ExchangeName, key, false, false, pub); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

var _ usecase.EventPublisher = (*RabbitProducer)(nil)
