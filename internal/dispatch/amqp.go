package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPChannel is the subset of *amqp.Channel the evaluator uses.
type AMQPChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPDeliveryEvaluator hands the eligibility check to the delivery service
// through a durable queue.
type AMQPDeliveryEvaluator struct {
	ch    AMQPChannel
	queue string
	now   func() time.Time
}

type deliveryRequest struct {
	OrderID     uuid.UUID `json:"order_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewAMQPDeliveryEvaluator declares the queue and returns an evaluator
// publishing to it through the default exchange.
func NewAMQPDeliveryEvaluator(ch AMQPChannel, queue string) (*AMQPDeliveryEvaluator, error) {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &AMQPDeliveryEvaluator{ch: ch, queue: queue, now: time.Now}, nil
}

func (e *AMQPDeliveryEvaluator) EvaluateDeliveryEligibility(ctx context.Context, orderID uuid.UUID) error {
	now := e.now().UTC()
	body, err := json.Marshal(deliveryRequest{OrderID: orderID, RequestedAt: now})
	if err != nil {
		return fmt.Errorf("encode delivery request: %w", err)
	}

	err = e.ch.PublishWithContext(ctx, "", e.queue, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		ContentType:  "application/json",
		MessageId:    uuid.NewString(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", e.queue, err)
	}
	return nil
}
