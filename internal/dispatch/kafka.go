package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/kiwari-pos/kds/internal/fulfillment"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaCompletionLog appends one message per completed item, keyed by order
// id so an order's completions stay in one partition.
type KafkaCompletionLog struct {
	w MessageWriter
}

func NewKafkaCompletionLog(w MessageWriter) *KafkaCompletionLog {
	return &KafkaCompletionLog{w: w}
}

// NewKafkaWriter builds the writer used in production.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
}

type completionRecord struct {
	ItemID       uuid.UUID         `json:"item_id"`
	OrderID      uuid.UUID         `json:"order_id"`
	OrderCode    string            `json:"order_code"`
	WaiterID     uuid.UUID         `json:"waiter_id"`
	DeliveryType enum.DeliveryType `json:"delivery_type"`
	Kind         enum.Kind         `json:"kind"`
	ItemName     string            `json:"item_name"`
	Quantity     int32             `json:"quantity"`
	PreparerID   uuid.UUID         `json:"preparer_id"`
	CompletedAt  time.Time         `json:"completed_at"`
}

func (l *KafkaCompletionLog) Append(ctx context.Context, c fulfillment.Completion) error {
	payload, err := json.Marshal(completionRecord(c))
	if err != nil {
		return fmt.Errorf("encode completion: %w", err)
	}
	return l.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(c.OrderID.String()),
		Value: payload,
	})
}
