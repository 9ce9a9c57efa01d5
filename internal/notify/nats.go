package notify

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/kiwari-pos/kds/internal/logger"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBridge publishes events locally and to a NATS subject, and replays
// events from other instances into the local hub. Displays connected to any
// instance therefore see every event.
type NATSBridge struct {
	conn    *nats.Conn
	subject string
	local   *Hub
	origin  string
	sub     *nats.Subscription
}

type envelope struct {
	Origin     string          `json:"origin"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	WaiterID   uuid.UUID       `json:"waiter_id"`
	PreparerID uuid.UUID       `json:"preparer_id"`
	Kind       enum.Kind       `json:"kind,omitempty"`
}

func NewNATSBridge(conn *nats.Conn, subject string, local *Hub) *NATSBridge {
	return &NATSBridge{
		conn:    conn,
		subject: subject,
		local:   local,
		origin:  uuid.NewString(),
	}
}

// Start subscribes to the shared subject.
func (b *NATSBridge) Start() error {
	sub, err := b.conn.Subscribe(b.subject, b.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.subject, err)
	}
	b.sub = sub
	return nil
}

func (b *NATSBridge) Publish(e Event) {
	b.local.Publish(e)

	data, err := json.Marshal(envelope{
		Origin:     b.origin,
		Type:       e.Type,
		Payload:    e.Payload,
		WaiterID:   e.WaiterID,
		PreparerID: e.PreparerID,
		Kind:       e.Kind,
	})
	if err != nil {
		logger.L().Warn("encode event for nats", zap.String("type", e.Type), zap.Error(err))
		return
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		logger.L().Warn("publish event to nats", zap.String("type", e.Type), zap.Error(err))
	}
}

func (b *NATSBridge) handle(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		logger.L().Warn("decode event from nats", zap.Error(err))
		return
	}
	if env.Origin == b.origin {
		return
	}
	b.local.Publish(Event{
		Type:       env.Type,
		Payload:    env.Payload,
		WaiterID:   env.WaiterID,
		PreparerID: env.PreparerID,
		Kind:       env.Kind,
	})
}

func (b *NATSBridge) Close() error {
	if b.sub == nil {
		return nil
	}
	return b.sub.Unsubscribe()
}
