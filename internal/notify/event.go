package notify

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/enum"
)

// Event types.
const (
	TypeItemReady      = "item.ready"
	TypeItemAssigned   = "item.assigned"
	TypeItemUnassigned = "item.unassigned"
	TypeItemUpdated    = "item.updated"
)

// Event is a state change pushed to connected displays. The routing fields
// are not part of the client payload.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`

	WaiterID   uuid.UUID `json:"-"`
	PreparerID uuid.UUID `json:"-"`
	Kind       enum.Kind `json:"-"`
}

// NewEvent marshals payload into an Event of the given type.
func NewEvent(typ string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, Payload: raw}, nil
}

// ItemReady is the payload delivered to the owning waiter for every completed item.
type ItemReady struct {
	Kind        enum.Kind `json:"kind"`
	OrderID     uuid.UUID `json:"order_id"`
	OrderCode   string    `json:"order_code"`
	ItemName    string    `json:"item_name"`
	CompletedAt time.Time `json:"completed_at"`
}

// ItemChanged is the payload sent to preparer displays when their queue changes.
type ItemChanged struct {
	ItemID   uuid.UUID      `json:"item_id"`
	OrderID  uuid.UUID      `json:"order_id"`
	Kind     enum.Kind      `json:"kind"`
	Name     string         `json:"name"`
	Quantity int32          `json:"quantity"`
	Note     string         `json:"note,omitempty"`
	State    enum.ItemState `json:"state"`
}

// Filter scopes a subscription. Zero fields match everything.
type Filter struct {
	WaiterID   uuid.UUID
	PreparerID uuid.UUID
	Kind       enum.Kind
	Types      []string
}

func (f Filter) Match(e Event) bool {
	if f.WaiterID != uuid.Nil && e.WaiterID != f.WaiterID {
		return false
	}
	if f.PreparerID != uuid.Nil && e.PreparerID != f.PreparerID {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}

// Publisher accepts events for fan-out. Publish never blocks and never fails;
// an event with no matching subscriber is discarded.
type Publisher interface {
	Publish(e Event)
}
