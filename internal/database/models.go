package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/kds/internal/enum"
)

type Staff struct {
	ID        uuid.UUID `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Role      enum.Role `json:"role"`
	PinHash   string    `json:"-"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type Order struct {
	ID           uuid.UUID          `json:"id"`
	OrderNumber  int64              `json:"order_number"`
	Code         string             `json:"code"`
	TableNumber  pgtype.Text        `json:"table_number"`
	DeliveryType enum.DeliveryType  `json:"delivery_type"`
	WaiterID     uuid.UUID          `json:"waiter_id"`
	TurnID       pgtype.UUID        `json:"turn_id"`
	StartedAt    pgtype.Timestamptz `json:"started_at"`
	PaidAt       pgtype.Timestamptz `json:"paid_at"`
	FinishedAt   pgtype.Timestamptz `json:"finished_at"`
	CreatedAt    time.Time          `json:"created_at"`
}

type OrderItem struct {
	ID             uuid.UUID          `json:"id"`
	OrderID        uuid.UUID          `json:"order_id"`
	Kind           enum.Kind          `json:"kind"`
	Name           string             `json:"name"`
	UnitPrice      pgtype.Numeric     `json:"unit_price"`
	Quantity       int32              `json:"quantity"`
	Note           pgtype.Text        `json:"note"`
	State          enum.ItemState     `json:"state"`
	PreparerID     pgtype.UUID        `json:"preparer_id"`
	LastRejectedBy pgtype.UUID        `json:"last_rejected_by"`
	RejectionCount int32              `json:"rejection_count"`
	CreatedAt      time.Time          `json:"created_at"`
	AssignedAt     pgtype.Timestamptz `json:"assigned_at"`
	PreparingAt    pgtype.Timestamptz `json:"preparing_at"`
	ReadyAt        pgtype.Timestamptz `json:"ready_at"`
}

type PreparerSlot struct {
	PreparerID uuid.UUID `json:"preparer_id"`
	ItemID     uuid.UUID `json:"item_id"`
	ClaimedAt  time.Time `json:"claimed_at"`
}

type ItemRejection struct {
	ID         int64          `json:"id"`
	ItemID     uuid.UUID      `json:"item_id"`
	PreparerID uuid.UUID      `json:"preparer_id"`
	FromState  enum.ItemState `json:"from_state"`
	RejectedAt time.Time      `json:"rejected_at"`
}

type PreparerLoad struct {
	PreparerID uuid.UUID `json:"preparer_id"`
	Open       int64     `json:"open"`
}

// PrepTimeCandidate is one order item joined with its order and preparer,
// as read by the preparation-time reports.
type PrepTimeCandidate struct {
	ItemID          uuid.UUID          `json:"item_id"`
	OrderID         uuid.UUID          `json:"order_id"`
	OrderCode       string             `json:"order_code"`
	TurnID          pgtype.UUID        `json:"turn_id"`
	Kind            enum.Kind          `json:"kind"`
	Name            string             `json:"name"`
	Quantity        int32              `json:"quantity"`
	PreparerID      pgtype.UUID        `json:"preparer_id"`
	PreparerName    string             `json:"preparer_name"`
	CreatedAt       time.Time          `json:"created_at"`
	PreparingAt     pgtype.Timestamptz `json:"preparing_at"`
	ReadyAt         pgtype.Timestamptz `json:"ready_at"`
	OrderStartedAt  pgtype.Timestamptz `json:"order_started_at"`
	OrderPaidAt     pgtype.Timestamptz `json:"order_paid_at"`
	OrderFinishedAt pgtype.Timestamptz `json:"order_finished_at"`
}
