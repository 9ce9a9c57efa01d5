package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/kds/internal/enum"
)

const orderColumns = `id, order_number, code, table_number, delivery_type, waiter_id, turn_id,
	started_at, paid_at, finished_at, created_at`

func scanOrder(row interface{ Scan(dest ...any) error }) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID,
		&i.OrderNumber,
		&i.Code,
		&i.TableNumber,
		&i.DeliveryType,
		&i.WaiterID,
		&i.TurnID,
		&i.StartedAt,
		&i.PaidAt,
		&i.FinishedAt,
		&i.CreatedAt,
	)
	return i, err
}

const nextOrderNumber = `-- name: NextOrderNumber :one
SELECT nextval('order_number_seq')::bigint
`

func (q *Queries) NextOrderNumber(ctx context.Context) (int64, error) {
	row := q.db.QueryRow(ctx, nextOrderNumber)
	var n int64
	err := row.Scan(&n)
	return n, err
}

const createOrder = `-- name: CreateOrder :one
INSERT INTO orders (order_number, code, table_number, delivery_type, waiter_id, turn_id, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + orderColumns

type CreateOrderParams struct {
	OrderNumber  int64
	Code         string
	TableNumber  pgtype.Text
	DeliveryType enum.DeliveryType
	WaiterID     uuid.UUID
	TurnID       pgtype.UUID
	StartedAt    pgtype.Timestamptz
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, createOrder,
		arg.OrderNumber,
		arg.Code,
		arg.TableNumber,
		arg.DeliveryType,
		arg.WaiterID,
		arg.TurnID,
		arg.StartedAt,
	)
	return scanOrder(row)
}

const getOrder = `-- name: GetOrder :one
SELECT ` + orderColumns + `
FROM orders
WHERE id = $1
`

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, id))
}

const closeOrder = `-- name: CloseOrder :one
UPDATE orders
SET finished_at = $2
WHERE id = $1 AND finished_at IS NULL
RETURNING ` + orderColumns

type CloseOrderParams struct {
	ID         uuid.UUID
	FinishedAt pgtype.Timestamptz
}

// CloseOrder returns pgx.ErrNoRows when the order is missing or already closed.
func (q *Queries) CloseOrder(ctx context.Context, arg CloseOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, closeOrder, arg.ID, arg.FinishedAt))
}
