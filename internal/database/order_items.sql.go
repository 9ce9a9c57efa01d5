package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/kds/internal/enum"
)

const orderItemColumns = `id, order_id, kind, name, unit_price, quantity, note, state, preparer_id,
	last_rejected_by, rejection_count, created_at, assigned_at, preparing_at, ready_at`

func scanOrderItem(row interface{ Scan(dest ...any) error }) (OrderItem, error) {
	var i OrderItem
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.Kind,
		&i.Name,
		&i.UnitPrice,
		&i.Quantity,
		&i.Note,
		&i.State,
		&i.PreparerID,
		&i.LastRejectedBy,
		&i.RejectionCount,
		&i.CreatedAt,
		&i.AssignedAt,
		&i.PreparingAt,
		&i.ReadyAt,
	)
	return i, err
}

func (q *Queries) queryOrderItems(ctx context.Context, sql string, args ...interface{}) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []OrderItem{}
	for rows.Next() {
		i, err := scanOrderItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createOrderItem = `-- name: CreateOrderItem :one
INSERT INTO order_items (order_id, kind, name, unit_price, quantity, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + orderItemColumns

type CreateOrderItemParams struct {
	OrderID   uuid.UUID
	Kind      enum.Kind
	Name      string
	UnitPrice pgtype.Numeric
	Quantity  int32
	Note      pgtype.Text
	CreatedAt pgtype.Timestamptz
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, createOrderItem,
		arg.OrderID,
		arg.Kind,
		arg.Name,
		arg.UnitPrice,
		arg.Quantity,
		arg.Note,
		arg.CreatedAt,
	)
	return scanOrderItem(row)
}

const getOrderItem = `-- name: GetOrderItem :one
SELECT ` + orderItemColumns + `
FROM order_items
WHERE id = $1
`

func (q *Queries) GetOrderItem(ctx context.Context, id uuid.UUID) (OrderItem, error) {
	return scanOrderItem(q.db.QueryRow(ctx, getOrderItem, id))
}

const lockOrderItem = `-- name: LockOrderItem :one
SELECT ` + orderItemColumns + `
FROM order_items
WHERE id = $1
FOR UPDATE
`

// LockOrderItem reads an item and holds its row lock until the surrounding
// transaction ends. Outside a transaction the lock is released immediately.
func (q *Queries) LockOrderItem(ctx context.Context, id uuid.UUID) (OrderItem, error) {
	return scanOrderItem(q.db.QueryRow(ctx, lockOrderItem, id))
}

const updateOrderItemState = `-- name: UpdateOrderItemState :one
UPDATE order_items
SET state = $3,
    preparer_id = $4,
    assigned_at = $5,
    preparing_at = $6,
    ready_at = $7,
    last_rejected_by = $8,
    rejection_count = $9
WHERE id = $1 AND state = $2
RETURNING ` + orderItemColumns

type UpdateOrderItemStateParams struct {
	ID             uuid.UUID
	FromState      enum.ItemState
	ToState        enum.ItemState
	PreparerID     pgtype.UUID
	AssignedAt     pgtype.Timestamptz
	PreparingAt    pgtype.Timestamptz
	ReadyAt        pgtype.Timestamptz
	LastRejectedBy pgtype.UUID
	RejectionCount int32
}

// UpdateOrderItemState writes the state and milestone columns only if the
// item is still in FromState; otherwise it returns pgx.ErrNoRows.
func (q *Queries) UpdateOrderItemState(ctx context.Context, arg UpdateOrderItemStateParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, updateOrderItemState,
		arg.ID,
		arg.FromState,
		arg.ToState,
		arg.PreparerID,
		arg.AssignedAt,
		arg.PreparingAt,
		arg.ReadyAt,
		arg.LastRejectedBy,
		arg.RejectionCount,
	)
	return scanOrderItem(row)
}

const updateOrderItemNote = `-- name: UpdateOrderItemNote :one
UPDATE order_items
SET note = $2
WHERE id = $1 AND state IN ('PENDING', 'ASSIGNED')
RETURNING ` + orderItemColumns

type UpdateOrderItemNoteParams struct {
	ID   uuid.UUID
	Note pgtype.Text
}

func (q *Queries) UpdateOrderItemNote(ctx context.Context, arg UpdateOrderItemNoteParams) (OrderItem, error) {
	return scanOrderItem(q.db.QueryRow(ctx, updateOrderItemNote, arg.ID, arg.Note))
}

const deleteOrderItem = `-- name: DeleteOrderItem :execrows
DELETE FROM order_items
WHERE id = $1 AND state IN ('PENDING', 'ASSIGNED')
`

func (q *Queries) DeleteOrderItem(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, deleteOrderItem, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listPendingItems = `-- name: ListPendingItems :many
SELECT ` + orderItemColumns + `
FROM order_items
WHERE state = 'PENDING'
ORDER BY created_at, id
LIMIT $1
`

func (q *Queries) ListPendingItems(ctx context.Context, limit int32) ([]OrderItem, error) {
	return q.queryOrderItems(ctx, listPendingItems, limit)
}

const listItemsByPreparer = `-- name: ListItemsByPreparer :many
SELECT ` + orderItemColumns + `
FROM order_items
WHERE preparer_id = $1 AND state IN ('ASSIGNED', 'PREPARING')
ORDER BY assigned_at, created_at, id
`

func (q *Queries) ListItemsByPreparer(ctx context.Context, preparerID uuid.UUID) ([]OrderItem, error) {
	return q.queryOrderItems(ctx, listItemsByPreparer, preparerID)
}

const listReadyItemsByPreparer = `-- name: ListReadyItemsByPreparer :many
SELECT ` + orderItemColumns + `
FROM order_items
WHERE preparer_id = $1 AND state = 'READY' AND ready_at >= $2 AND ready_at <= $3
ORDER BY ready_at DESC, id
`

type ListReadyItemsByPreparerParams struct {
	PreparerID uuid.UUID
	From       pgtype.Timestamptz
	To         pgtype.Timestamptz
}

func (q *Queries) ListReadyItemsByPreparer(ctx context.Context, arg ListReadyItemsByPreparerParams) ([]OrderItem, error) {
	return q.queryOrderItems(ctx, listReadyItemsByPreparer, arg.PreparerID, arg.From, arg.To)
}

const listOrderItemsByOrder = `-- name: ListOrderItemsByOrder :many
SELECT ` + orderItemColumns + `
FROM order_items
WHERE order_id = $1
ORDER BY created_at, id
`

func (q *Queries) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	return q.queryOrderItems(ctx, listOrderItemsByOrder, orderID)
}

const countUnreadyItems = `-- name: CountUnreadyItems :one
SELECT count(*) FROM order_items
WHERE order_id = $1 AND state <> 'READY'
`

func (q *Queries) CountUnreadyItems(ctx context.Context, orderID uuid.UUID) (int64, error) {
	row := q.db.QueryRow(ctx, countUnreadyItems, orderID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const countOpenItemsByPreparers = `-- name: CountOpenItemsByPreparers :many
SELECT preparer_id, count(*)::bigint AS open
FROM order_items
WHERE preparer_id = ANY($1::uuid[]) AND state IN ('ASSIGNED', 'PREPARING')
GROUP BY preparer_id
`

// CountOpenItemsByPreparers omits preparers with no open items.
func (q *Queries) CountOpenItemsByPreparers(ctx context.Context, preparerIDs []uuid.UUID) ([]PreparerLoad, error) {
	rows, err := q.db.Query(ctx, countOpenItemsByPreparers, preparerIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var loads []PreparerLoad
	for rows.Next() {
		var l PreparerLoad
		if err := rows.Scan(&l.PreparerID, &l.Open); err != nil {
			return nil, err
		}
		loads = append(loads, l)
	}
	return loads, rows.Err()
}

const insertItemRejection = `-- name: InsertItemRejection :exec
INSERT INTO item_rejections (item_id, preparer_id, from_state, rejected_at)
VALUES ($1, $2, $3, $4)
`

type InsertItemRejectionParams struct {
	ItemID     uuid.UUID
	PreparerID uuid.UUID
	FromState  enum.ItemState
	RejectedAt pgtype.Timestamptz
}

func (q *Queries) InsertItemRejection(ctx context.Context, arg InsertItemRejectionParams) error {
	_, err := q.db.Exec(ctx, insertItemRejection, arg.ItemID, arg.PreparerID, arg.FromState, arg.RejectedAt)
	return err
}
