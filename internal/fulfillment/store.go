package fulfillment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiwari-pos/kds/internal/database"
)

// Store defines the DB methods the state machine needs.
// Satisfied by *database.Queries (and its WithTx variant) and by memstore.
type Store interface {
	NextOrderNumber(ctx context.Context) (int64, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	CloseOrder(ctx context.Context, arg database.CloseOrderParams) (database.Order, error)

	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	GetOrderItem(ctx context.Context, id uuid.UUID) (database.OrderItem, error)
	LockOrderItem(ctx context.Context, id uuid.UUID) (database.OrderItem, error)
	UpdateOrderItemState(ctx context.Context, arg database.UpdateOrderItemStateParams) (database.OrderItem, error)
	UpdateOrderItemNote(ctx context.Context, arg database.UpdateOrderItemNoteParams) (database.OrderItem, error)
	DeleteOrderItem(ctx context.Context, id uuid.UUID) (int64, error)
	ListPendingItems(ctx context.Context, limit int32) ([]database.OrderItem, error)
	ListItemsByPreparer(ctx context.Context, preparerID uuid.UUID) ([]database.OrderItem, error)
	ListReadyItemsByPreparer(ctx context.Context, arg database.ListReadyItemsByPreparerParams) ([]database.OrderItem, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	CountUnreadyItems(ctx context.Context, orderID uuid.UUID) (int64, error)
	CountOpenItemsByPreparers(ctx context.Context, preparerIDs []uuid.UUID) ([]database.PreparerLoad, error)
	InsertItemRejection(ctx context.Context, arg database.InsertItemRejectionParams) error

	ClaimPreparerSlot(ctx context.Context, arg database.ClaimPreparerSlotParams) (bool, error)
	ReleasePreparerSlot(ctx context.Context, arg database.ReleasePreparerSlotParams) error
	GetPreparerSlot(ctx context.Context, preparerID uuid.UUID) (database.PreparerSlot, error)

	GetStaff(ctx context.Context, id uuid.UUID) (database.Staff, error)
}

var _ Store = (*database.Queries)(nil)

// Transactor runs fn against a Store bound to one transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	Store() Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Pool is satisfied by *pgxpool.Pool.
type Pool interface {
	database.DBTX
	TxBeginner
}

// NewStore creates a Store from a DBTX (pool or tx).
type NewStore func(db database.DBTX) Store

// PgxTransactor runs transactions on a pgx pool.
type PgxTransactor struct {
	pool     Pool
	newStore NewStore
}

func NewPgxTransactor(pool Pool, newStore NewStore) *PgxTransactor {
	if newStore == nil {
		newStore = func(db database.DBTX) Store { return database.New(db) }
	}
	return &PgxTransactor{pool: pool, newStore: newStore}
}

func (t *PgxTransactor) Store() Store {
	return t.newStore(t.pool)
}

func (t *PgxTransactor) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(t.newStore(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
