package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kiwari-pos/kds/internal/database"
	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/kiwari-pos/kds/internal/logger"
	"github.com/kiwari-pos/kds/internal/notify"
	"github.com/kiwari-pos/kds/internal/presence"
)

const maxOrderNumberRetries = 3

// Completion describes an item that just reached READY.
type Completion struct {
	ItemID       uuid.UUID
	OrderID      uuid.UUID
	OrderCode    string
	WaiterID     uuid.UUID
	DeliveryType enum.DeliveryType
	Kind         enum.Kind
	ItemName     string
	Quantity     int32
	PreparerID   uuid.UUID
	CompletedAt  time.Time
}

// CompletionSink receives completions after the READY transition has
// committed. Implementations must not block.
type CompletionSink interface {
	ItemCompleted(c Completion)
}

type nopSink struct{}

func (nopSink) ItemCompleted(Completion) {}

type nopPublisher struct{}

func (nopPublisher) Publish(notify.Event) {}

// Service drives order items through the fulfillment state machine.
type Service struct {
	tx       Transactor
	presence presence.Tracker
	sink     CompletionSink
	events   notify.Publisher
	now      func() time.Time
	log      *zap.Logger

	// wake is signalled when a preparer becomes active.
	wake chan struct{}
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithCompletionSink(sink CompletionSink) Option {
	return func(s *Service) { s.sink = sink }
}

func WithPublisher(p notify.Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a new Service.
func NewService(tx Transactor, tracker presence.Tracker, opts ...Option) *Service {
	s := &Service{
		tx:       tx,
		presence: tracker,
		sink:     nopSink{},
		events:   nopPublisher{},
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.L()
	}
	return s
}

// NewItem is one item of an order as received from the ordering subsystem.
type NewItem struct {
	Kind      string
	Name      string
	UnitPrice string
	Quantity  int32
	Note      string
}

// PlaceOrderRequest is the input for creating an order.
type PlaceOrderRequest struct {
	WaiterID     uuid.UUID
	TableNumber  string
	DeliveryType string
	TurnID       string
	Items        []NewItem
}

// OrderDetail is an order with its items.
type OrderDetail struct {
	Order database.Order
	Items []database.OrderItem
}

// PlaceOrder creates the order and its items as PENDING in one transaction,
// then tries to assign every item. Items nobody can take stay PENDING for the
// background assigner.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderDetail, error) {
	deliveryType := enum.DeliveryType(strings.ToUpper(strings.TrimSpace(req.DeliveryType)))
	if deliveryType == "" {
		deliveryType = enum.DeliveryDineIn
	}
	if !deliveryType.Valid() {
		return nil, ErrInvalidDeliveryType
	}
	tableNumber := strings.TrimSpace(req.TableNumber)
	if deliveryType == enum.DeliveryDineIn && tableNumber == "" {
		return nil, ErrTableRequired
	}

	turnID := pgtype.UUID{}
	if req.TurnID != "" {
		id, err := uuid.Parse(req.TurnID)
		if err != nil {
			return nil, ErrInvalidTurnID
		}
		turnID = pgUUID(id)
	}

	items, err := validateItems(req.Items)
	if err != nil {
		return nil, err
	}

	// Retry loop: the order number sequence can collide with imported rows.
	var detail *OrderDetail
	var lastErr error
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		detail, err = s.placeOrderTx(ctx, req.WaiterID, tableNumber, deliveryType, turnID, items)
		if err == nil {
			lastErr = nil
			break
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}

	detail.Items = s.autoAssignAll(ctx, detail.Items)
	return detail, nil
}

func (s *Service) placeOrderTx(
	ctx context.Context,
	waiterID uuid.UUID,
	tableNumber string,
	deliveryType enum.DeliveryType,
	turnID pgtype.UUID,
	items []database.CreateOrderItemParams,
) (*OrderDetail, error) {
	now := s.now()
	detail := &OrderDetail{}

	err := s.tx.WithTx(ctx, func(store Store) error {
		n, err := store.NextOrderNumber(ctx)
		if err != nil {
			return fmt.Errorf("next order number: %w", err)
		}

		order, err := store.CreateOrder(ctx, database.CreateOrderParams{
			OrderNumber:  n,
			Code:         fmt.Sprintf("KDS-%03d", n),
			TableNumber:  textOrNull(tableNumber),
			DeliveryType: deliveryType,
			WaiterID:     waiterID,
			TurnID:       turnID,
			StartedAt:    timestamptz(now),
		})
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		detail.Order = order

		created, err := createItems(ctx, store, order.ID, items, now)
		if err != nil {
			return err
		}
		detail.Items = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// AddItems appends PENDING items to an open order and tries to assign them.
func (s *Service) AddItems(ctx context.Context, orderID uuid.UUID, newItems []NewItem) ([]database.OrderItem, error) {
	items, err := validateItems(newItems)
	if err != nil {
		return nil, err
	}

	var created []database.OrderItem
	err = s.tx.WithTx(ctx, func(store Store) error {
		order, err := store.GetOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("get order: %w", err)
		}
		if order.FinishedAt.Valid {
			return ErrOrderClosed
		}

		created, err = createItems(ctx, store, order.ID, items, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	return s.autoAssignAll(ctx, created), nil
}

func createItems(ctx context.Context, store Store, orderID uuid.UUID, items []database.CreateOrderItemParams, now time.Time) ([]database.OrderItem, error) {
	out := make([]database.OrderItem, 0, len(items))
	for _, params := range items {
		params.OrderID = orderID
		params.CreatedAt = timestamptz(now)
		item, err := store.CreateOrderItem(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("create order item: %w", err)
		}
		out = append(out, item)
	}
	return out, nil
}

func validateItems(in []NewItem) ([]database.CreateOrderItemParams, error) {
	if len(in) == 0 {
		return nil, ErrEmptyItems
	}

	out := make([]database.CreateOrderItemParams, 0, len(in))
	for i, item := range in {
		kind, err := enum.ParseKind(item.Kind)
		if err != nil {
			return nil, fmt.Errorf("item[%d]: %w", i, ErrInvalidKind)
		}
		name := strings.TrimSpace(item.Name)
		if name == "" {
			return nil, fmt.Errorf("item[%d]: %w", i, ErrEmptyName)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("item[%d]: %w", i, ErrInvalidQuantity)
		}

		price := decimal.Zero
		if item.UnitPrice != "" {
			price, err = decimal.NewFromString(item.UnitPrice)
			if err != nil || price.IsNegative() {
				return nil, fmt.Errorf("item[%d]: %w", i, ErrInvalidPrice)
			}
		}

		out = append(out, database.CreateOrderItemParams{
			Kind:      kind,
			Name:      name,
			UnitPrice: decimalToNumeric(price),
			Quantity:  item.Quantity,
			Note:      textOrNull(strings.TrimSpace(item.Note)),
		})
	}
	return out, nil
}

// GetOrder returns an order with all of its items.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*OrderDetail, error) {
	store := s.tx.Store()
	order, err := store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	items, err := store.ListOrderItemsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	return &OrderDetail{Order: order, Items: items}, nil
}

// CloseOrder sets finished_at once every item is READY. Closing a closed
// order returns it unchanged.
func (s *Service) CloseOrder(ctx context.Context, orderID uuid.UUID) (database.Order, error) {
	var out database.Order
	err := s.tx.WithTx(ctx, func(store Store) error {
		order, err := store.GetOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("get order: %w", err)
		}
		if order.FinishedAt.Valid {
			out = order
			return nil
		}

		unready, err := store.CountUnreadyItems(ctx, orderID)
		if err != nil {
			return fmt.Errorf("count unready items: %w", err)
		}
		if unready > 0 {
			return fmt.Errorf("%w: %d item(s) not ready", ErrInvalidTransition, unready)
		}

		items, err := store.ListOrderItemsByOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("list order items: %w", err)
		}
		prev := []pgtype.Timestamptz{order.StartedAt}
		for _, item := range items {
			prev = append(prev, item.ReadyAt)
		}

		closed, err := store.CloseOrder(ctx, database.CloseOrderParams{
			ID:         orderID,
			FinishedAt: timestamptz(milestone(s.now(), prev...)),
		})
		if errors.Is(err, pgx.ErrNoRows) {
			// Closed concurrently.
			closed, err = store.GetOrder(ctx, orderID)
		}
		if err != nil {
			return fmt.Errorf("close order: %w", err)
		}
		out = closed
		return nil
	})
	return out, err
}

// UpdateNote changes an item's note while it is still PENDING or ASSIGNED.
func (s *Service) UpdateNote(ctx context.Context, orderID, itemID uuid.UUID, note string) (database.OrderItem, error) {
	var out database.OrderItem
	var events []notify.Event
	err := s.tx.WithTx(ctx, func(store Store) error {
		item, err := lockItem(ctx, store, itemID)
		if err != nil {
			return err
		}
		if item.OrderID != orderID {
			return ErrItemNotFound
		}
		if !item.State.Editable() {
			return ErrItemLocked
		}

		updated, err := store.UpdateOrderItemNote(ctx, database.UpdateOrderItemNoteParams{
			ID:   itemID,
			Note: textOrNull(strings.TrimSpace(note)),
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrItemLocked
			}
			return fmt.Errorf("update note: %w", err)
		}
		out = updated
		if updated.PreparerID.Valid {
			events = append(events, itemEvent(notify.TypeItemUpdated, updated, updated.PreparerID.Bytes))
		}
		return nil
	})
	if err != nil {
		return database.OrderItem{}, err
	}
	s.publish(events...)
	return out, nil
}

// DeleteItem removes an item while it is still PENDING or ASSIGNED.
func (s *Service) DeleteItem(ctx context.Context, orderID, itemID uuid.UUID) error {
	var events []notify.Event
	err := s.tx.WithTx(ctx, func(store Store) error {
		item, err := lockItem(ctx, store, itemID)
		if err != nil {
			return err
		}
		if item.OrderID != orderID {
			return ErrItemNotFound
		}
		if !item.State.Editable() {
			return ErrItemLocked
		}

		n, err := store.DeleteOrderItem(ctx, itemID)
		if err != nil {
			return fmt.Errorf("delete item: %w", err)
		}
		if n == 0 {
			return ErrItemLocked
		}
		if item.PreparerID.Valid {
			events = append(events, itemEvent(notify.TypeItemUnassigned, item, item.PreparerID.Bytes))
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(events...)
	return nil
}

func lockItem(ctx context.Context, store Store, itemID uuid.UUID) (database.OrderItem, error) {
	item, err := store.LockOrderItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.OrderItem{}, ErrItemNotFound
		}
		return database.OrderItem{}, fmt.Errorf("lock item: %w", err)
	}
	return item, nil
}

func itemEvent(typ string, item database.OrderItem, preparerID uuid.UUID) notify.Event {
	e, err := notify.NewEvent(typ, notify.ItemChanged{
		ItemID:   item.ID,
		OrderID:  item.OrderID,
		Kind:     item.Kind,
		Name:     item.Name,
		Quantity: item.Quantity,
		Note:     item.Note.String,
		State:    item.State,
	})
	if err != nil {
		return notify.Event{Type: typ}
	}
	e.PreparerID = preparerID
	e.Kind = item.Kind
	return e
}

func (s *Service) publish(events ...notify.Event) {
	for _, e := range events {
		s.events.Publish(e)
	}
}
