package memstore

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/kds/internal/database"
	"github.com/kiwari-pos/kds/internal/enum"
)

// Conn mirrors *database.Queries. A Conn created by WithTx records undo
// entries and keeps its locks until the transaction ends.
type Conn struct {
	db *DB
	tx *txn
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint, Message: "duplicate key value violates unique constraint"}
}

// hold takes a keyed lock for the rest of the transaction, or just waits for
// it to be free when not in a transaction.
func (c *Conn) hold(ctx context.Context, locks *keyedLocks, prefix string, id uuid.UUID) error {
	key := prefix + id.String()
	if c.tx != nil {
		if _, ok := c.tx.held[key]; ok {
			return nil
		}
	}
	unlock, err := locks.lock(ctx, id)
	if err != nil {
		return err
	}
	if c.tx == nil {
		unlock()
		return nil
	}
	c.tx.held[key] = unlock
	return nil
}

// onRollback must be called with db.mu held.
func (c *Conn) onRollback(fn func()) {
	if c.tx != nil {
		c.tx.undo = append(c.tx.undo, fn)
	}
}

// ── Orders ──

func (c *Conn) NextOrderNumber(ctx context.Context) (int64, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.db.orderSeq++
	return c.db.orderSeq, nil
}

func (c *Conn) CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	for _, o := range c.db.orders {
		if o.OrderNumber == arg.OrderNumber {
			return database.Order{}, uniqueViolation("orders_order_number_key")
		}
		if o.Code == arg.Code {
			return database.Order{}, uniqueViolation("orders_code_key")
		}
	}

	o := database.Order{
		ID:           uuid.New(),
		OrderNumber:  arg.OrderNumber,
		Code:         arg.Code,
		TableNumber:  arg.TableNumber,
		DeliveryType: arg.DeliveryType,
		WaiterID:     arg.WaiterID,
		TurnID:       arg.TurnID,
		StartedAt:    arg.StartedAt,
		CreatedAt:    c.db.now(),
	}
	c.db.orders[o.ID] = o
	c.onRollback(func() { delete(c.db.orders, o.ID) })
	return o, nil
}

func (c *Conn) GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error) {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	o, ok := c.db.orders[id]
	if !ok {
		return database.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (c *Conn) CloseOrder(ctx context.Context, arg database.CloseOrderParams) (database.Order, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	o, ok := c.db.orders[arg.ID]
	if !ok || o.FinishedAt.Valid {
		return database.Order{}, pgx.ErrNoRows
	}
	prev := o
	o.FinishedAt = arg.FinishedAt
	c.db.orders[o.ID] = o
	c.onRollback(func() { c.db.orders[prev.ID] = prev })
	return o, nil
}

// ── Items ──

func (c *Conn) CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	if _, ok := c.db.orders[arg.OrderID]; !ok {
		return database.OrderItem{}, &pgconn.PgError{Code: "23503", ConstraintName: "order_items_order_id_fkey"}
	}
	created := c.db.now()
	if arg.CreatedAt.Valid {
		created = arg.CreatedAt.Time
	}
	i := database.OrderItem{
		ID:        uuid.New(),
		OrderID:   arg.OrderID,
		Kind:      arg.Kind,
		Name:      arg.Name,
		UnitPrice: arg.UnitPrice,
		Quantity:  arg.Quantity,
		Note:      arg.Note,
		State:     enum.ItemStatePending,
		CreatedAt: created,
	}
	c.db.items[i.ID] = i
	c.onRollback(func() { delete(c.db.items, i.ID) })
	return i, nil
}

func (c *Conn) GetOrderItem(ctx context.Context, id uuid.UUID) (database.OrderItem, error) {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	i, ok := c.db.items[id]
	if !ok {
		return database.OrderItem{}, pgx.ErrNoRows
	}
	return i, nil
}

func (c *Conn) LockOrderItem(ctx context.Context, id uuid.UUID) (database.OrderItem, error) {
	if err := c.hold(ctx, c.db.itemLocks, "item:", id); err != nil {
		return database.OrderItem{}, err
	}
	return c.GetOrderItem(ctx, id)
}

func (c *Conn) UpdateOrderItemState(ctx context.Context, arg database.UpdateOrderItemStateParams) (database.OrderItem, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	i, ok := c.db.items[arg.ID]
	if !ok || i.State != arg.FromState {
		return database.OrderItem{}, pgx.ErrNoRows
	}
	prev := i
	i.State = arg.ToState
	i.PreparerID = arg.PreparerID
	i.AssignedAt = arg.AssignedAt
	i.PreparingAt = arg.PreparingAt
	i.ReadyAt = arg.ReadyAt
	i.LastRejectedBy = arg.LastRejectedBy
	i.RejectionCount = arg.RejectionCount
	c.db.items[i.ID] = i
	c.onRollback(func() { c.db.items[prev.ID] = prev })
	return i, nil
}

func (c *Conn) UpdateOrderItemNote(ctx context.Context, arg database.UpdateOrderItemNoteParams) (database.OrderItem, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	i, ok := c.db.items[arg.ID]
	if !ok || !i.State.Editable() {
		return database.OrderItem{}, pgx.ErrNoRows
	}
	prev := i
	i.Note = arg.Note
	c.db.items[i.ID] = i
	c.onRollback(func() { c.db.items[prev.ID] = prev })
	return i, nil
}

func (c *Conn) DeleteOrderItem(ctx context.Context, id uuid.UUID) (int64, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	i, ok := c.db.items[id]
	if !ok || !i.State.Editable() {
		return 0, nil
	}
	delete(c.db.items, id)
	c.onRollback(func() { c.db.items[i.ID] = i })
	return 1, nil
}

func (c *Conn) collectItems(match func(database.OrderItem) bool, less func(a, b database.OrderItem) bool) []database.OrderItem {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()

	out := []database.OrderItem{}
	for _, i := range c.db.items {
		if match(i) {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return less(out[a], out[b]) })
	return out
}

func byCreated(a, b database.OrderItem) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func (c *Conn) ListPendingItems(ctx context.Context, limit int32) ([]database.OrderItem, error) {
	out := c.collectItems(func(i database.OrderItem) bool {
		return i.State == enum.ItemStatePending
	}, byCreated)
	if limit > 0 && len(out) > int(limit) {
		out = out[:limit]
	}
	return out, nil
}

func (c *Conn) ListItemsByPreparer(ctx context.Context, preparerID uuid.UUID) ([]database.OrderItem, error) {
	return c.collectItems(func(i database.OrderItem) bool {
		return heldBy(i, preparerID) && (i.State == enum.ItemStateAssigned || i.State == enum.ItemStatePreparing)
	}, func(a, b database.OrderItem) bool {
		if !a.AssignedAt.Time.Equal(b.AssignedAt.Time) {
			return a.AssignedAt.Time.Before(b.AssignedAt.Time)
		}
		return byCreated(a, b)
	}), nil
}

func (c *Conn) ListReadyItemsByPreparer(ctx context.Context, arg database.ListReadyItemsByPreparerParams) ([]database.OrderItem, error) {
	return c.collectItems(func(i database.OrderItem) bool {
		return heldBy(i, arg.PreparerID) && i.State == enum.ItemStateReady && within(i.ReadyAt, arg.From, arg.To)
	}, func(a, b database.OrderItem) bool {
		if !a.ReadyAt.Time.Equal(b.ReadyAt.Time) {
			return a.ReadyAt.Time.After(b.ReadyAt.Time)
		}
		return a.ID.String() < b.ID.String()
	}), nil
}

func (c *Conn) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
	return c.collectItems(func(i database.OrderItem) bool { return i.OrderID == orderID }, byCreated), nil
}

func (c *Conn) CountUnreadyItems(ctx context.Context, orderID uuid.UUID) (int64, error) {
	items := c.collectItems(func(i database.OrderItem) bool {
		return i.OrderID == orderID && i.State != enum.ItemStateReady
	}, byCreated)
	return int64(len(items)), nil
}

func (c *Conn) CountOpenItemsByPreparers(ctx context.Context, preparerIDs []uuid.UUID) ([]database.PreparerLoad, error) {
	want := make(map[uuid.UUID]bool, len(preparerIDs))
	for _, id := range preparerIDs {
		want[id] = true
	}

	c.db.mu.RLock()
	counts := make(map[uuid.UUID]int64)
	for _, i := range c.db.items {
		if !i.PreparerID.Valid || !want[i.PreparerID.Bytes] {
			continue
		}
		if i.State == enum.ItemStateAssigned || i.State == enum.ItemStatePreparing {
			counts[i.PreparerID.Bytes]++
		}
	}
	c.db.mu.RUnlock()

	var loads []database.PreparerLoad
	for id, n := range counts {
		loads = append(loads, database.PreparerLoad{PreparerID: id, Open: n})
	}
	return loads, nil
}

func (c *Conn) InsertItemRejection(ctx context.Context, arg database.InsertItemRejectionParams) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	n := len(c.db.rejections)
	c.db.rejections = append(c.db.rejections, database.ItemRejection{
		ID:         int64(n + 1),
		ItemID:     arg.ItemID,
		PreparerID: arg.PreparerID,
		FromState:  arg.FromState,
		RejectedAt: arg.RejectedAt.Time,
	})
	c.onRollback(func() { c.db.rejections = c.db.rejections[:n] })
	return nil
}

// ── Preparer slots ──

func (c *Conn) ClaimPreparerSlot(ctx context.Context, arg database.ClaimPreparerSlotParams) (bool, error) {
	if err := c.hold(ctx, c.db.slotLocks, "slot:", arg.PreparerID); err != nil {
		return false, err
	}

	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	if _, busy := c.db.slots[arg.PreparerID]; busy {
		return false, nil
	}
	for _, s := range c.db.slots {
		if s.ItemID == arg.ItemID {
			return false, uniqueViolation("preparer_slots_item_id_key")
		}
	}
	c.db.slots[arg.PreparerID] = database.PreparerSlot{
		PreparerID: arg.PreparerID,
		ItemID:     arg.ItemID,
		ClaimedAt:  arg.ClaimedAt.Time,
	}
	c.onRollback(func() { delete(c.db.slots, arg.PreparerID) })
	return true, nil
}

func (c *Conn) ReleasePreparerSlot(ctx context.Context, arg database.ReleasePreparerSlotParams) error {
	if err := c.hold(ctx, c.db.slotLocks, "slot:", arg.PreparerID); err != nil {
		return err
	}

	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	s, ok := c.db.slots[arg.PreparerID]
	if !ok || s.ItemID != arg.ItemID {
		return nil
	}
	delete(c.db.slots, arg.PreparerID)
	c.onRollback(func() { c.db.slots[s.PreparerID] = s })
	return nil
}

func (c *Conn) GetPreparerSlot(ctx context.Context, preparerID uuid.UUID) (database.PreparerSlot, error) {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	s, ok := c.db.slots[preparerID]
	if !ok {
		return database.PreparerSlot{}, pgx.ErrNoRows
	}
	return s, nil
}

// ── Staff ──

func (c *Conn) GetStaff(ctx context.Context, id uuid.UUID) (database.Staff, error) {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	s, ok := c.db.staff[id]
	if !ok {
		return database.Staff{}, pgx.ErrNoRows
	}
	return s, nil
}

func (c *Conn) GetStaffByCode(ctx context.Context, code string) (database.Staff, error) {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	for _, s := range c.db.staff {
		if s.Code == code && s.IsActive {
			return s, nil
		}
	}
	return database.Staff{}, pgx.ErrNoRows
}

func (c *Conn) CreateStaff(ctx context.Context, arg database.CreateStaffParams) (database.Staff, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	for id, s := range c.db.staff {
		if s.Code == arg.Code {
			s.Name, s.Role, s.PinHash = arg.Name, arg.Role, arg.PinHash
			c.db.staff[id] = s
			return s, nil
		}
	}
	s := database.Staff{
		ID:        uuid.New(),
		Code:      arg.Code,
		Name:      arg.Name,
		Role:      arg.Role,
		PinHash:   arg.PinHash,
		IsActive:  true,
		CreatedAt: c.db.now(),
	}
	c.db.staff[s.ID] = s
	return s, nil
}

// ── Reports ──

func (c *Conn) ListPrepTimeCandidates(ctx context.Context, arg database.ListPrepTimeCandidatesParams) ([]database.PrepTimeCandidate, error) {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()

	matched := make(map[uuid.UUID]bool)
	for id, o := range c.db.orders {
		if within(o.FinishedAt, arg.From, arg.To) || within(o.PaidAt, arg.From, arg.To) {
			matched[id] = true
		}
	}
	for _, i := range c.db.items {
		if within(i.ReadyAt, arg.From, arg.To) {
			matched[i.OrderID] = true
		}
	}

	out := []database.PrepTimeCandidate{}
	for _, i := range c.db.items {
		if !matched[i.OrderID] {
			continue
		}
		o := c.db.orders[i.OrderID]
		name := ""
		if i.PreparerID.Valid {
			name = c.db.staff[i.PreparerID.Bytes].Name
		}
		out = append(out, database.PrepTimeCandidate{
			ItemID:          i.ID,
			OrderID:         i.OrderID,
			OrderCode:       o.Code,
			TurnID:          o.TurnID,
			Kind:            i.Kind,
			Name:            i.Name,
			Quantity:        i.Quantity,
			PreparerID:      i.PreparerID,
			PreparerName:    name,
			CreatedAt:       i.CreatedAt,
			PreparingAt:     i.PreparingAt,
			ReadyAt:         i.ReadyAt,
			OrderStartedAt:  o.StartedAt,
			OrderPaidAt:     o.PaidAt,
			OrderFinishedAt: o.FinishedAt,
		})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].OrderID != out[b].OrderID {
			return strings.Compare(out[a].OrderID.String(), out[b].OrderID.String()) < 0
		}
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].ItemID.String() < out[b].ItemID.String()
	})
	return out, nil
}

func heldBy(i database.OrderItem, preparerID uuid.UUID) bool {
	return i.PreparerID.Valid && uuid.UUID(i.PreparerID.Bytes) == preparerID
}

func within(t, from, to pgtype.Timestamptz) bool {
	if !t.Valid {
		return false
	}
	return !t.Time.Before(from.Time) && !t.Time.After(to.Time)
}
