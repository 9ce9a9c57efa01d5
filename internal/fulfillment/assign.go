package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/kiwari-pos/kds/internal/database"
	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/kiwari-pos/kds/internal/notify"
)

const pendingBatch = 200

// AssignSummary reports the outcome of one assignment pass.
type AssignSummary struct {
	Assigned int `json:"assigned"`
	Parked   int `json:"parked"`
	Skipped  int `json:"skipped"`
}

// AssignPending runs one pass over PENDING items, oldest first. Items of a
// kind with no active preparer are parked until the next pass.
func (s *Service) AssignPending(ctx context.Context) (AssignSummary, error) {
	var sum AssignSummary

	pending, err := s.tx.Store().ListPendingItems(ctx, pendingBatch)
	if err != nil {
		return sum, fmt.Errorf("list pending items: %w", err)
	}

	exhausted := make(map[enum.Kind]bool)
	for _, item := range pending {
		if exhausted[item.Kind] {
			sum.Parked++
			continue
		}

		_, err := s.autoAssign(ctx, item.ID)
		switch {
		case err == nil:
			sum.Assigned++
		case errors.Is(err, ErrNoEligiblePreparer):
			exhausted[item.Kind] = true
			sum.Parked++
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrItemNotFound):
			// Taken or deleted since the listing.
			sum.Skipped++
		default:
			return sum, err
		}
	}
	return sum, nil
}

// AcceptOrAutoAssign moves a PENDING item to ASSIGNED. With a preparer id
// that preparer claims the item; without one the least-loaded active
// preparer of the item's kind gets it.
func (s *Service) AcceptOrAutoAssign(ctx context.Context, itemID uuid.UUID, preparerID *uuid.UUID) (database.OrderItem, error) {
	if preparerID == nil {
		return s.autoAssign(ctx, itemID)
	}

	p, err := s.preparer(ctx, *preparerID)
	if err != nil {
		return database.OrderItem{}, err
	}
	// Accepting proves the preparer is online.
	if _, err := s.heartbeat(ctx, p); err != nil {
		s.log.Warn("heartbeat on accept", zap.String("preparer_id", p.ID.String()), zap.Error(err))
	}

	var out database.OrderItem
	var events []notify.Event
	err = s.tx.WithTx(ctx, func(store Store) error {
		item, err := lockItem(ctx, store, itemID)
		if err != nil {
			return err
		}
		if item.Kind != p.Kind {
			return ErrKindMismatch
		}
		if item.State == enum.ItemStateAssigned && holder(item) == p.ID {
			out = item
			return nil
		}
		if err := checkHolder(item, p.ID); err != nil {
			return err
		}

		updated, err := s.assignTo(ctx, store, item, p.ID)
		if err != nil {
			return err
		}
		out = updated
		events = append(events, itemEvent(notify.TypeItemAssigned, updated, p.ID))
		return nil
	})
	if err != nil {
		return database.OrderItem{}, err
	}
	s.publish(events...)
	return out, nil
}

// autoAssign assigns one PENDING item by policy in its own transaction.
func (s *Service) autoAssign(ctx context.Context, itemID uuid.UUID) (database.OrderItem, error) {
	var out database.OrderItem
	var events []notify.Event
	err := s.tx.WithTx(ctx, func(store Store) error {
		item, err := lockItem(ctx, store, itemID)
		if err != nil {
			return err
		}
		if _, err := Next(item.State, enum.ActionAssign); err != nil {
			return err
		}

		avoid := uuid.Nil
		if item.LastRejectedBy.Valid {
			avoid = item.LastRejectedBy.Bytes
		}
		updated, err := s.assignByPolicy(ctx, store, item, uuid.Nil, avoid)
		if err != nil {
			return err
		}
		out = updated
		events = append(events, itemEvent(notify.TypeItemAssigned, updated, holder(updated)))
		return nil
	})
	if err != nil {
		return database.OrderItem{}, err
	}
	s.publish(events...)
	return out, nil
}

// autoAssignAll is used right after intake. Failures leave items PENDING.
func (s *Service) autoAssignAll(ctx context.Context, items []database.OrderItem) []database.OrderItem {
	for i, item := range items {
		updated, err := s.autoAssign(ctx, item.ID)
		switch {
		case err == nil:
			items[i] = updated
		case errors.Is(err, ErrNoEligiblePreparer):
			s.log.Debug("item left pending",
				zap.String("item_id", item.ID.String()),
				zap.String("kind", string(item.Kind)),
			)
		case errors.Is(err, ErrInvalidTransition):
			if fresh, err := s.tx.Store().GetOrderItem(ctx, item.ID); err == nil {
				items[i] = fresh
			}
		default:
			s.log.Warn("auto-assign after intake", zap.String("item_id", item.ID.String()), zap.Error(err))
		}
	}
	return items
}

// assignByPolicy picks the least-loaded active preparer of the item's kind.
// exclude is never chosen; avoid is only chosen when nobody else is eligible.
func (s *Service) assignByPolicy(ctx context.Context, store Store, item database.OrderItem, exclude, avoid uuid.UUID) (database.OrderItem, error) {
	active, err := s.presence.ListActive(ctx, item.Kind)
	if err != nil {
		return database.OrderItem{}, fmt.Errorf("list active preparers: %w", err)
	}

	candidates := without(active, exclude)
	if len(candidates) == 0 {
		return database.OrderItem{}, ErrNoEligiblePreparer
	}
	if avoid != uuid.Nil {
		if others := without(candidates, avoid); len(others) > 0 {
			candidates = others
		}
	}

	loads, err := store.CountOpenItemsByPreparers(ctx, candidates)
	if err != nil {
		return database.OrderItem{}, fmt.Errorf("count preparer load: %w", err)
	}
	return s.assignTo(ctx, store, item, leastLoaded(candidates, loads))
}

func (s *Service) assignTo(ctx context.Context, store Store, item database.OrderItem, preparerID uuid.UUID) (database.OrderItem, error) {
	next, err := Next(item.State, enum.ActionAssign)
	if err != nil {
		return database.OrderItem{}, err
	}
	at := milestone(s.now(), timestamptz(item.CreatedAt))
	return writeState(ctx, store, database.UpdateOrderItemStateParams{
		ID:             item.ID,
		FromState:      item.State,
		ToState:        next,
		PreparerID:     pgUUID(preparerID),
		AssignedAt:     timestamptz(at),
		LastRejectedBy: item.LastRejectedBy,
		RejectionCount: item.RejectionCount,
	})
}

// writeState applies a conditional state update. A concurrent change
// surfaces as ErrInvalidTransition.
func writeState(ctx context.Context, store Store, arg database.UpdateOrderItemStateParams) (database.OrderItem, error) {
	item, err := store.UpdateOrderItemState(ctx, arg)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.OrderItem{}, fmt.Errorf("%w: item %s is no longer %s", ErrInvalidTransition, arg.ID, arg.FromState)
		}
		return database.OrderItem{}, fmt.Errorf("update item state: %w", err)
	}
	return item, nil
}

func leastLoaded(candidates []uuid.UUID, loads []database.PreparerLoad) uuid.UUID {
	open := make(map[uuid.UUID]int64, len(loads))
	for _, l := range loads {
		open[l.PreparerID] = l.Open
	}

	sorted := append([]uuid.UUID(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	best := sorted[0]
	for _, id := range sorted[1:] {
		if open[id] < open[best] {
			best = id
		}
	}
	return best
}

func without(ids []uuid.UUID, drop uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

// holder returns the preparer currently holding the item, or uuid.Nil.
func holder(item database.OrderItem) uuid.UUID {
	if !item.PreparerID.Valid {
		return uuid.Nil
	}
	return item.PreparerID.Bytes
}

func checkHolder(item database.OrderItem, preparerID uuid.UUID) error {
	if h := holder(item); h != uuid.Nil && h != preparerID {
		return ErrNotAssignee
	}
	return nil
}
