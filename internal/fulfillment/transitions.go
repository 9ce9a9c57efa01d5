package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/kiwari-pos/kds/internal/database"
	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/kiwari-pos/kds/internal/notify"
)

// Start moves an ASSIGNED item to PREPARING. The preparer slot is claimed in
// the same transaction, so two concurrent starts by one preparer cannot both
// succeed.
func (s *Service) Start(ctx context.Context, itemID, preparerID uuid.UUID) (database.OrderItem, error) {
	var out database.OrderItem
	err := s.tx.WithTx(ctx, func(store Store) error {
		item, err := lockItem(ctx, store, itemID)
		if err != nil {
			return err
		}
		if err := checkHolder(item, preparerID); err != nil {
			return err
		}
		next, err := Next(item.State, enum.ActionStart)
		if err != nil {
			return err
		}

		now := s.now()
		claimed, err := store.ClaimPreparerSlot(ctx, database.ClaimPreparerSlotParams{
			PreparerID: preparerID,
			ItemID:     item.ID,
			ClaimedAt:  timestamptz(now),
		})
		if err != nil {
			if isUniqueViolation(err) {
				return ErrPreparerBusy
			}
			return fmt.Errorf("claim preparer slot: %w", err)
		}
		if !claimed {
			return ErrPreparerBusy
		}

		out, err = writeState(ctx, store, database.UpdateOrderItemStateParams{
			ID:             item.ID,
			FromState:      item.State,
			ToState:        next,
			PreparerID:     item.PreparerID,
			AssignedAt:     item.AssignedAt,
			PreparingAt:    timestamptz(milestone(now, timestamptz(item.CreatedAt), item.AssignedAt)),
			LastRejectedBy: item.LastRejectedBy,
			RejectionCount: item.RejectionCount,
		})
		return err
	})
	if err != nil {
		return database.OrderItem{}, err
	}
	return out, nil
}

// RejectResult is the item after a reject and whether it found a new preparer.
type RejectResult struct {
	Item       database.OrderItem
	Reassigned bool
}

// Reject returns an ASSIGNED or PREPARING item to the pool and reassigns it,
// in the same transaction, to another active preparer of the same kind. When
// nobody else is active the item stays PENDING; the reject still succeeds.
func (s *Service) Reject(ctx context.Context, itemID, preparerID uuid.UUID) (RejectResult, error) {
	var out RejectResult
	var events []notify.Event
	err := s.tx.WithTx(ctx, func(store Store) error {
		item, err := lockItem(ctx, store, itemID)
		if err != nil {
			return err
		}
		if err := checkHolder(item, preparerID); err != nil {
			return err
		}
		next, err := Next(item.State, enum.ActionReject)
		if err != nil {
			return err
		}

		if item.State == enum.ItemStatePreparing {
			if err := store.ReleasePreparerSlot(ctx, database.ReleasePreparerSlotParams{
				PreparerID: preparerID,
				ItemID:     item.ID,
			}); err != nil {
				return fmt.Errorf("release preparer slot: %w", err)
			}
		}

		now := s.now()
		if err := store.InsertItemRejection(ctx, database.InsertItemRejectionParams{
			ItemID:     item.ID,
			PreparerID: preparerID,
			FromState:  item.State,
			RejectedAt: timestamptz(now),
		}); err != nil {
			return fmt.Errorf("record rejection: %w", err)
		}

		pending, err := writeState(ctx, store, database.UpdateOrderItemStateParams{
			ID:             item.ID,
			FromState:      item.State,
			ToState:        next,
			LastRejectedBy: pgUUID(preparerID),
			RejectionCount: item.RejectionCount + 1,
		})
		if err != nil {
			return err
		}
		events = append(events, itemEvent(notify.TypeItemUnassigned, item, preparerID))

		reassigned, err := s.assignByPolicy(ctx, store, pending, preparerID, uuid.Nil)
		if errors.Is(err, ErrNoEligiblePreparer) {
			out = RejectResult{Item: pending}
			return nil
		}
		if err != nil {
			return err
		}
		out = RejectResult{Item: reassigned, Reassigned: true}
		events = append(events, itemEvent(notify.TypeItemAssigned, reassigned, holder(reassigned)))
		return nil
	})
	if err != nil {
		return RejectResult{}, err
	}
	s.publish(events...)
	return out, nil
}

// Complete moves a PREPARING item to READY and hands the completion to the
// sink once committed. Completing a READY item is a no-op.
func (s *Service) Complete(ctx context.Context, itemID, preparerID uuid.UUID) (database.OrderItem, error) {
	var out database.OrderItem
	var completion *Completion
	err := s.tx.WithTx(ctx, func(store Store) error {
		item, err := lockItem(ctx, store, itemID)
		if err != nil {
			return err
		}
		if item.State == enum.ItemStateReady {
			out = item
			return nil
		}
		if err := checkHolder(item, preparerID); err != nil {
			return err
		}
		next, err := Next(item.State, enum.ActionComplete)
		if err != nil {
			return err
		}

		if err := store.ReleasePreparerSlot(ctx, database.ReleasePreparerSlotParams{
			PreparerID: preparerID,
			ItemID:     item.ID,
		}); err != nil {
			return fmt.Errorf("release preparer slot: %w", err)
		}

		readyAt := milestone(s.now(), timestamptz(item.CreatedAt), item.AssignedAt, item.PreparingAt)
		ready, err := writeState(ctx, store, database.UpdateOrderItemStateParams{
			ID:             item.ID,
			FromState:      item.State,
			ToState:        next,
			PreparerID:     item.PreparerID,
			AssignedAt:     item.AssignedAt,
			PreparingAt:    item.PreparingAt,
			ReadyAt:        timestamptz(readyAt),
			LastRejectedBy: item.LastRejectedBy,
			RejectionCount: item.RejectionCount,
		})
		if err != nil {
			return err
		}

		order, err := store.GetOrder(ctx, item.OrderID)
		if err != nil {
			return fmt.Errorf("get order: %w", err)
		}

		out = ready
		completion = &Completion{
			ItemID:       ready.ID,
			OrderID:      order.ID,
			OrderCode:    order.Code,
			WaiterID:     order.WaiterID,
			DeliveryType: order.DeliveryType,
			Kind:         ready.Kind,
			ItemName:     ready.Name,
			Quantity:     ready.Quantity,
			PreparerID:   preparerID,
			CompletedAt:  readyAt,
		}
		return nil
	})
	if err != nil {
		return database.OrderItem{}, err
	}
	if completion != nil {
		s.sink.ItemCompleted(*completion)
	}
	return out, nil
}

// Mine is a preparer's current PREPARING item and the ASSIGNED queue behind it.
type Mine struct {
	Current *database.OrderItem  `json:"current"`
	Queue   []database.OrderItem `json:"queue"`
}

// ListMine reads the preparer slot index for the current item and lists the
// queue ordered by assignment time.
func (s *Service) ListMine(ctx context.Context, preparerID uuid.UUID) (*Mine, error) {
	store := s.tx.Store()

	items, err := store.ListItemsByPreparer(ctx, preparerID)
	if err != nil {
		return nil, fmt.Errorf("list preparer items: %w", err)
	}

	current := uuid.Nil
	slot, err := store.GetPreparerSlot(ctx, preparerID)
	switch {
	case err == nil:
		current = slot.ItemID
	case !isNoRows(err):
		return nil, fmt.Errorf("get preparer slot: %w", err)
	}

	mine := &Mine{Queue: []database.OrderItem{}}
	for i := range items {
		item := items[i]
		switch {
		case item.ID == current:
			mine.Current = &item
		case item.State == enum.ItemStateAssigned:
			mine.Queue = append(mine.Queue, item)
		}
	}
	return mine, nil
}

// ListHistory returns the preparer's READY items completed in [from, to], newest first.
func (s *Service) ListHistory(ctx context.Context, preparerID uuid.UUID, r DateRange) ([]database.OrderItem, error) {
	items, err := s.tx.Store().ListReadyItemsByPreparer(ctx, database.ListReadyItemsByPreparerParams{
		PreparerID: preparerID,
		From:       pgtype.Timestamptz{Time: r.From, Valid: true},
		To:         pgtype.Timestamptz{Time: r.To, Valid: true},
	})
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return items, nil
}
