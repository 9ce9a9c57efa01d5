package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kiwari-pos/kds/internal/presence"
)

// DateRange is an inclusive time range.
type DateRange struct {
	From time.Time
	To   time.Time
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// Heartbeat records that the preparer is online. A preparer coming back
// online wakes the background assigner.
func (s *Service) Heartbeat(ctx context.Context, preparerID uuid.UUID) (bool, error) {
	p, err := s.preparer(ctx, preparerID)
	if err != nil {
		return false, err
	}
	return s.heartbeat(ctx, p)
}

func (s *Service) heartbeat(ctx context.Context, p presence.Preparer) (bool, error) {
	became, err := s.presence.Heartbeat(ctx, p)
	if err != nil {
		return false, fmt.Errorf("heartbeat: %w", err)
	}
	if became {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return became, nil
}

// preparer resolves a staff id to a cook or bartender.
func (s *Service) preparer(ctx context.Context, id uuid.UUID) (presence.Preparer, error) {
	staff, err := s.tx.Store().GetStaff(ctx, id)
	if err != nil {
		if isNoRows(err) {
			return presence.Preparer{}, ErrPreparerNotFound
		}
		return presence.Preparer{}, fmt.Errorf("get staff: %w", err)
	}
	if !staff.IsActive {
		return presence.Preparer{}, ErrPreparerNotFound
	}
	kind, ok := staff.Role.PreparerKind()
	if !ok {
		return presence.Preparer{}, ErrNotPreparer
	}
	return presence.Preparer{ID: staff.ID, Kind: kind}, nil
}
