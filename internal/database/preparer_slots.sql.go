package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const claimPreparerSlot = `-- name: ClaimPreparerSlot :one
INSERT INTO preparer_slots (preparer_id, item_id, claimed_at)
VALUES ($1, $2, $3)
ON CONFLICT (preparer_id) DO NOTHING
RETURNING preparer_id
`

type ClaimPreparerSlotParams struct {
	PreparerID uuid.UUID
	ItemID     uuid.UUID
	ClaimedAt  pgtype.Timestamptz
}

// ClaimPreparerSlot records ItemID as the preparer's single PREPARING item.
// It reports false when the preparer already holds a slot. A concurrent claim
// for the same preparer blocks on the primary key until the other
// transaction ends.
func (q *Queries) ClaimPreparerSlot(ctx context.Context, arg ClaimPreparerSlotParams) (bool, error) {
	var id uuid.UUID
	err := q.db.QueryRow(ctx, claimPreparerSlot, arg.PreparerID, arg.ItemID, arg.ClaimedAt).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

const releasePreparerSlot = `-- name: ReleasePreparerSlot :exec
DELETE FROM preparer_slots
WHERE preparer_id = $1 AND item_id = $2
`

type ReleasePreparerSlotParams struct {
	PreparerID uuid.UUID
	ItemID     uuid.UUID
}

func (q *Queries) ReleasePreparerSlot(ctx context.Context, arg ReleasePreparerSlotParams) error {
	_, err := q.db.Exec(ctx, releasePreparerSlot, arg.PreparerID, arg.ItemID)
	return err
}

const getPreparerSlot = `-- name: GetPreparerSlot :one
SELECT preparer_id, item_id, claimed_at
FROM preparer_slots
WHERE preparer_id = $1
`

func (q *Queries) GetPreparerSlot(ctx context.Context, preparerID uuid.UUID) (PreparerSlot, error) {
	var s PreparerSlot
	err := q.db.QueryRow(ctx, getPreparerSlot, preparerID).Scan(&s.PreparerID, &s.ItemID, &s.ClaimedAt)
	return s, err
}
