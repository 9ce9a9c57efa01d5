package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const listPrepTimeCandidates = `-- name: ListPrepTimeCandidates :many
WITH candidate_orders AS (
    SELECT DISTINCT o.id
    FROM orders o
    LEFT JOIN order_items oi ON oi.order_id = o.id
    WHERE o.finished_at BETWEEN $1 AND $2
       OR o.paid_at BETWEEN $1 AND $2
       OR oi.ready_at BETWEEN $1 AND $2
)
SELECT oi.id, oi.order_id, o.code, o.turn_id, oi.kind, oi.name, oi.quantity,
       oi.preparer_id, COALESCE(s.name, '') AS preparer_name,
       oi.created_at, oi.preparing_at, oi.ready_at,
       o.started_at, o.paid_at, o.finished_at
FROM order_items oi
JOIN candidate_orders c ON c.id = oi.order_id
JOIN orders o ON o.id = oi.order_id
LEFT JOIN staff s ON s.id = oi.preparer_id
ORDER BY oi.order_id, oi.created_at, oi.id
`

type ListPrepTimeCandidatesParams struct {
	From pgtype.Timestamptz
	To   pgtype.Timestamptz
}

// ListPrepTimeCandidates returns every item of every order that has any
// completion-related timestamp inside [From, To]. Items of a matching order
// are returned even when their own timestamps fall outside the window.
func (q *Queries) ListPrepTimeCandidates(ctx context.Context, arg ListPrepTimeCandidatesParams) ([]PrepTimeCandidate, error) {
	rows, err := q.db.Query(ctx, listPrepTimeCandidates, arg.From, arg.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []PrepTimeCandidate{}
	for rows.Next() {
		var i PrepTimeCandidate
		if err := rows.Scan(
			&i.ItemID,
			&i.OrderID,
			&i.OrderCode,
			&i.TurnID,
			&i.Kind,
			&i.Name,
			&i.Quantity,
			&i.PreparerID,
			&i.PreparerName,
			&i.CreatedAt,
			&i.PreparingAt,
			&i.ReadyAt,
			&i.OrderStartedAt,
			&i.OrderPaidAt,
			&i.OrderFinishedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
