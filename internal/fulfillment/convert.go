package fulfillment

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// milestone returns now, raised to the latest of the already recorded
// milestones so that timestamps never go backwards.
func milestone(now time.Time, prev ...pgtype.Timestamptz) time.Time {
	out := now
	for _, p := range prev {
		if p.Valid && p.Time.After(out) {
			out = p.Time
		}
	}
	return out
}

// UnitPrice renders a stored price with two decimals.
func UnitPrice(n pgtype.Numeric) string {
	return numericToDecimal(n).StringFixed(2)
}
