// Package metrics computes preparation-time reports over completed items and
// orders. Records are selected by when they finished, not when they started.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/kiwari-pos/kds/internal/database"
	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/kiwari-pos/kds/internal/logger"
)

// fetchPadding widens the store query so records whose fallback completion
// timestamp differs from the one the store filtered on are still seen.
const fetchPadding = 24 * time.Hour

// DefaultLegacyStartOffset is subtracted from paid_at for orders that have
// no started_at.
const DefaultLegacyStartOffset = time.Minute

var (
	ErrInvalidRange       = errors.New("start of range must not be after its end")
	ErrInvalidGranularity = errors.New("invalid granularity")
)

// Source is satisfied by *database.Queries and the in-memory store.
type Source interface {
	ListPrepTimeCandidates(ctx context.Context, arg database.ListPrepTimeCandidatesParams) ([]database.PrepTimeCandidate, error)
}

// Range is an inclusive time range.
type Range struct {
	From time.Time
	To   time.Time
}

func (r Range) contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

type Query struct {
	Range       Range
	Kind        enum.Kind // empty means both kinds
	Staff       string    // case-insensitive substring of the preparer name
	Item        string
	ItemMatch   enum.ItemMatch
	TurnID      uuid.UUID
	Granularity enum.Granularity
}

type Summary struct {
	Count    int      `json:"count"`
	Measured int      `json:"measured"`
	Average  Duration `json:"average"`
	Max      Duration `json:"max"`
}

type OrderRow struct {
	OrderID     uuid.UUID  `json:"order_id"`
	OrderCode   string     `json:"order_code"`
	Items       int        `json:"items"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	Duration    Duration   `json:"duration"`
}

// GroupRow is one row of the item-type and staff reports. Name is the item
// name or the preparer name.
type GroupRow struct {
	Kind         enum.Kind  `json:"kind"`
	Name         string     `json:"name"`
	PreparerID   *uuid.UUID `json:"preparer_id,omitempty"`
	Quantity     int        `json:"quantity"`
	Orders       int        `json:"orders"`
	OrderAverage Duration   `json:"order_average"`
	ItemAverage  Duration   `json:"item_average"`
	ItemMax      Duration   `json:"item_max"`
}

// InstanceRow is one physical unit. A quantity-q item yields q rows.
type InstanceRow struct {
	ItemID       uuid.UUID  `json:"item_id"`
	Unit         int        `json:"unit"`
	OrderID      uuid.UUID  `json:"order_id"`
	OrderCode    string     `json:"order_code"`
	Kind         enum.Kind  `json:"kind"`
	Name         string     `json:"name"`
	PreparerName string     `json:"preparer_name,omitempty"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	Duration     Duration   `json:"duration"`
}

type Report struct {
	Granularity enum.Granularity `json:"granularity"`
	From        time.Time        `json:"from"`
	To          time.Time        `json:"to"`
	Summary     Summary          `json:"summary"`
	Orders      []OrderRow       `json:"orders,omitempty"`
	Groups      []GroupRow       `json:"groups,omitempty"`
	Items       []InstanceRow    `json:"items,omitempty"`
}

type Engine struct {
	src          Source
	legacyOffset time.Duration
}

func NewEngine(src Source, legacyOffset time.Duration) *Engine {
	if legacyOffset <= 0 {
		legacyOffset = DefaultLegacyStartOffset
	}
	return &Engine{src: src, legacyOffset: legacyOffset}
}

// Compute builds the report for q. An empty result is a zeroed report.
func (e *Engine) Compute(ctx context.Context, q Query) (*Report, error) {
	if q.Range.From.After(q.Range.To) {
		return nil, ErrInvalidRange
	}
	if _, err := enum.ParseGranularity(string(q.Granularity)); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGranularity, q.Granularity)
	}

	rows, err := e.src.ListPrepTimeCandidates(ctx, database.ListPrepTimeCandidatesParams{
		From: pgtype.Timestamptz{Time: q.Range.From.Add(-fetchPadding), Valid: true},
		To:   pgtype.Timestamptz{Time: q.Range.To.Add(fetchPadding), Valid: true},
	})
	if err != nil {
		return nil, fmt.Errorf("list prep time candidates: %w", err)
	}
	logger.FromCtx(ctx).Debug("prep time candidates",
		zap.String("granularity", string(q.Granularity)),
		zap.Int("rows", len(rows)),
	)

	orders := e.buildOrders(rows, q.TurnID)

	report := &Report{Granularity: q.Granularity, From: q.Range.From, To: q.Range.To}
	switch q.Granularity {
	case enum.GranularityOrder:
		report.Orders, report.Summary = byOrder(orders, q)
	case enum.GranularityItemType:
		report.Groups, report.Summary = byGroup(orders, q, itemTypeKey)
	case enum.GranularityStaff:
		report.Groups, report.Summary = byGroup(orders, q, staffKey)
	case enum.GranularityItemInstance:
		report.Items, report.Summary = byInstance(orders, q)
	}
	return report, nil
}

// --- Per-order view of the candidates ---

type item struct {
	database.PrepTimeCandidate
	order *order
}

// completion is ready_at, else the order's finished_at, else its paid_at.
func (it *item) completion() (time.Time, bool) {
	return firstValid(it.ReadyAt, it.OrderFinishedAt, it.OrderPaidAt)
}

// duration is ready_at - preparing_at, or zero when either is missing.
func (it *item) duration() time.Duration {
	return span(it.PreparingAt, it.ReadyAt)
}

func (it *item) matches(q Query) bool {
	if q.Kind != "" && it.Kind != q.Kind {
		return false
	}
	if q.Staff != "" && !containsFold(it.PreparerName, q.Staff) {
		return false
	}
	if q.Item != "" {
		if q.ItemMatch == enum.ItemMatchExact {
			if !strings.EqualFold(strings.TrimSpace(it.Name), strings.TrimSpace(q.Item)) {
				return false
			}
		} else if !containsFold(it.Name, q.Item) {
			return false
		}
	}
	return true
}

type order struct {
	id         uuid.UUID
	code       string
	items      []*item
	start      pgtype.Timestamptz
	completion pgtype.Timestamptz
}

func (o *order) duration() time.Duration {
	return span(o.start, o.completion)
}

func (e *Engine) buildOrders(rows []database.PrepTimeCandidate, turnID uuid.UUID) []*order {
	index := make(map[uuid.UUID]*order)
	var out []*order
	for _, row := range rows {
		if turnID != uuid.Nil && (!row.TurnID.Valid || uuid.UUID(row.TurnID.Bytes) != turnID) {
			continue
		}
		o, ok := index[row.OrderID]
		if !ok {
			o = &order{id: row.OrderID, code: row.OrderCode}
			index[row.OrderID] = o
			out = append(out, o)
		}
		o.items = append(o.items, &item{PrepTimeCandidate: row, order: o})
	}

	for _, o := range out {
		first := o.items[0]
		switch {
		case first.OrderStartedAt.Valid:
			o.start = first.OrderStartedAt
		case first.OrderPaidAt.Valid:
			o.start = pgtype.Timestamptz{Time: first.OrderPaidAt.Time.Add(-e.legacyOffset), Valid: true}
		}

		// finished_at, else the latest item ready_at, else paid_at.
		o.completion = first.OrderFinishedAt
		if !o.completion.Valid {
			for _, it := range o.items {
				if it.ReadyAt.Valid && (!o.completion.Valid || it.ReadyAt.Time.After(o.completion.Time)) {
					o.completion = it.ReadyAt
				}
			}
		}
		if !o.completion.Valid {
			o.completion = first.OrderPaidAt
		}
	}
	return out
}

// --- Granularities ---

func byOrder(orders []*order, q Query) ([]OrderRow, Summary) {
	var rows []OrderRow
	var st stat
	for _, o := range orders {
		if !o.completion.Valid || !q.Range.contains(o.completion.Time) {
			continue
		}
		units := 0
		for _, it := range o.items {
			if it.matches(q) {
				units += int(it.Quantity)
			}
		}
		if units == 0 {
			continue
		}
		d := o.duration()
		st.add(d, 1)
		rows = append(rows, OrderRow{
			OrderID:     o.id,
			OrderCode:   o.code,
			Items:       units,
			StartedAt:   optTime(o.start.Time, o.start.Valid),
			CompletedAt: optTime(o.completion.Time, o.completion.Valid),
			Duration:    newDuration(d),
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if c := compareDesc(rows[i].CompletedAt, rows[j].CompletedAt); c != 0 {
			return c < 0
		}
		return rows[i].OrderCode < rows[j].OrderCode
	})
	return rows, summarize(len(rows), st)
}

type groupKey struct {
	kind     enum.Kind
	name     string
	preparer uuid.UUID
}

func itemTypeKey(it *item) (groupKey, bool) {
	return groupKey{kind: it.Kind, name: it.Name}, true
}

// staffKey skips items that never had a preparer. Preparers sharing a
// display name stay in separate rows.
func staffKey(it *item) (groupKey, bool) {
	if !it.PreparerID.Valid {
		return groupKey{}, false
	}
	return groupKey{kind: it.Kind, name: it.PreparerName, preparer: it.PreparerID.Bytes}, true
}

type group struct {
	key       groupKey
	quantity  int
	orders    map[uuid.UUID]bool
	orderStat stat
	itemStat  stat
}

func byGroup(orders []*order, q Query, keyOf func(*item) (groupKey, bool)) ([]GroupRow, Summary) {
	groups := make(map[groupKey]*group)
	var st stat
	units := 0

	for _, o := range orders {
		for _, it := range o.items {
			done, ok := it.completion()
			if !ok || !q.Range.contains(done) || !it.matches(q) {
				continue
			}
			key, ok := keyOf(it)
			if !ok {
				continue
			}
			g := groups[key]
			if g == nil {
				g = &group{key: key, orders: make(map[uuid.UUID]bool)}
				groups[key] = g
			}

			qty := int(it.Quantity)
			g.quantity += qty
			units += qty
			g.itemStat.add(it.duration(), qty)
			st.add(it.duration(), qty)

			if !g.orders[o.id] {
				g.orders[o.id] = true
				g.orderStat.add(o.duration(), 1)
			}
		}
	}

	rows := make([]GroupRow, 0, len(groups))
	for _, g := range groups {
		row := GroupRow{
			Kind:         g.key.kind,
			Name:         g.key.name,
			Quantity:     g.quantity,
			Orders:       len(g.orders),
			OrderAverage: g.orderStat.average(),
			ItemAverage:  g.itemStat.average(),
			ItemMax:      g.itemStat.maximum(),
		}
		if g.key.preparer != uuid.Nil {
			id := g.key.preparer
			row.PreparerID = &id
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Quantity != rows[j].Quantity {
			return rows[i].Quantity > rows[j].Quantity
		}
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		if rows[i].Kind != rows[j].Kind {
			return rows[i].Kind < rows[j].Kind
		}
		return preparerString(rows[i].PreparerID) < preparerString(rows[j].PreparerID)
	})
	return rows, summarize(units, st)
}

func byInstance(orders []*order, q Query) ([]InstanceRow, Summary) {
	var rows []InstanceRow
	var st stat
	for _, o := range orders {
		for _, it := range o.items {
			done, ok := it.completion()
			if !ok || !q.Range.contains(done) || !it.matches(q) {
				continue
			}
			d := it.duration()
			for unit := 1; unit <= int(it.Quantity); unit++ {
				st.add(d, 1)
				rows = append(rows, InstanceRow{
					ItemID:       it.ItemID,
					Unit:         unit,
					OrderID:      o.id,
					OrderCode:    o.code,
					Kind:         it.Kind,
					Name:         it.Name,
					PreparerName: it.PreparerName,
					StartedAt:    optTime(it.PreparingAt.Time, it.PreparingAt.Valid),
					CompletedAt:  optTime(done, true),
					Duration:     newDuration(d),
				})
			}
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if c := compareDesc(rows[i].CompletedAt, rows[j].CompletedAt); c != 0 {
			return c < 0
		}
		if rows[i].ItemID != rows[j].ItemID {
			return rows[i].ItemID.String() < rows[j].ItemID.String()
		}
		return rows[i].Unit < rows[j].Unit
	})
	return rows, summarize(len(rows), st)
}

func preparerString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func summarize(count int, st stat) Summary {
	return Summary{
		Count:    count,
		Measured: st.count,
		Average:  st.average(),
		Max:      st.maximum(),
	}
}

// --- Helpers ---

func firstValid(ts ...pgtype.Timestamptz) (time.Time, bool) {
	for _, t := range ts {
		if t.Valid {
			return t.Time, true
		}
	}
	return time.Time{}, false
}

func span(from, to pgtype.Timestamptz) time.Duration {
	if !from.Valid || !to.Valid {
		return 0
	}
	if d := to.Time.Sub(from.Time); d > 0 {
		return d
	}
	return 0
}

// compareDesc orders newer first with nil last.
func compareDesc(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.After(*b):
		return -1
	case b.After(*a):
		return 1
	}
	return 0
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(strings.TrimSpace(sub)))
}
