package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/kiwari-pos/kds/internal/logger"
	"github.com/kiwari-pos/kds/internal/metrics"

	"go.uber.org/zap"
)

// MetricsComputer computes preparation-time reports.
// Satisfied by *metrics.Engine; narrow interface for testability.
type MetricsComputer interface {
	Compute(ctx context.Context, q metrics.Query) (*metrics.Report, error)
}

// ReportsHandler handles report endpoints.
type ReportsHandler struct {
	engine MetricsComputer
	loc    *time.Location
	now    func() time.Time
}

// NewReportsHandler creates a new ReportsHandler. Dates without a time of day
// are read in loc.
func NewReportsHandler(engine MetricsComputer, loc *time.Location) *ReportsHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &ReportsHandler{engine: engine, loc: loc, now: time.Now}
}

// RegisterRoutes registers report endpoints. Expected to be mounted at /reports.
func (h *ReportsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/prep-times", h.PrepTimes)
}

// PrepTimes handles GET /reports/prep-times.
//
// Query parameters: granularity (order, item-type, staff, item-instance),
// start_date/end_date (YYYY-MM-DD) or from/to (RFC3339), kind, staff, item,
// item_match (contains, exact) and turn_id.
func (h *ReportsHandler) PrepTimes(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	report, err := h.engine.Compute(r.Context(), q)
	if err != nil {
		if errors.Is(err, metrics.ErrInvalidRange) || errors.Is(err, metrics.ErrInvalidGranularity) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		logger.FromCtx(r.Context()).Error("compute prep-time report", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *ReportsHandler) parseQuery(r *http.Request) (metrics.Query, error) {
	params := r.URL.Query()

	q := metrics.Query{
		Granularity: enum.GranularityItemType,
		Staff:       params.Get("staff"),
		Item:        params.Get("item"),
		ItemMatch:   enum.ItemMatchContains,
	}

	if s := params.Get("granularity"); s != "" {
		g, err := enum.ParseGranularity(s)
		if err != nil {
			return metrics.Query{}, err
		}
		q.Granularity = g
	}

	if s := params.Get("kind"); s != "" {
		k, err := enum.ParseKind(s)
		if err != nil {
			return metrics.Query{}, err
		}
		q.Kind = k
	}

	switch m := enum.ItemMatch(params.Get("item_match")); m {
	case "":
	case enum.ItemMatchContains, enum.ItemMatchExact:
		q.ItemMatch = m
	default:
		return metrics.Query{}, fmt.Errorf("invalid item_match %q", m)
	}

	if s := params.Get("turn_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return metrics.Query{}, fmt.Errorf("invalid turn_id")
		}
		q.TurnID = id
	}

	rng, err := parseReportRange(r, h.loc, h.now())
	if err != nil {
		return metrics.Query{}, err
	}
	q.Range = rng
	return q, nil
}

// parseReportRange accepts exact RFC3339 bounds in from/to and otherwise
// falls back to whole days from parseDateRange.
func parseReportRange(r *http.Request, loc *time.Location, now time.Time) (metrics.Range, error) {
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if from == "" && to == "" {
		start, end, err := parseDateRange(r, loc, now)
		if err != nil {
			return metrics.Range{}, err
		}
		return metrics.Range{From: start, To: end.Add(-time.Microsecond)}, nil
	}
	if from == "" || to == "" {
		return metrics.Range{}, fmt.Errorf("from and to must be given together")
	}

	fromT, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return metrics.Range{}, fmt.Errorf("invalid from format: %w", err)
	}
	toT, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return metrics.Range{}, fmt.Errorf("invalid to format: %w", err)
	}
	if fromT.After(toT) {
		return metrics.Range{}, fmt.Errorf("from must not be after to")
	}
	return metrics.Range{From: fromT, To: toT}, nil
}

// parseDateRange reads start_date and end_date (YYYY-MM-DD) in loc.
// Defaults to the last 30 days. The returned end is exclusive.
func parseDateRange(r *http.Request, loc *time.Location, now time.Time) (time.Time, time.Time, error) {
	const layout = "2006-01-02"

	now = now.In(loc)

	// Default: last 30 days (midnight to midnight in local time)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	startDate := today.AddDate(0, 0, -30)
	endDate := today.AddDate(0, 0, 1)

	if s := r.URL.Query().Get("start_date"); s != "" {
		t, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date format: %w", err)
		}
		startDate = t
	}

	if s := r.URL.Query().Get("end_date"); s != "" {
		t, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end_date format: %w", err)
		}
		// Make end_date exclusive by adding 1 day
		endDate = t.AddDate(0, 0, 1)
	}

	if !startDate.Before(endDate) {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date must be before end_date")
	}

	return startDate, endDate, nil
}
