package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kiwari-pos/kds/internal/database"
	"github.com/kiwari-pos/kds/internal/fulfillment"
	"github.com/kiwari-pos/kds/internal/middleware"
)

// PrepServicer defines the service methods needed by preparer handlers.
// Satisfied by *fulfillment.Service; narrow interface for testability.
type PrepServicer interface {
	Heartbeat(ctx context.Context, preparerID uuid.UUID) (bool, error)
	ListMine(ctx context.Context, preparerID uuid.UUID) (*fulfillment.Mine, error)
	ListHistory(ctx context.Context, preparerID uuid.UUID, r fulfillment.DateRange) ([]database.OrderItem, error)
	AcceptOrAutoAssign(ctx context.Context, itemID uuid.UUID, preparerID *uuid.UUID) (database.OrderItem, error)
	Start(ctx context.Context, itemID, preparerID uuid.UUID) (database.OrderItem, error)
	Reject(ctx context.Context, itemID, preparerID uuid.UUID) (fulfillment.RejectResult, error)
	Complete(ctx context.Context, itemID, preparerID uuid.UUID) (database.OrderItem, error)
	AssignPending(ctx context.Context) (fulfillment.AssignSummary, error)
}

// PrepHandler handles the kitchen and bar display endpoints.
type PrepHandler struct {
	svc PrepServicer
	loc *time.Location
}

// NewPrepHandler creates a new PrepHandler. History dates are read in loc.
func NewPrepHandler(svc PrepServicer, loc *time.Location) *PrepHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &PrepHandler{svc: svc, loc: loc}
}

// RegisterRoutes registers preparer endpoints. Expected to be mounted at
// /prep behind RequirePreparer. The heartbeat route is registered by the
// router so it can carry its own rate limit.
func (h *PrepHandler) RegisterRoutes(r chi.Router) {
	r.Get("/mine", h.Mine)
	r.Get("/history", h.History)
	r.Post("/items/{id}/accept", h.Accept)
	r.Post("/items/{id}/start", h.Start)
	r.Post("/items/{id}/reject", h.Reject)
	r.Post("/items/{id}/complete", h.Complete)
}

// RegisterManagerRoutes registers the manual assignment endpoints.
func (h *PrepHandler) RegisterManagerRoutes(r chi.Router) {
	r.Post("/assign", h.AssignPending)
	r.Post("/items/{id}/assign", h.AutoAssign)
}

type mineResponse struct {
	Current *orderItemResponse  `json:"current"`
	Queue   []orderItemResponse `json:"queue"`
}

type heartbeatResponse struct {
	Active     bool `json:"active"`
	CameOnline bool `json:"came_online"`
}

type rejectResponse struct {
	Item       orderItemResponse `json:"item"`
	Reassigned bool              `json:"reassigned"`
}

// Heartbeat handles POST /prep/heartbeat.
func (h *PrepHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	became, err := h.svc.Heartbeat(r.Context(), claims.StaffID)
	if err != nil {
		writeServiceError(w, r, "heartbeat", err)
		return
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{Active: true, CameOnline: became})
}

// Mine handles GET /prep/mine.
func (h *PrepHandler) Mine(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	mine, err := h.svc.ListMine(r.Context(), claims.StaffID)
	if err != nil {
		writeServiceError(w, r, "list mine", err)
		return
	}

	resp := mineResponse{Queue: itemsToResponse(mine.Queue)}
	if mine.Current != nil {
		current := dbOrderItemToResponse(*mine.Current)
		resp.Current = &current
	}
	writeJSON(w, http.StatusOK, resp)
}

// History handles GET /prep/history?start_date=&end_date=.
func (h *PrepHandler) History(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	startDate, endDate, err := parseDateRange(r, h.loc, time.Now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	items, err := h.svc.ListHistory(r.Context(), claims.StaffID, fulfillment.DateRange{
		From: startDate,
		To:   endDate.Add(-time.Microsecond),
	})
	if err != nil {
		writeServiceError(w, r, "list history", err)
		return
	}
	writeJSON(w, http.StatusOK, itemsToResponse(items))
}

// Accept handles POST /prep/items/{id}/accept.
func (h *PrepHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "accept item", func(ctx context.Context, itemID, preparerID uuid.UUID) (database.OrderItem, error) {
		return h.svc.AcceptOrAutoAssign(ctx, itemID, &preparerID)
	})
}

// Start handles POST /prep/items/{id}/start.
func (h *PrepHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "start item", h.svc.Start)
}

// Complete handles POST /prep/items/{id}/complete.
func (h *PrepHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "complete item", h.svc.Complete)
}

// Reject handles POST /prep/items/{id}/reject.
func (h *PrepHandler) Reject(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	itemID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid item ID"})
		return
	}

	res, err := h.svc.Reject(r.Context(), itemID, claims.StaffID)
	if err != nil {
		writeServiceError(w, r, "reject item", err)
		return
	}
	writeJSON(w, http.StatusOK, rejectResponse{
		Item:       dbOrderItemToResponse(res.Item),
		Reassigned: res.Reassigned,
	})
}

// AssignPending handles POST /prep/assign.
func (h *PrepHandler) AssignPending(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.AssignPending(r.Context())
	if err != nil {
		writeServiceError(w, r, "assign pending", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// AutoAssign handles POST /prep/items/{id}/assign.
func (h *PrepHandler) AutoAssign(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid item ID"})
		return
	}

	item, err := h.svc.AcceptOrAutoAssign(r.Context(), itemID, nil)
	if err != nil {
		writeServiceError(w, r, "auto assign item", err)
		return
	}
	writeJSON(w, http.StatusOK, dbOrderItemToResponse(item))
}

func (h *PrepHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	fn func(ctx context.Context, itemID, preparerID uuid.UUID) (database.OrderItem, error),
) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	itemID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid item ID"})
		return
	}

	item, err := fn(r.Context(), itemID, claims.StaffID)
	if err != nil {
		writeServiceError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, dbOrderItemToResponse(item))
}
