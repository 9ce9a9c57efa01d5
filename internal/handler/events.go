package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kiwari-pos/kds/internal/middleware"
	"github.com/kiwari-pos/kds/internal/notify"
)

// EventsHandler streams notification events to displays.
type EventsHandler struct {
	hub *notify.Hub
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(hub *notify.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// RegisterPrepRoutes registers the preparer stream. Expected to be mounted at /prep.
func (h *EventsHandler) RegisterPrepRoutes(r chi.Router) {
	r.Get("/events", h.PrepStream)
}

// RegisterWaiterRoutes registers the waiter SSE stream. Expected to be mounted
// at /waiters. The websocket variant lives at /ws/waiters/events and is wired
// by the router.
func (h *EventsHandler) RegisterWaiterRoutes(r chi.Router) {
	r.Get("/events", h.WaiterStream)
}

// PrepStream handles GET /prep/events: queue changes for the calling preparer.
func (h *EventsHandler) PrepStream(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	notify.ServeSSE(h.hub, notify.Filter{PreparerID: claims.StaffID}, w, r)
}

// WaiterStream handles GET /waiters/events: ready items of the caller's orders.
func (h *EventsHandler) WaiterStream(w http.ResponseWriter, r *http.Request) {
	f, ok := waiterFilter(w, r)
	if !ok {
		return
	}
	notify.ServeSSE(h.hub, f, w, r)
}

// WaiterSocket handles GET /ws/waiters/events, the websocket variant of WaiterStream.
func (h *EventsHandler) WaiterSocket(w http.ResponseWriter, r *http.Request) {
	f, ok := waiterFilter(w, r)
	if !ok {
		return
	}
	notify.ServeWS(h.hub, f, w, r)
}

func waiterFilter(w http.ResponseWriter, r *http.Request) (notify.Filter, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return notify.Filter{}, false
	}
	return notify.Filter{
		WaiterID: claims.StaffID,
		Types:    []string{notify.TypeItemReady},
	}, true
}
