package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kiwari-pos/kds/internal/database"
	"github.com/kiwari-pos/kds/internal/fulfillment"
	"github.com/kiwari-pos/kds/internal/middleware"
)

// OrderServicer defines the service methods needed by order handlers.
// Satisfied by *fulfillment.Service; narrow interface for testability.
type OrderServicer interface {
	PlaceOrder(ctx context.Context, req fulfillment.PlaceOrderRequest) (*fulfillment.OrderDetail, error)
	AddItems(ctx context.Context, orderID uuid.UUID, items []fulfillment.NewItem) ([]database.OrderItem, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*fulfillment.OrderDetail, error)
	UpdateNote(ctx context.Context, orderID, itemID uuid.UUID, note string) (database.OrderItem, error)
	DeleteItem(ctx context.Context, orderID, itemID uuid.UUID) error
	CloseOrder(ctx context.Context, orderID uuid.UUID) (database.Order, error)
}

// OrderHandler handles the waitstaff order endpoints.
type OrderHandler struct {
	svc OrderServicer
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(svc OrderServicer) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// RegisterRoutes registers order endpoints. Expected to be mounted at /orders.
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/items", h.AddItems)
	r.Patch("/{id}/items/{itemID}", h.UpdateItem)
	r.Delete("/{id}/items/{itemID}", h.DeleteItem)
	r.Post("/{id}/close", h.Close)
}

// --- Request types ---

type createOrderRequest struct {
	TableNumber  string              `json:"table_number"`
	DeliveryType string              `json:"delivery_type"`
	TurnID       string              `json:"turn_id"`
	Items        []createItemRequest `json:"items"`
}

type createItemRequest struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Quantity  int32  `json:"quantity"`
	Note      string `json:"note"`
}

type addItemsRequest struct {
	Items []createItemRequest `json:"items"`
}

type updateItemRequest struct {
	Note *string `json:"note"`
}

func toNewItems(in []createItemRequest) []fulfillment.NewItem {
	out := make([]fulfillment.NewItem, len(in))
	for i, item := range in {
		out[i] = fulfillment.NewItem{
			Kind:      item.Kind,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Note:      item.Note,
		}
	}
	return out
}

// --- Handlers ---

// Create handles POST /orders.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "items are required"})
		return
	}

	detail, err := h.svc.PlaceOrder(r.Context(), fulfillment.PlaceOrderRequest{
		WaiterID:     claims.StaffID,
		TableNumber:  req.TableNumber,
		DeliveryType: req.DeliveryType,
		TurnID:       req.TurnID,
		Items:        toNewItems(req.Items),
	})
	if err != nil {
		writeServiceError(w, r, "place order", err)
		return
	}

	writeJSON(w, http.StatusCreated, detailToResponse(detail))
}

// Get handles GET /orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	detail, err := h.svc.GetOrder(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, r, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, detailToResponse(detail))
}

// AddItems handles POST /orders/{id}/items.
func (h *OrderHandler) AddItems(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	var req addItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	items, err := h.svc.AddItems(r.Context(), orderID, toNewItems(req.Items))
	if err != nil {
		writeServiceError(w, r, "add items", err)
		return
	}
	writeJSON(w, http.StatusCreated, itemsToResponse(items))
}

// UpdateItem handles PATCH /orders/{id}/items/{itemID}. Only the note can change.
func (h *OrderHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	orderID, itemID, ok := orderAndItemID(w, r)
	if !ok {
		return
	}

	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Note == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "note is required"})
		return
	}

	item, err := h.svc.UpdateNote(r.Context(), orderID, itemID, *req.Note)
	if err != nil {
		writeServiceError(w, r, "update item note", err)
		return
	}
	writeJSON(w, http.StatusOK, dbOrderItemToResponse(item))
}

// DeleteItem handles DELETE /orders/{id}/items/{itemID}.
func (h *OrderHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	orderID, itemID, ok := orderAndItemID(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteItem(r.Context(), orderID, itemID); err != nil {
		writeServiceError(w, r, "delete item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Close handles POST /orders/{id}/close.
func (h *OrderHandler) Close(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	order, err := h.svc.CloseOrder(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, r, "close order", err)
		return
	}
	writeJSON(w, http.StatusOK, dbOrderToResponse(order))
}

func orderAndItemID(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return uuid.Nil, uuid.Nil, false
	}
	itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid item ID"})
		return uuid.Nil, uuid.Nil, false
	}
	return orderID, itemID, true
}
