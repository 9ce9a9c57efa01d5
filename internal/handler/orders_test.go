package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/kiwari-pos/kds/internal/auth"
	"github.com/kiwari-pos/kds/internal/database"
	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/kiwari-pos/kds/internal/fulfillment"
	"github.com/kiwari-pos/kds/internal/handler"
)

// --- Mock servicer ---

type mockOrderService struct {
	placeOrderFn func(ctx context.Context, req fulfillment.PlaceOrderRequest) (*fulfillment.OrderDetail, error)
	addItemsFn   func(ctx context.Context, orderID uuid.UUID, items []fulfillment.NewItem) ([]database.OrderItem, error)
	getOrderFn   func(ctx context.Context, orderID uuid.UUID) (*fulfillment.OrderDetail, error)
	updateNoteFn func(ctx context.Context, orderID, itemID uuid.UUID, note string) (database.OrderItem, error)
	deleteItemFn func(ctx context.Context, orderID, itemID uuid.UUID) error
	closeOrderFn func(ctx context.Context, orderID uuid.UUID) (database.Order, error)
}

func (m *mockOrderService) PlaceOrder(ctx context.Context, req fulfillment.PlaceOrderRequest) (*fulfillment.OrderDetail, error) {
	return m.placeOrderFn(ctx, req)
}

func (m *mockOrderService) AddItems(ctx context.Context, orderID uuid.UUID, items []fulfillment.NewItem) ([]database.OrderItem, error) {
	return m.addItemsFn(ctx, orderID, items)
}

func (m *mockOrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*fulfillment.OrderDetail, error) {
	return m.getOrderFn(ctx, orderID)
}

func (m *mockOrderService) UpdateNote(ctx context.Context, orderID, itemID uuid.UUID, note string) (database.OrderItem, error) {
	return m.updateNoteFn(ctx, orderID, itemID, note)
}

func (m *mockOrderService) DeleteItem(ctx context.Context, orderID, itemID uuid.UUID) error {
	return m.deleteItemFn(ctx, orderID, itemID)
}

func (m *mockOrderService) CloseOrder(ctx context.Context, orderID uuid.UUID) (database.Order, error) {
	return m.closeOrderFn(ctx, orderID)
}

// --- Helpers ---

func newOrderRouter(svc handler.OrderServicer, claims *auth.Claims) *chi.Mux {
	h := handler.NewOrderHandler(svc)
	r := chi.NewRouter()
	r.Use(withClaims(claims))
	r.Route("/orders", h.RegisterRoutes)
	return r
}

func sendJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func makeOrder(waiterID uuid.UUID) database.Order {
	return database.Order{
		ID:           uuid.New(),
		OrderNumber:  1,
		Code:         "KDS-001",
		TableNumber:  pgtype.Text{String: "7", Valid: true},
		DeliveryType: enum.DeliveryDineIn,
		WaiterID:     waiterID,
		CreatedAt:    time.Now(),
	}
}

// --- Tests ---

func TestCreateOrder_UsesCallerAsWaiter(t *testing.T) {
	claims := claimsFor(enum.RoleWaiter)
	var got fulfillment.PlaceOrderRequest
	svc := &mockOrderService{
		placeOrderFn: func(_ context.Context, req fulfillment.PlaceOrderRequest) (*fulfillment.OrderDetail, error) {
			got = req
			order := makeOrder(req.WaiterID)
			item := makeItem(enum.ItemStateAssigned, uuid.New())
			item.OrderID = order.ID
			return &fulfillment.OrderDetail{Order: order, Items: []database.OrderItem{item}}, nil
		},
	}

	rr := sendJSON(t, newOrderRouter(svc, claims), "POST", "/orders", `{
		"table_number": "7",
		"delivery_type": "DINE_IN",
		"items": [{"kind": "DRINK", "name": "Mojito", "unit_price": "45000", "quantity": 2, "note": "less ice"}]
	}`)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	if got.WaiterID != claims.StaffID {
		t.Errorf("waiter: got %s, want %s", got.WaiterID, claims.StaffID)
	}
	if len(got.Items) != 1 || got.Items[0].Quantity != 2 || got.Items[0].Note != "less ice" {
		t.Errorf("items not passed through: %+v", got.Items)
	}

	resp := decodeResponse(t, rr)
	if resp["code"] != "KDS-001" {
		t.Errorf("code: got %v, want KDS-001", resp["code"])
	}
	if items := resp["items"].([]interface{}); len(items) != 1 {
		t.Errorf("items: got %d, want 1", len(items))
	}
}

func TestCreateOrder_EmptyItems(t *testing.T) {
	rr := sendJSON(t, newOrderRouter(&mockOrderService{}, claimsFor(enum.RoleWaiter)), "POST", "/orders",
		`{"table_number": "7", "items": []}`)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestCreateOrder_ValidationError(t *testing.T) {
	svc := &mockOrderService{
		placeOrderFn: func(_ context.Context, _ fulfillment.PlaceOrderRequest) (*fulfillment.OrderDetail, error) {
			return nil, fulfillment.ErrTableRequired
		},
	}

	rr := sendJSON(t, newOrderRouter(svc, claimsFor(enum.RoleWaiter)), "POST", "/orders",
		`{"items": [{"kind": "DISH", "name": "Rendang", "unit_price": "60000", "quantity": 1}]}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if msg := decodeResponse(t, rr)["error"]; msg != fulfillment.ErrTableRequired.Error() {
		t.Errorf("error: got %v", msg)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	svc := &mockOrderService{
		getOrderFn: func(_ context.Context, _ uuid.UUID) (*fulfillment.OrderDetail, error) {
			return nil, fulfillment.ErrOrderNotFound
		},
	}

	rr := doRequest(t, newOrderRouter(svc, claimsFor(enum.RoleWaiter)), "GET", "/orders/"+uuid.NewString())

	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestAddItems(t *testing.T) {
	orderID := uuid.New()
	svc := &mockOrderService{
		addItemsFn: func(_ context.Context, id uuid.UUID, items []fulfillment.NewItem) ([]database.OrderItem, error) {
			if id != orderID {
				t.Errorf("order id: got %s, want %s", id, orderID)
			}
			out := make([]database.OrderItem, len(items))
			for i := range items {
				out[i] = makeItem(enum.ItemStatePending, uuid.Nil)
			}
			return out, nil
		},
	}

	rr := sendJSON(t, newOrderRouter(svc, claimsFor(enum.RoleWaiter)), "POST", "/orders/"+orderID.String()+"/items",
		`{"items": [{"kind": "DISH", "name": "Sate", "unit_price": "30000", "quantity": 1}]}`)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
}

func TestUpdateItemNote_Locked(t *testing.T) {
	svc := &mockOrderService{
		updateNoteFn: func(_ context.Context, _, _ uuid.UUID, _ string) (database.OrderItem, error) {
			return database.OrderItem{}, fulfillment.ErrItemLocked
		},
	}

	path := "/orders/" + uuid.NewString() + "/items/" + uuid.NewString()
	rr := sendJSON(t, newOrderRouter(svc, claimsFor(enum.RoleWaiter)), "PATCH", path, `{"note": "no sugar"}`)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusForbidden)
	}
	resp := decodeResponse(t, rr)
	if resp["error"] != "this item can no longer be modified" {
		t.Errorf("error: got %v", resp["error"])
	}
	if resp["code"] != "ITEM_LOCKED" {
		t.Errorf("code: got %v, want ITEM_LOCKED", resp["code"])
	}
}

func TestUpdateItemNote_MissingNote(t *testing.T) {
	path := "/orders/" + uuid.NewString() + "/items/" + uuid.NewString()
	rr := sendJSON(t, newOrderRouter(&mockOrderService{}, claimsFor(enum.RoleWaiter)), "PATCH", path, `{}`)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestDeleteItem(t *testing.T) {
	itemID := uuid.New()
	svc := &mockOrderService{
		deleteItemFn: func(_ context.Context, _, id uuid.UUID) error {
			if id != itemID {
				t.Errorf("item id: got %s, want %s", id, itemID)
			}
			return nil
		},
	}

	rr := doRequest(t, newOrderRouter(svc, claimsFor(enum.RoleWaiter)), "DELETE",
		"/orders/"+uuid.NewString()+"/items/"+itemID.String())

	if rr.Code != http.StatusNoContent {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusNoContent)
	}
}

func TestDeleteItem_InvalidItemID(t *testing.T) {
	rr := doRequest(t, newOrderRouter(&mockOrderService{}, claimsFor(enum.RoleWaiter)), "DELETE",
		"/orders/"+uuid.NewString()+"/items/abc")

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestCloseOrder(t *testing.T) {
	svc := &mockOrderService{
		closeOrderFn: func(_ context.Context, id uuid.UUID) (database.Order, error) {
			o := makeOrder(uuid.New())
			o.ID = id
			o.FinishedAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
			return o, nil
		},
	}

	rr := doRequest(t, newOrderRouter(svc, claimsFor(enum.RoleWaiter)), "POST", "/orders/"+uuid.NewString()+"/close")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	if decodeResponse(t, rr)["finished_at"] == nil {
		t.Error("expected finished_at to be set")
	}
}

func TestCloseOrder_AlreadyClosed(t *testing.T) {
	svc := &mockOrderService{
		closeOrderFn: func(_ context.Context, _ uuid.UUID) (database.Order, error) {
			return database.Order{}, fulfillment.ErrOrderClosed
		},
	}

	rr := doRequest(t, newOrderRouter(svc, claimsFor(enum.RoleWaiter)), "POST", "/orders/"+uuid.NewString()+"/close")

	if rr.Code != http.StatusConflict {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
}
