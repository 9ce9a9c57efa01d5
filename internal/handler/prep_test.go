package handler_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
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
	"github.com/kiwari-pos/kds/internal/middleware"
)

// --- Mock servicer ---

type mockPrepService struct {
	heartbeatFn     func(ctx context.Context, preparerID uuid.UUID) (bool, error)
	listMineFn      func(ctx context.Context, preparerID uuid.UUID) (*fulfillment.Mine, error)
	listHistoryFn   func(ctx context.Context, preparerID uuid.UUID, r fulfillment.DateRange) ([]database.OrderItem, error)
	acceptFn        func(ctx context.Context, itemID uuid.UUID, preparerID *uuid.UUID) (database.OrderItem, error)
	startFn         func(ctx context.Context, itemID, preparerID uuid.UUID) (database.OrderItem, error)
	rejectFn        func(ctx context.Context, itemID, preparerID uuid.UUID) (fulfillment.RejectResult, error)
	completeFn      func(ctx context.Context, itemID, preparerID uuid.UUID) (database.OrderItem, error)
	assignPendingFn func(ctx context.Context) (fulfillment.AssignSummary, error)
}

func (m *mockPrepService) Heartbeat(ctx context.Context, preparerID uuid.UUID) (bool, error) {
	return m.heartbeatFn(ctx, preparerID)
}

func (m *mockPrepService) ListMine(ctx context.Context, preparerID uuid.UUID) (*fulfillment.Mine, error) {
	return m.listMineFn(ctx, preparerID)
}

func (m *mockPrepService) ListHistory(ctx context.Context, preparerID uuid.UUID, r fulfillment.DateRange) ([]database.OrderItem, error) {
	return m.listHistoryFn(ctx, preparerID, r)
}

func (m *mockPrepService) AcceptOrAutoAssign(ctx context.Context, itemID uuid.UUID, preparerID *uuid.UUID) (database.OrderItem, error) {
	return m.acceptFn(ctx, itemID, preparerID)
}

func (m *mockPrepService) Start(ctx context.Context, itemID, preparerID uuid.UUID) (database.OrderItem, error) {
	return m.startFn(ctx, itemID, preparerID)
}

func (m *mockPrepService) Reject(ctx context.Context, itemID, preparerID uuid.UUID) (fulfillment.RejectResult, error) {
	return m.rejectFn(ctx, itemID, preparerID)
}

func (m *mockPrepService) Complete(ctx context.Context, itemID, preparerID uuid.UUID) (database.OrderItem, error) {
	return m.completeFn(ctx, itemID, preparerID)
}

func (m *mockPrepService) AssignPending(ctx context.Context) (fulfillment.AssignSummary, error) {
	return m.assignPendingFn(ctx)
}

// --- Helpers ---

// withClaims stands in for Authenticate so tests do not need real tokens.
func withClaims(claims *auth.Claims) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithClaims(r.Context(), claims)))
		})
	}
}

func claimsFor(role enum.Role) *auth.Claims {
	kind, _ := role.PreparerKind()
	return &auth.Claims{StaffID: uuid.New(), Role: role, Kind: kind}
}

func newPrepRouter(svc handler.PrepServicer, claims *auth.Claims) *chi.Mux {
	h := handler.NewPrepHandler(svc, time.UTC)
	r := chi.NewRouter()
	r.Use(withClaims(claims))
	r.Route("/prep", func(r chi.Router) {
		r.Post("/heartbeat", h.Heartbeat)
		h.RegisterRoutes(r)
		h.RegisterManagerRoutes(r)
	})
	return r
}

func makeItem(state enum.ItemState, preparerID uuid.UUID) database.OrderItem {
	item := database.OrderItem{
		ID:        uuid.New(),
		OrderID:   uuid.New(),
		Kind:      enum.KindDrink,
		Name:      "Mojito",
		Quantity:  1,
		State:     state,
		CreatedAt: time.Now(),
	}
	if preparerID != uuid.Nil {
		item.PreparerID = pgtype.UUID{Bytes: preparerID, Valid: true}
	}
	return item
}

func doRequest(t *testing.T, router http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

// --- Tests ---

func TestPrepHeartbeat(t *testing.T) {
	claims := claimsFor(enum.RoleBartender)
	var got uuid.UUID
	svc := &mockPrepService{
		heartbeatFn: func(_ context.Context, preparerID uuid.UUID) (bool, error) {
			got = preparerID
			return true, nil
		},
	}

	rr := doRequest(t, newPrepRouter(svc, claims), "POST", "/prep/heartbeat")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if got != claims.StaffID {
		t.Errorf("heartbeat preparer: got %s, want %s", got, claims.StaffID)
	}
	resp := decodeResponse(t, rr)
	if resp["came_online"] != true {
		t.Errorf("came_online: got %v, want true", resp["came_online"])
	}
}

func TestPrepMine(t *testing.T) {
	claims := claimsFor(enum.RoleCook)
	current := makeItem(enum.ItemStatePreparing, claims.StaffID)
	queued := makeItem(enum.ItemStateAssigned, claims.StaffID)
	svc := &mockPrepService{
		listMineFn: func(_ context.Context, _ uuid.UUID) (*fulfillment.Mine, error) {
			return &fulfillment.Mine{Current: &current, Queue: []database.OrderItem{queued}}, nil
		},
	}

	rr := doRequest(t, newPrepRouter(svc, claims), "GET", "/prep/mine")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	resp := decodeResponse(t, rr)
	cur, ok := resp["current"].(map[string]interface{})
	if !ok {
		t.Fatal("expected current item")
	}
	if cur["id"] != current.ID.String() {
		t.Errorf("current id: got %v, want %s", cur["id"], current.ID)
	}
	if q := resp["queue"].([]interface{}); len(q) != 1 {
		t.Errorf("queue length: got %d, want 1", len(q))
	}
}

func TestPrepMine_Idle(t *testing.T) {
	svc := &mockPrepService{
		listMineFn: func(_ context.Context, _ uuid.UUID) (*fulfillment.Mine, error) {
			return &fulfillment.Mine{}, nil
		},
	}

	rr := doRequest(t, newPrepRouter(svc, claimsFor(enum.RoleCook)), "GET", "/prep/mine")

	resp := decodeResponse(t, rr)
	if resp["current"] != nil {
		t.Errorf("current: got %v, want null", resp["current"])
	}
	if q, ok := resp["queue"].([]interface{}); !ok || len(q) != 0 {
		t.Errorf("queue: got %v, want empty array", resp["queue"])
	}
}

func TestPrepHistory_DateRange(t *testing.T) {
	var got fulfillment.DateRange
	svc := &mockPrepService{
		listHistoryFn: func(_ context.Context, _ uuid.UUID, r fulfillment.DateRange) ([]database.OrderItem, error) {
			got = r
			return nil, nil
		},
	}

	rr := doRequest(t, newPrepRouter(svc, claimsFor(enum.RoleCook)), "GET",
		"/prep/history?start_date=2026-03-01&end_date=2026-03-02")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	wantFrom := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.From.Equal(wantFrom) {
		t.Errorf("from: got %s, want %s", got.From, wantFrom)
	}
	wantTo := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC).Add(-time.Microsecond)
	if !got.To.Equal(wantTo) {
		t.Errorf("to: got %s, want %s", got.To, wantTo)
	}
}

func TestPrepHistory_InvalidDate(t *testing.T) {
	svc := &mockPrepService{}

	rr := doRequest(t, newPrepRouter(svc, claimsFor(enum.RoleCook)), "GET", "/prep/history?start_date=yesterday")

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestPrepAccept_PassesCaller(t *testing.T) {
	claims := claimsFor(enum.RoleBartender)
	itemID := uuid.New()
	svc := &mockPrepService{
		acceptFn: func(_ context.Context, id uuid.UUID, preparerID *uuid.UUID) (database.OrderItem, error) {
			if id != itemID {
				t.Errorf("item id: got %s, want %s", id, itemID)
			}
			if preparerID == nil || *preparerID != claims.StaffID {
				t.Errorf("accept must carry the calling preparer")
			}
			return makeItem(enum.ItemStateAssigned, claims.StaffID), nil
		},
	}

	rr := doRequest(t, newPrepRouter(svc, claims), "POST", "/prep/items/"+itemID.String()+"/accept")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if state := decodeResponse(t, rr)["state"]; state != "ASSIGNED" {
		t.Errorf("state: got %v, want ASSIGNED", state)
	}
}

func TestPrepTransitions_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"not assignee", fulfillment.ErrNotAssignee, http.StatusConflict, "already being prepared by someone else -- refresh"},
		{"busy", fulfillment.ErrPreparerBusy, http.StatusConflict, ""},
		{"invalid transition", fmt.Errorf("%w: READY -> start", fulfillment.ErrInvalidTransition), http.StatusConflict, ""},
		{"kind mismatch", fulfillment.ErrKindMismatch, http.StatusForbidden, ""},
		{"not found", fulfillment.ErrItemNotFound, http.StatusNotFound, "item not found"},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockPrepService{
				startFn: func(_ context.Context, _, _ uuid.UUID) (database.OrderItem, error) {
					return database.OrderItem{}, tt.err
				},
			}

			rr := doRequest(t, newPrepRouter(svc, claimsFor(enum.RoleCook)), "POST", "/prep/items/"+uuid.NewString()+"/start")

			if rr.Code != tt.wantCode {
				t.Fatalf("status: got %d, want %d; body: %s", rr.Code, tt.wantCode, rr.Body.String())
			}
			if tt.wantErr != "" {
				if got := decodeResponse(t, rr)["error"]; got != tt.wantErr {
					t.Errorf("error: got %v, want %q", got, tt.wantErr)
				}
			}
		})
	}
}

func TestPrepComplete(t *testing.T) {
	claims := claimsFor(enum.RoleCook)
	svc := &mockPrepService{
		completeFn: func(_ context.Context, _, preparerID uuid.UUID) (database.OrderItem, error) {
			item := makeItem(enum.ItemStateReady, preparerID)
			item.ReadyAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
			return item, nil
		},
	}

	rr := doRequest(t, newPrepRouter(svc, claims), "POST", "/prep/items/"+uuid.NewString()+"/complete")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	resp := decodeResponse(t, rr)
	if resp["state"] != "READY" {
		t.Errorf("state: got %v, want READY", resp["state"])
	}
	if resp["ready_at"] == nil {
		t.Error("expected ready_at to be set")
	}
}

func TestPrepReject_NotReassigned(t *testing.T) {
	svc := &mockPrepService{
		rejectFn: func(_ context.Context, _, _ uuid.UUID) (fulfillment.RejectResult, error) {
			return fulfillment.RejectResult{Item: makeItem(enum.ItemStatePending, uuid.Nil)}, nil
		},
	}

	rr := doRequest(t, newPrepRouter(svc, claimsFor(enum.RoleCook)), "POST", "/prep/items/"+uuid.NewString()+"/reject")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	resp := decodeResponse(t, rr)
	if resp["reassigned"] != false {
		t.Errorf("reassigned: got %v, want false", resp["reassigned"])
	}
	item := resp["item"].(map[string]interface{})
	if item["state"] != "PENDING" {
		t.Errorf("state: got %v, want PENDING", item["state"])
	}
	if item["preparer_id"] != nil {
		t.Errorf("preparer_id: got %v, want null", item["preparer_id"])
	}
}

func TestPrepInvalidItemID(t *testing.T) {
	rr := doRequest(t, newPrepRouter(&mockPrepService{}, claimsFor(enum.RoleCook)), "POST", "/prep/items/not-a-uuid/start")

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestPrepAutoAssign_NoPreparer(t *testing.T) {
	svc := &mockPrepService{
		acceptFn: func(_ context.Context, _ uuid.UUID, preparerID *uuid.UUID) (database.OrderItem, error) {
			if preparerID != nil {
				t.Error("manager assign must not name a preparer")
			}
			return database.OrderItem{}, fulfillment.ErrNoEligiblePreparer
		},
	}

	rr := doRequest(t, newPrepRouter(svc, claimsFor(enum.RoleManager)), "POST", "/prep/items/"+uuid.NewString()+"/assign")

	if rr.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
	if code := decodeResponse(t, rr)["code"]; code != "NO_ELIGIBLE_PREPARER" {
		t.Errorf("code: got %v, want NO_ELIGIBLE_PREPARER", code)
	}
}

func TestPrepAssignPending(t *testing.T) {
	svc := &mockPrepService{
		assignPendingFn: func(_ context.Context) (fulfillment.AssignSummary, error) {
			return fulfillment.AssignSummary{Assigned: 2, Parked: 1}, nil
		},
	}

	rr := doRequest(t, newPrepRouter(svc, claimsFor(enum.RoleManager)), "POST", "/prep/assign")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	resp := decodeResponse(t, rr)
	if resp["assigned"] != float64(2) || resp["parked"] != float64(1) {
		t.Errorf("summary: got %v", resp)
	}
}
