package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/kiwari-pos/kds/internal/database"
	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/kiwari-pos/kds/internal/fulfillment"
	"github.com/kiwari-pos/kds/internal/logger"
)

// --- Response types ---

type orderResponse struct {
	ID           uuid.UUID         `json:"id"`
	OrderNumber  int64             `json:"order_number"`
	Code         string            `json:"code"`
	TableNumber  *string           `json:"table_number"`
	DeliveryType enum.DeliveryType `json:"delivery_type"`
	WaiterID     uuid.UUID         `json:"waiter_id"`
	TurnID       *uuid.UUID        `json:"turn_id"`
	StartedAt    *time.Time        `json:"started_at"`
	FinishedAt   *time.Time        `json:"finished_at"`
	CreatedAt    time.Time         `json:"created_at"`
}

type orderItemResponse struct {
	ID             uuid.UUID      `json:"id"`
	OrderID        uuid.UUID      `json:"order_id"`
	Kind           enum.Kind      `json:"kind"`
	Name           string         `json:"name"`
	UnitPrice      string         `json:"unit_price"`
	Quantity       int32          `json:"quantity"`
	Note           *string        `json:"note"`
	State          enum.ItemState `json:"state"`
	PreparerID     *uuid.UUID     `json:"preparer_id"`
	RejectionCount int32          `json:"rejection_count"`
	CreatedAt      time.Time      `json:"created_at"`
	AssignedAt     *time.Time     `json:"assigned_at"`
	PreparingAt    *time.Time     `json:"preparing_at"`
	ReadyAt        *time.Time     `json:"ready_at"`
}

type orderDetailResponse struct {
	orderResponse
	Items []orderItemResponse `json:"items"`
}

func dbOrderToResponse(o database.Order) orderResponse {
	return orderResponse{
		ID:           o.ID,
		OrderNumber:  o.OrderNumber,
		Code:         o.Code,
		TableNumber:  textPtr(o.TableNumber),
		DeliveryType: o.DeliveryType,
		WaiterID:     o.WaiterID,
		TurnID:       uuidPtr(o.TurnID),
		StartedAt:    timePtr(o.StartedAt),
		FinishedAt:   timePtr(o.FinishedAt),
		CreatedAt:    o.CreatedAt,
	}
}

func dbOrderItemToResponse(item database.OrderItem) orderItemResponse {
	return orderItemResponse{
		ID:             item.ID,
		OrderID:        item.OrderID,
		Kind:           item.Kind,
		Name:           item.Name,
		UnitPrice:      fulfillment.UnitPrice(item.UnitPrice),
		Quantity:       item.Quantity,
		Note:           textPtr(item.Note),
		State:          item.State,
		PreparerID:     uuidPtr(item.PreparerID),
		RejectionCount: item.RejectionCount,
		CreatedAt:      item.CreatedAt,
		AssignedAt:     timePtr(item.AssignedAt),
		PreparingAt:    timePtr(item.PreparingAt),
		ReadyAt:        timePtr(item.ReadyAt),
	}
}

func itemsToResponse(items []database.OrderItem) []orderItemResponse {
	resp := make([]orderItemResponse, len(items))
	for i, item := range items {
		resp[i] = dbOrderItemToResponse(item)
	}
	return resp
}

func detailToResponse(d *fulfillment.OrderDetail) orderDetailResponse {
	return orderDetailResponse{
		orderResponse: dbOrderToResponse(d.Order),
		Items:         itemsToResponse(d.Items),
	}
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func uuidPtr(u pgtype.UUID) *uuid.UUID {
	if !u.Valid {
		return nil
	}
	id := uuid.UUID(u.Bytes)
	return &id
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L().Error("failed to encode JSON response", zap.Error(err))
	}
}
