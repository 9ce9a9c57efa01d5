package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kiwari-pos/kds/internal/fulfillment"
	"github.com/kiwari-pos/kds/internal/logger"
)

// writeServiceError maps fulfillment errors to HTTP responses. Anything
// unrecognised is logged and reported as 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case fulfillment.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, fulfillment.ErrItemNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "item not found"})
	case errors.Is(err, fulfillment.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
	case errors.Is(err, fulfillment.ErrPreparerNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "preparer not found"})
	case errors.Is(err, fulfillment.ErrItemLocked):
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error": "this item can no longer be modified",
			"code":  "ITEM_LOCKED",
		})
	case errors.Is(err, fulfillment.ErrKindMismatch):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "this item belongs to another station"})
	case errors.Is(err, fulfillment.ErrNotPreparer):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "staff member is not a cook or bartender"})
	case errors.Is(err, fulfillment.ErrNotAssignee):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "already being prepared by someone else -- refresh",
			"code":  "NOT_ASSIGNEE",
		})
	case errors.Is(err, fulfillment.ErrPreparerBusy):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "finish your current item before starting another",
			"code":  "PREPARER_BUSY",
		})
	case errors.Is(err, fulfillment.ErrNoEligiblePreparer):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "no active preparer for this item, it will be assigned when one comes online",
			"code":  "NO_ELIGIBLE_PREPARER",
		})
	case errors.Is(err, fulfillment.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
			"code":  "INVALID_TRANSITION",
		})
	case errors.Is(err, fulfillment.ErrOrderClosed):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "order is already closed"})
	default:
		logger.FromCtx(r.Context()).Error(op, zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
