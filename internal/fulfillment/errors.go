package fulfillment

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Errors returned by the fulfillment service.
var (
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrNoEligiblePreparer = errors.New("no eligible preparer is active")
	ErrPreparerBusy       = errors.New("preparer already has an item in preparation")
	ErrItemLocked         = errors.New("item can no longer be modified")
	ErrNotAssignee        = errors.New("item is held by another preparer")
	ErrKindMismatch       = errors.New("item kind does not match preparer")

	ErrItemNotFound     = errors.New("item not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrPreparerNotFound = errors.New("preparer not found")
	ErrNotPreparer      = errors.New("staff member is not a preparer")
	ErrOrderClosed      = errors.New("order is already closed")

	ErrEmptyItems          = errors.New("items are required")
	ErrInvalidQuantity     = errors.New("quantity must be > 0")
	ErrInvalidKind         = errors.New("kind must be DISH or DRINK")
	ErrEmptyName           = errors.New("name is required")
	ErrInvalidPrice        = errors.New("invalid unit_price")
	ErrInvalidDeliveryType = errors.New("invalid delivery_type")
	ErrTableRequired       = errors.New("table_number is required for DINE_IN orders")
	ErrInvalidTurnID       = errors.New("invalid turn_id")
)

// IsValidation reports whether err is caused by bad caller input.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrEmptyItems, ErrInvalidQuantity, ErrInvalidKind, ErrEmptyName,
		ErrInvalidPrice, ErrInvalidDeliveryType, ErrTableRequired, ErrInvalidTurnID,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// isUniqueViolation checks for pgconn error code 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
