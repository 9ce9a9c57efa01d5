package enum

import (
	"fmt"
	"strings"
)

// ── Group A: State machines (CHECK constrained in DB) ──

// ItemState is the fulfillment state of an order item.
type ItemState string

const (
	ItemStatePending   ItemState = "PENDING"
	ItemStateAssigned  ItemState = "ASSIGNED"
	ItemStatePreparing ItemState = "PREPARING"
	ItemStateReady     ItemState = "READY"
)

// Valid reports whether s is one of the declared item states.
func (s ItemState) Valid() bool {
	switch s {
	case ItemStatePending, ItemStateAssigned, ItemStatePreparing, ItemStateReady:
		return true
	}
	return false
}

// Editable reports whether waitstaff may still change or delete an item in state s.
func (s ItemState) Editable() bool {
	return s == ItemStatePending || s == ItemStateAssigned
}

// Action is a request to move an item through the fulfillment state machine.
type Action string

const (
	ActionAssign   Action = "assign"
	ActionStart    Action = "start"
	ActionReject   Action = "reject"
	ActionComplete Action = "complete"
)

// ── Group B: Item kinds and the staff that prepares them ──

// Kind decides which preparer pool handles an item.
type Kind string

const (
	KindDish  Kind = "DISH"
	KindDrink Kind = "DRINK"
)

// ParseKind accepts the kind in any letter case.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToUpper(strings.TrimSpace(s))) {
	case KindDish:
		return KindDish, nil
	case KindDrink:
		return KindDrink, nil
	}
	return "", fmt.Errorf("invalid kind %q", s)
}

// Role is a staff role carried in access tokens.
type Role string

const (
	RoleOwner     Role = "OWNER"
	RoleManager   Role = "MANAGER"
	RoleWaiter    Role = "WAITER"
	RoleCook      Role = "COOK"
	RoleBartender Role = "BARTENDER"
)

// PreparerKind returns the item kind a preparer role handles.
func (r Role) PreparerKind() (Kind, bool) {
	switch r {
	case RoleCook:
		return KindDish, true
	case RoleBartender:
		return KindDrink, true
	}
	return "", false
}

// ── Group C: Orders ──

// DeliveryType is how an order leaves the restaurant.
type DeliveryType string

const (
	DeliveryDineIn   DeliveryType = "DINE_IN"
	DeliveryTakeaway DeliveryType = "TAKEAWAY"
	DeliveryHome     DeliveryType = "HOME_DELIVERY"
)

// Valid reports whether d is a declared delivery type.
func (d DeliveryType) Valid() bool {
	switch d {
	case DeliveryDineIn, DeliveryTakeaway, DeliveryHome:
		return true
	}
	return false
}

// ── Group D: Reporting ──

// Granularity is the grouping level of a preparation-time report.
type Granularity string

const (
	GranularityOrder        Granularity = "order"
	GranularityItemType     Granularity = "item-type"
	GranularityStaff        Granularity = "staff"
	GranularityItemInstance Granularity = "item-instance"
)

// ParseGranularity validates a granularity query value.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(s); g {
	case GranularityOrder, GranularityItemType, GranularityStaff, GranularityItemInstance:
		return g, nil
	}
	return "", fmt.Errorf("invalid granularity %q", s)
}

// ItemMatch selects how the item-name report filter is applied.
type ItemMatch string

const (
	ItemMatchContains ItemMatch = "contains"
	ItemMatchExact    ItemMatch = "exact"
)
