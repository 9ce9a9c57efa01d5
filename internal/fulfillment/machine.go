package fulfillment

import (
	"fmt"

	"github.com/kiwari-pos/kds/internal/enum"
)

// transitions is the complete item state machine. Any (state, action) pair
// missing from the table is rejected.
var transitions = map[enum.ItemState]map[enum.Action]enum.ItemState{
	enum.ItemStatePending: {
		enum.ActionAssign: enum.ItemStateAssigned,
	},
	enum.ItemStateAssigned: {
		enum.ActionStart:  enum.ItemStatePreparing,
		enum.ActionReject: enum.ItemStatePending,
	},
	enum.ItemStatePreparing: {
		enum.ActionReject:   enum.ItemStatePending,
		enum.ActionComplete: enum.ItemStateReady,
	},
	enum.ItemStateReady: {
		enum.ActionComplete: enum.ItemStateReady,
	},
}

// Next returns the state reached by applying action in state from.
func Next(from enum.ItemState, action enum.Action) (enum.ItemState, error) {
	if to, ok := transitions[from][action]; ok {
		return to, nil
	}
	return "", fmt.Errorf("%w: cannot %s an item in state %s", ErrInvalidTransition, action, from)
}
