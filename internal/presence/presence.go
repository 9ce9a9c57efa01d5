// Package presence tracks which preparers are online, based on heartbeat
// recency. State is soft: entries older than the liveness window simply stop
// counting, nothing is reassigned because a preparer went quiet.
package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/enum"
)

// DefaultTTL is the liveness window used when none is configured.
const DefaultTTL = 30 * time.Second

// Preparer identifies a cook or bartender together with the item kind they handle.
type Preparer struct {
	ID   uuid.UUID
	Kind enum.Kind
}

// Tracker records heartbeats and answers liveness queries.
type Tracker interface {
	// Heartbeat records that p is online now. It reports true when p was not
	// active before this beat.
	Heartbeat(ctx context.Context, p Preparer) (bool, error)
	IsActive(ctx context.Context, p Preparer) (bool, error)
	ListActive(ctx context.Context, kind enum.Kind) ([]uuid.UUID, error)
}
