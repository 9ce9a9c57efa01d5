package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/enum"
)

// MemoryTracker is a single-process Tracker.
type MemoryTracker struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	beats map[uuid.UUID]beat
}

type beat struct {
	kind enum.Kind
	at   time.Time
}

func NewMemoryTracker(ttl time.Duration) *MemoryTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryTracker{ttl: ttl, now: time.Now, beats: make(map[uuid.UUID]beat)}
}

// WithClock replaces the time source. Used by tests.
func (t *MemoryTracker) WithClock(now func() time.Time) *MemoryTracker {
	t.now = now
	return t
}

func (t *MemoryTracker) live(b beat, now time.Time) bool {
	return !b.at.Before(now.Add(-t.ttl))
}

func (t *MemoryTracker) Heartbeat(_ context.Context, p Preparer) (bool, error) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.beats[p.ID]
	t.beats[p.ID] = beat{kind: p.Kind, at: now}
	return !ok || prev.kind != p.Kind || !t.live(prev, now), nil
}

func (t *MemoryTracker) IsActive(_ context.Context, p Preparer) (bool, error) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.beats[p.ID]
	return ok && b.kind == p.Kind && t.live(b, now), nil
}

func (t *MemoryTracker) ListActive(_ context.Context, kind enum.Kind) ([]uuid.UUID, error) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	var ids []uuid.UUID
	for id, b := range t.beats {
		if b.kind != kind {
			continue
		}
		if !t.live(b, now) {
			delete(t.beats, id)
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}
