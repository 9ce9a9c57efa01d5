package notify

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber ring size.
const DefaultBuffer = 16

// Hub fans events out to in-process subscribers. A subscriber that falls
// behind loses its oldest queued events; publishers never wait on readers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Publish delivers e to every subscriber whose filter matches.
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs {
		if s.filter.Match(e) {
			s.offer(e)
		}
	}
}

// Subscribe registers a reader. The caller must Close the subscription.
func (h *Hub) Subscribe(f Filter) *Subscription {
	s := &Subscription{
		hub:    h,
		filter: f,
		ch:     make(chan Event, h.buffer),
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Len returns the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

type Subscription struct {
	hub     *Hub
	filter  Filter
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// Events is closed when the subscription is closed.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped counts events discarded because the ring was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		close(s.ch)
		s.hub.mu.Unlock()
	})
}

// offer runs under the hub read lock, so the channel cannot be closed concurrently.
func (s *Subscription) offer(e Event) {
	select {
	case s.ch <- e:
		return
	default:
	}

	// Full: evict the oldest entry and retry once.
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
}
