package notify

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/enum"
)

func readyEvent(t *testing.T, waiterID uuid.UUID, name string) Event {
	t.Helper()
	e, err := NewEvent(TypeItemReady, ItemReady{
		Kind:        enum.KindDish,
		OrderID:     uuid.New(),
		OrderCode:   "KDS-001",
		ItemName:    name,
		CompletedAt: time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	e.WaiterID = waiterID
	e.Kind = enum.KindDish
	return e
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case e := <-sub.Events():
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	hub := NewHub(0)
	hub.Publish(readyEvent(t, uuid.New(), "Nasi Goreng"))

	if hub.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", hub.Len())
	}
}

func TestPublishScopedToWaiter(t *testing.T) {
	hub := NewHub(4)
	waiter1 := uuid.New()
	waiter2 := uuid.New()

	sub1 := hub.Subscribe(Filter{WaiterID: waiter1})
	defer sub1.Close()
	sub2 := hub.Subscribe(Filter{WaiterID: waiter2})
	defer sub2.Close()

	hub.Publish(readyEvent(t, waiter1, "Sate Ayam"))

	got := receive(t, sub1)
	var payload ItemReady
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ItemName != "Sate Ayam" {
		t.Errorf("item name: got %q, want %q", payload.ItemName, "Sate Ayam")
	}

	select {
	case e := <-sub2.Events():
		t.Fatalf("waiter2 should not receive waiter1 event, got %+v", e)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestFilterMatch(t *testing.T) {
	waiter := uuid.New()
	preparer := uuid.New()
	evt := Event{Type: TypeItemAssigned, WaiterID: waiter, PreparerID: preparer, Kind: enum.KindDrink}

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"wildcard", Filter{}, true},
		{"preparer match", Filter{PreparerID: preparer}, true},
		{"other preparer", Filter{PreparerID: uuid.New()}, false},
		{"kind mismatch", Filter{Kind: enum.KindDish}, false},
		{"type listed", Filter{Types: []string{TypeItemReady, TypeItemAssigned}}, true},
		{"type not listed", Filter{Types: []string{TypeItemReady}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filter.Match(evt); got != tc.want {
				t.Errorf("Match: got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	hub := NewHub(2)
	waiter := uuid.New()
	sub := hub.Subscribe(Filter{WaiterID: waiter})
	defer sub.Close()

	for _, name := range []string{"first", "second", "third"} {
		hub.Publish(readyEvent(t, waiter, name))
	}

	if sub.Dropped() != 1 {
		t.Fatalf("dropped: got %d, want 1", sub.Dropped())
	}

	var names []string
	for i := 0; i < 2; i++ {
		var p ItemReady
		if err := json.Unmarshal(receive(t, sub).Payload, &p); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		names = append(names, p.ItemName)
	}
	if names[0] != "second" || names[1] != "third" {
		t.Errorf("kept events: got %v, want [second third]", names)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	hub := NewHub(1)
	waiter := uuid.New()
	sub := hub.Subscribe(Filter{WaiterID: waiter})
	defer sub.Close()

	evt := readyEvent(t, waiter, "x")
	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					hub.Publish(evt)
				}
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishers blocked on an unread subscriber")
	}
}

func TestCloseUnregisters(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe(Filter{})
	sub.Close()
	sub.Close()

	if hub.Len() != 0 {
		t.Fatalf("expected 0 subscribers after close, got %d", hub.Len())
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("events channel should be closed")
	}

	hub.Publish(readyEvent(t, uuid.New(), "after close"))
}
