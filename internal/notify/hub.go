package notify

import (
	"context"
	"sync"

	"example.com/guestlist/internal/telemetry"
)

// Hub is the process-local subscriber registry keyed by list id.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	buffer  int
	metrics *telemetry.Metrics
}

func NewHub(buffer int, metrics *telemetry.Metrics) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:    make(map[string]map[*Subscription]struct{}),
		buffer:  buffer,
		metrics: metrics,
	}
}

// Subscription receives events for one list until Close.
type Subscription struct {
	ListID string
	ch     chan Event
	hub    *Hub
	once   sync.Once
}

// C is closed when the subscription is closed.
func (s *Subscription) C() <-chan Event { return s.ch }

func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		if set, ok := h.subs[s.ListID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.ListID)
			}
		}
		close(s.ch)
		h.mu.Unlock()
		h.metrics.SubscriberRemoved()
	})
}

func (h *Hub) Subscribe(listID string) *Subscription {
	s := &Subscription{ListID: listID, ch: make(chan Event, h.buffer), hub: h}
	h.mu.Lock()
	set, ok := h.subs[listID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[listID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	h.metrics.SubscriberAdded()
	return s
}

// Publish hands ev to every current subscriber of ev.ListID without
// blocking. It returns how many subscribers received it.
func (h *Hub) Publish(ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for s := range h.subs[ev.ListID] {
		select {
		case s.ch <- ev:
			n++
		default:
			h.metrics.EventDropped("subscriber_full")
		}
	}
	return n
}

// Subscribers reports the live subscription count for a list.
func (h *Hub) Subscribers(listID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[listID])
}

// Deliver makes the hub a dispatcher sink.
func (h *Hub) Deliver(_ context.Context, batch []Event) error {
	for _, ev := range batch {
		h.Publish(ev)
	}
	return nil
}
