package notify

import (
	"testing"
	"time"
)

func TestHubFanOut(t *testing.T) {
	h := NewHub(4, nil)
	a := h.Subscribe("l1")
	b := h.Subscribe("l1")
	other := h.Subscribe("l2")
	defer a.Close()
	defer b.Close()
	defer other.Close()

	if n := h.Publish(Event{Type: EventGuestAdmitted, ListID: "l1"}); n != 2 {
		t.Fatalf("delivered to %d subscribers, want 2", n)
	}
	for _, s := range []*Subscription{a, b} {
		select {
		case ev := <-s.C():
			if ev.Type != EventGuestAdmitted {
				t.Fatalf("type = %q", ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
	select {
	case ev := <-other.C():
		t.Fatalf("other list received %+v", ev)
	default:
	}
}

func TestHubDropsWhenSubscriberFull(t *testing.T) {
	h := NewHub(1, nil)
	s := h.Subscribe("l1")
	defer s.Close()

	if n := h.Publish(Event{ListID: "l1"}); n != 1 {
		t.Fatalf("first publish delivered %d", n)
	}
	if n := h.Publish(Event{ListID: "l1"}); n != 0 {
		t.Fatalf("second publish should drop, delivered %d", n)
	}
}

func TestSubscriptionClose(t *testing.T) {
	h := NewHub(1, nil)
	s := h.Subscribe("l1")
	s.Close()
	s.Close()

	if _, ok := <-s.C(); ok {
		t.Fatal("expected closed channel")
	}
	if n := h.Subscribers("l1"); n != 0 {
		t.Fatalf("subscribers = %d", n)
	}
	if n := h.Publish(Event{ListID: "l1"}); n != 0 {
		t.Fatalf("publish after close delivered %d", n)
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	h := NewHub(1, nil)
	if n := h.Publish(Event{ListID: "nobody"}); n != 0 {
		t.Fatalf("delivered %d", n)
	}
}
