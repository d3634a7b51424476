// Package notify fans committed guest list changes out to live watchers.
// Delivery is best effort: events are never persisted, never replayed, and
// a slow or absent watcher loses events rather than slowing a writer.
package notify

import (
	"time"

	"example.com/guestlist/internal/domain"
)

type EventType string

const (
	EventSnapshot       EventType = "snapshot"
	EventGuestAdmitted  EventType = "guest-admitted"
	EventGuestCheckedIn EventType = "guest-checked-in"
	EventGiftUnlocked   EventType = "gift-unlocked"
	EventGuestRemoved   EventType = "guest-removed"
	EventGuestUpdated   EventType = "guest-updated"
)

// Event is the wire shape sent to watchers and relayed between nodes.
type Event struct {
	Type   EventType           `json:"type"`
	ListID string              `json:"list_id"`
	At     time.Time           `json:"at"`
	Guest  *domain.PublicGuest `json:"guest,omitempty"`
	Rule   *domain.GiftRule    `json:"rule,omitempty"`
	Counts *domain.Counts      `json:"counts,omitempty"`
	// Origin is the node that committed the change.
	Origin string `json:"origin,omitempty"`
}
