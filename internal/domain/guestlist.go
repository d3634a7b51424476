package domain

import "time"

// Channel records how a guest entered a list.
type Channel string

const (
	ChannelInviteCode Channel = "invite-code"
	ChannelPublicLink Channel = "public-link"
	ChannelStaffAdded Channel = "staff-added"
)


// GuestStatus moves PENDING -> CHECKED_IN exactly once.
type GuestStatus string

const (
	GuestPending   GuestStatus = "PENDING"
	GuestCheckedIn GuestStatus = "CHECKED_IN"
)

// RuleStatus moves PENDING -> UNLOCKED exactly once.
type RuleStatus string

const (
	RulePending  RuleStatus = "PENDING"
	RuleUnlocked RuleStatus = "UNLOCKED"
)

// ScopeKind selects which check-ins count towards a gift rule.
type ScopeKind string

const (
	ScopeList        ScopeKind = "list"
	ScopeReservation ScopeKind = "reservation"
)

func (k ScopeKind) Valid() bool {
	return k == ScopeList || k == ScopeReservation
}

// Scope identifies the set of guests a gift rule counts.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

// List is a capacity-bounded guest list tied to one reservation.
// A nil Capacity means unbounded.
type List struct {
	ID            string     `json:"id"`
	ReservationID string     `json:"reservation_id"`
	OwnerName     string     `json:"owner_name"`
	EventType     string     `json:"event_type,omitempty"`
	EventDate     *time.Time `json:"event_date,omitempty"`
	Capacity      *int       `json:"capacity"`
	InviteCode    string     `json:"invite_code"`
	ShareToken    string     `json:"share_token"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

// ExpiredAt reports whether joins are closed at now. A join at exactly
// ExpiresAt is still accepted.
func (l List) ExpiredAt(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// CheckInClosedAt reports whether the check-in grace window has passed.
func (l List) CheckInClosedAt(now time.Time, grace time.Duration) bool {
	return now.After(l.ExpiresAt.Add(grace))
}

// Guest is a person admitted to a list.
type Guest struct {
	ID              string      `json:"id"`
	ListID          string      `json:"list_id"`
	Name            string      `json:"name"`
	Contact         string      `json:"contact,omitempty"`
	Channel         Channel     `json:"channel"`
	Status          GuestStatus `json:"status"`
	CheckedInAt     *time.Time  `json:"checked_in_at"`
	RedemptionToken string      `json:"redemption_token,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// PublicGuest is the view of a guest shown to anyone holding the share
// link or watching the list: no contact, no redemption token.
type PublicGuest struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Channel     Channel     `json:"channel"`
	Status      GuestStatus `json:"status"`
	CheckedInAt *time.Time  `json:"checked_in_at"`
}

func (g Guest) Public() PublicGuest {
	return PublicGuest{ID: g.ID, Name: g.Name, Channel: g.Channel, Status: g.Status, CheckedInAt: g.CheckedInAt}
}

// GiftRule unlocks once cumulative check-ins for its scope reach Threshold.
type GiftRule struct {
	ID            string     `json:"id"`
	Scope         Scope      `json:"scope"`
	Description   string     `json:"description"`
	Threshold     int        `json:"threshold"`
	Status        RuleStatus `json:"status"`
	UnlockedAt    *time.Time `json:"unlocked_at,omitempty"`
	UnlockedCount *int       `json:"unlocked_count,omitempty"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// UnlockedRule is a rule whose PENDING -> UNLOCKED transition was won by
// the evaluation that returned it.
type UnlockedRule struct {
	Rule  GiftRule `json:"rule"`
	Count int      `json:"count"`
}

// Counts is a point-in-time view of a list's occupancy.
type Counts struct {
	Admitted  int  `json:"admitted"`
	CheckedIn int  `json:"checked_in"`
	Capacity  *int `json:"capacity,omitempty"`
}

// AttendancePercent rounds checked-in over admitted to a whole percentage.
func (c Counts) AttendancePercent() int {
	if c.Admitted == 0 {
		return 0
	}
	return (c.CheckedIn*100 + c.Admitted/2) / c.Admitted
}

// GuestUpdate edits a guest. Nil fields are left unchanged.
type GuestUpdate struct {
	GuestName *string `json:"guest_name,omitempty"`
	Contact   *string `json:"contact,omitempty"`
}

// RuleUpdate edits a pending gift rule. Nil fields are left unchanged.
type RuleUpdate struct {
	Description *string `json:"description,omitempty"`
	Threshold   *int    `json:"threshold,omitempty"`
}

// NewList carries the fields an operator supplies when creating a list.
type NewList struct {
	ReservationID string     `json:"reservation_id"`
	OwnerName     string     `json:"owner_name"`
	EventType     string     `json:"event_type,omitempty"`
	EventDate     *time.Time `json:"event_date,omitempty"`
	Capacity      *int       `json:"capacity,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// NewGiftRule carries the fields of a reward policy.
type NewGiftRule struct {
	ScopeKind   ScopeKind `json:"scope_kind"`
	ScopeID     string    `json:"scope_id"`
	Description string    `json:"description"`
	Threshold   int       `json:"threshold"`
}
