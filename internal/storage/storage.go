// Package storage defines the transactional boundary of the guest list
// engine. Every write that guards an invariant (capacity per list, one-way
// guest status, one-way rule status) happens inside one Store method, so
// the locking discipline lives in the backend rather than in callers.
package storage

import (
	"context"
	"errors"
	"time"

	"example.com/guestlist/internal/domain"
)

// AdmitParams describes one admission attempt. ID and RedemptionToken are
// minted by the caller; the store only persists them.
type AdmitParams struct {
	ListID          string
	GuestID         string
	Name            string
	NameKey         string
	Contact         string
	Channel         domain.Channel
	RedemptionToken string
	Now             time.Time
}

// Admission is the committed result of AdmitGuest.
type Admission struct {
	Guest  domain.Guest
	List   domain.List
	Counts domain.Counts
}

// CheckInParams describes one check-in attempt.
type CheckInParams struct {
	RedemptionToken string
	Now             time.Time
	// Grace extends the list expiry for check-in of admitted guests.
	Grace time.Duration
}

// CheckInResult is the committed result of TransitionCheckIn.
type CheckInResult struct {
	Guest  domain.Guest
	List   domain.List
	Counts domain.Counts
}

// GuestEdit describes a guest update. A nil Name leaves the name (and its
// NameKey) untouched; a nil Contact leaves the contact untouched.
type GuestEdit struct {
	GuestID string
	Name    *string
	NameKey string
	Contact *string
}

// RuleEdit describes an update of a pending rule.
type RuleEdit struct {
	RuleID      string
	Description *string
	Threshold   *int
}

// Removal is the committed result of RemoveGuest.
type Removal struct {
	Guest  domain.Guest
	Counts domain.Counts
}

// Store is implemented by the postgres and sqlite backends.
//
// Errors: domain sentinels for business outcomes (ErrNotFound, ErrExpired,
// ErrCapacityExceeded, ErrDuplicateGuest, *AlreadyCheckedInError, ...);
// errors wrapping domain.ErrBusy for lock waits that timed out, deadlocks,
// serialization failures and unavailable connections; anything else is fatal.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	CreateList(ctx context.Context, l domain.List) error
	GetList(ctx context.Context, id string) (domain.List, error)
	// FindListByCredential resolves an invite code or a share token and
	// reports which admission channel it belongs to.
	FindListByCredential(ctx context.Context, credential string) (domain.List, domain.Channel, error)
	SetCapacity(ctx context.Context, listID string, capacity *int) (domain.List, error)
	ListIDsForReservation(ctx context.Context, reservationID string) ([]string, error)

	// AdmitGuest locks the list, re-reads its admitted count and inserts the
	// guest only if capacity, expiry and name uniqueness all hold.
	AdmitGuest(ctx context.Context, p AdmitParams) (Admission, error)
	// RemoveGuest takes the same list lock as AdmitGuest.
	RemoveGuest(ctx context.Context, guestID string) (Removal, error)
	// UpdateGuest also takes the list lock, so a rename re-checks name
	// uniqueness against concurrent admissions.
	UpdateGuest(ctx context.Context, e GuestEdit) (domain.Guest, error)
	GetGuest(ctx context.Context, guestID string) (domain.Guest, error)
	// FindGuestByName looks a guest up by normalized name within a list.
	FindGuestByName(ctx context.Context, listID, nameKey string) (domain.Guest, error)
	Roster(ctx context.Context, listID string) ([]domain.Guest, error)
	Counts(ctx context.Context, listID string) (domain.Counts, error)

	// TransitionCheckIn flips PENDING -> CHECKED_IN conditioned on the
	// status still being PENDING at write time.
	TransitionCheckIn(ctx context.Context, p CheckInParams) (CheckInResult, error)

	CreateRule(ctx context.Context, r domain.GiftRule) error
	ListRules(ctx context.Context, scope domain.Scope) ([]domain.GiftRule, error)
	GetRule(ctx context.Context, ruleID string) (domain.GiftRule, error)
	// UpdateRule edits a rule only while it is PENDING; otherwise it fails
	// with domain.ErrRuleLocked.
	UpdateRule(ctx context.Context, e RuleEdit) (domain.GiftRule, error)
	// EvaluateRules unlocks every PENDING rule of scope whose threshold is
	// met, one compare-and-swap per rule, and returns only the rules this
	// call transitioned.
	EvaluateRules(ctx context.Context, scope domain.Scope, now time.Time) ([]domain.UnlockedRule, error)
	DeliverGift(ctx context.Context, ruleID string, now time.Time) (domain.GiftRule, error)
}

// ErrCredentialCollision is returned by CreateList when a freshly minted
// invite code or share token already exists. Callers mint new ones and retry.
var ErrCredentialCollision = errors.New("credential already in use")
