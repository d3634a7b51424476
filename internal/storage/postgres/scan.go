package postgres

import (
	"time"

	"example.com/guestlist/internal/domain"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const listCols = `id, reservation_id, owner_name, COALESCE(event_type, ''), event_date, capacity,
       invite_code, share_token, created_at, expires_at`

const guestCols = `id, list_id, name, COALESCE(contact, ''), channel, status, checked_in_at,
       redemption_token, created_at`

const ruleCols = `id, scope_kind, scope_id, description, threshold, status, unlocked_at,
       unlocked_count, delivered_at, created_at`

func scanList(row rowScanner) (domain.List, error) {
	var l domain.List
	err := row.Scan(&l.ID, &l.ReservationID, &l.OwnerName, &l.EventType, &l.EventDate, &l.Capacity,
		&l.InviteCode, &l.ShareToken, &l.CreatedAt, &l.ExpiresAt)
	if err != nil {
		return l, err
	}
	l.CreatedAt = l.CreatedAt.UTC()
	l.ExpiresAt = l.ExpiresAt.UTC()
	l.EventDate = utcPtr(l.EventDate)
	return l, nil
}

func scanGuest(row rowScanner) (domain.Guest, error) {
	var (
		g               domain.Guest
		channel, status string
	)
	err := row.Scan(&g.ID, &g.ListID, &g.Name, &g.Contact, &channel, &status, &g.CheckedInAt,
		&g.RedemptionToken, &g.CreatedAt)
	if err != nil {
		return g, err
	}
	g.Channel = domain.Channel(channel)
	g.Status = domain.GuestStatus(status)
	g.CheckedInAt = utcPtr(g.CheckedInAt)
	g.CreatedAt = g.CreatedAt.UTC()
	return g, nil
}

func scanRule(row rowScanner) (domain.GiftRule, error) {
	var (
		r               domain.GiftRule
		scopeKind, stat string
	)
	err := row.Scan(&r.ID, &scopeKind, &r.Scope.ID, &r.Description, &r.Threshold, &stat, &r.UnlockedAt,
		&r.UnlockedCount, &r.DeliveredAt, &r.CreatedAt)
	if err != nil {
		return r, err
	}
	r.Scope.Kind = domain.ScopeKind(scopeKind)
	r.Status = domain.RuleStatus(stat)
	r.UnlockedAt = utcPtr(r.UnlockedAt)
	r.DeliveredAt = utcPtr(r.DeliveredAt)
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
