package sqlite

import (
	"database/sql"

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

func scanList(row rowScanner, extra ...any) (domain.List, error) {
	var (
		l                    domain.List
		eventDate, capacity  sql.NullInt64
		createdAt, expiresAt int64
	)
	dest := []any{&l.ID, &l.ReservationID, &l.OwnerName, &l.EventType, &eventDate, &capacity,
		&l.InviteCode, &l.ShareToken, &createdAt, &expiresAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return l, err
	}
	l.EventDate = millisPtr(eventDate)
	l.Capacity = intPtr(capacity)
	l.CreatedAt = fromMillis(createdAt)
	l.ExpiresAt = fromMillis(expiresAt)
	return l, nil
}

func scanGuest(row rowScanner) (domain.Guest, error) {
	var (
		g               domain.Guest
		channel, status string
		checkedInAt     sql.NullInt64
		createdAt       int64
	)
	err := row.Scan(&g.ID, &g.ListID, &g.Name, &g.Contact, &channel, &status, &checkedInAt,
		&g.RedemptionToken, &createdAt)
	if err != nil {
		return g, err
	}
	g.Channel = domain.Channel(channel)
	g.Status = domain.GuestStatus(status)
	g.CheckedInAt = millisPtr(checkedInAt)
	g.CreatedAt = fromMillis(createdAt)
	return g, nil
}

func scanRule(row rowScanner) (domain.GiftRule, error) {
	var (
		r                                      domain.GiftRule
		scopeKind, status                      string
		unlockedAt, unlockedCount, deliveredAt sql.NullInt64
		createdAt                              int64
	)
	err := row.Scan(&r.ID, &scopeKind, &r.Scope.ID, &r.Description, &r.Threshold, &status, &unlockedAt,
		&unlockedCount, &deliveredAt, &createdAt)
	if err != nil {
		return r, err
	}
	r.Scope.Kind = domain.ScopeKind(scopeKind)
	r.Status = domain.RuleStatus(status)
	r.UnlockedAt = millisPtr(unlockedAt)
	r.UnlockedCount = intPtr(unlockedCount)
	r.DeliveredAt = millisPtr(deliveredAt)
	r.CreatedAt = fromMillis(createdAt)
	return r, nil
}
