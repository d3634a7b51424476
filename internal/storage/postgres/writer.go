package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/guestlist/internal/domain"
	"example.com/guestlist/internal/storage"
	"example.com/guestlist/internal/token"
)

func (db *DB) CreateList(ctx context.Context, l domain.List) error {
	_, err := db.Pool.Exec(ctx, `
INSERT INTO guest_lists (id, reservation_id, owner_name, event_type, event_date, capacity,
                         invite_code, share_token, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.ReservationID, l.OwnerName, nullString(l.EventType), l.EventDate, l.Capacity,
		l.InviteCode, l.ShareToken, l.CreatedAt, l.ExpiresAt)
	if uniqueViolation(err, "guest_lists_invite_code_key") || uniqueViolation(err, "guest_lists_share_token_key") {
		return storage.ErrCredentialCollision
	}
	if err != nil {
		return fmt.Errorf("insert list: %w", classify(err))
	}
	return nil
}

func (db *DB) GetList(ctx context.Context, id string) (domain.List, error) {
	l, err := scanList(db.Pool.QueryRow(ctx, `SELECT `+listCols+` FROM guest_lists WHERE id = $1`, id))
	if isNoRows(err) {
		return l, domain.ErrNotFound
	}
	return l, classify(err)
}

func (db *DB) FindListByCredential(ctx context.Context, credential string) (domain.List, domain.Channel, error) {
	row := db.Pool.QueryRow(ctx, `
SELECT `+listCols+`, CASE WHEN share_token = $1 THEN 'public-link' ELSE 'invite-code' END
FROM guest_lists
WHERE share_token = $1 OR invite_code = $2
LIMIT 1`, credential, token.CanonicalInviteCode(credential))

	var (
		l       domain.List
		channel string
	)
	err := row.Scan(&l.ID, &l.ReservationID, &l.OwnerName, &l.EventType, &l.EventDate, &l.Capacity,
		&l.InviteCode, &l.ShareToken, &l.CreatedAt, &l.ExpiresAt, &channel)
	if isNoRows(err) {
		return l, "", domain.ErrNotFound
	}
	if err != nil {
		return l, "", classify(err)
	}
	l.CreatedAt, l.ExpiresAt, l.EventDate = l.CreatedAt.UTC(), l.ExpiresAt.UTC(), utcPtr(l.EventDate)
	return l, domain.Channel(channel), nil
}

// SetCapacity never evicts: lowering capacity below the admitted count
// only blocks future admissions.
func (db *DB) SetCapacity(ctx context.Context, listID string, capacity *int) (domain.List, error) {
	l, err := scanList(db.Pool.QueryRow(ctx,
		`UPDATE guest_lists SET capacity = $2 WHERE id = $1 RETURNING `+listCols, listID, capacity))
	if isNoRows(err) {
		return l, domain.ErrNotFound
	}
	return l, classify(err)
}

func (db *DB) ListIDsForReservation(ctx context.Context, reservationID string) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `SELECT id FROM guest_lists WHERE reservation_id = $1 ORDER BY created_at`, reservationID)
	if err != nil {
		return nil, classify(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, classify(err)
}

// AdmitGuest serializes admissions per list on the list row lock. Two
// admissions for the same list queue behind each other; admissions for
// different lists never touch the same row.
func (db *DB) AdmitGuest(ctx context.Context, p storage.AdmitParams) (storage.Admission, error) {
	var out storage.Admission
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		l, err := scanList(tx.QueryRow(ctx, `SELECT `+listCols+` FROM guest_lists WHERE id = $1 FOR UPDATE`, p.ListID))
		if isNoRows(err) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if l.ExpiredAt(p.Now) {
			return domain.ErrExpired
		}

		counts, err := listCounts(ctx, tx, l)
		if err != nil {
			return err
		}
		if l.Capacity != nil && counts.Admitted >= *l.Capacity {
			return domain.ErrCapacityExceeded
		}

		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM guests WHERE list_id = $1 AND name_key = $2)`,
			l.ID, p.NameKey).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return domain.ErrDuplicateGuest
		}

		g := domain.Guest{
			ID:              p.GuestID,
			ListID:          l.ID,
			Name:            p.Name,
			Contact:         p.Contact,
			Channel:         p.Channel,
			Status:          domain.GuestPending,
			RedemptionToken: p.RedemptionToken,
			CreatedAt:       p.Now,
		}
		_, err = tx.Exec(ctx, `
INSERT INTO guests (id, list_id, name, name_key, contact, channel, status, redemption_token, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			g.ID, g.ListID, g.Name, p.NameKey, nullString(g.Contact), string(g.Channel), string(g.Status),
			g.RedemptionToken, g.CreatedAt)
		if uniqueViolation(err, "guests_list_name_key") {
			return domain.ErrDuplicateGuest
		}
		if err != nil {
			return err
		}

		counts.Admitted++
		out = storage.Admission{Guest: g, List: l, Counts: counts}
		return nil
	})
	if err != nil {
		return storage.Admission{}, err
	}
	return out, nil
}

func (db *DB) RemoveGuest(ctx context.Context, guestID string) (storage.Removal, error) {
	var out storage.Removal
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		var listID string
		err := tx.QueryRow(ctx, `SELECT list_id FROM guests WHERE id = $1`, guestID).Scan(&listID)
		if isNoRows(err) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		l, err := scanList(tx.QueryRow(ctx, `SELECT `+listCols+` FROM guest_lists WHERE id = $1 FOR UPDATE`, listID))
		if err != nil {
			return err
		}
		g, err := scanGuest(tx.QueryRow(ctx, `DELETE FROM guests WHERE id = $1 RETURNING `+guestCols, guestID))
		if isNoRows(err) {
			// Removed concurrently while we waited for the list lock.
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		counts, err := listCounts(ctx, tx, l)
		if err != nil {
			return err
		}
		out = storage.Removal{Guest: g, Counts: counts}
		return nil
	})
	if err != nil {
		return storage.Removal{}, err
	}
	return out, nil
}

// UpdateGuest locks the guest's list row like AdmitGuest, so a rename and
// a concurrent admission of the same name cannot both succeed.
func (db *DB) UpdateGuest(ctx context.Context, e storage.GuestEdit) (domain.Guest, error) {
	var out domain.Guest
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		var listID string
		err := tx.QueryRow(ctx, `SELECT list_id FROM guests WHERE id = $1`, e.GuestID).Scan(&listID)
		if isNoRows(err) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `SELECT 1 FROM guest_lists WHERE id = $1 FOR UPDATE`, listID); err != nil {
			return err
		}
		if e.Name != nil {
			var taken bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM guests WHERE list_id = $1 AND name_key = $2 AND id <> $3)`,
				listID, e.NameKey, e.GuestID).Scan(&taken); err != nil {
				return err
			}
			if taken {
				return domain.ErrDuplicateGuest
			}
		}

		var nameKey *string
		if e.Name != nil {
			nameKey = &e.NameKey
		}
		g, err := scanGuest(tx.QueryRow(ctx, `
UPDATE guests
SET name = COALESCE($2, name),
    name_key = COALESCE($3, name_key),
    contact = CASE WHEN $4::boolean THEN NULLIF($5, '') ELSE contact END
WHERE id = $1
RETURNING `+guestCols, e.GuestID, e.Name, nameKey, e.Contact != nil, derefString(e.Contact)))
		if isNoRows(err) {
			return domain.ErrNotFound
		}
		if uniqueViolation(err, "guests_list_name_key") {
			return domain.ErrDuplicateGuest
		}
		if err != nil {
			return err
		}
		out = g
		return nil
	})
	if err != nil {
		return domain.Guest{}, err
	}
	return out, nil
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
