package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"example.com/guestlist/internal/domain"
	"example.com/guestlist/internal/storage"
	"example.com/guestlist/internal/token"
)

func (s *Store) CreateList(ctx context.Context, l domain.List) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO guest_lists (id, reservation_id, owner_name, event_type, event_date, capacity,
                         invite_code, share_token, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.ReservationID, l.OwnerName, nullString(l.EventType), nullMillis(l.EventDate), nullInt(l.Capacity),
		l.InviteCode, l.ShareToken, toMillis(l.CreatedAt), toMillis(l.ExpiresAt))
	if uniqueViolation(err, "guest_lists.invite_code") || uniqueViolation(err, "guest_lists.share_token") {
		return storage.ErrCredentialCollision
	}
	if err != nil {
		return fmt.Errorf("insert list: %w", classify(err))
	}
	return nil
}

func (s *Store) GetList(ctx context.Context, id string) (domain.List, error) {
	return getList(ctx, s.sqlDB, id)
}

func getList(ctx context.Context, q querier, id string) (domain.List, error) {
	l, err := scanList(q.QueryRowContext(ctx, `SELECT `+listCols+` FROM guest_lists WHERE id = ?`, id))
	if isNoRows(err) {
		return l, domain.ErrNotFound
	}
	return l, classify(err)
}

func (s *Store) FindListByCredential(ctx context.Context, credential string) (domain.List, domain.Channel, error) {
	var channel string
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+listCols+`, CASE WHEN share_token = ? THEN 'public-link' ELSE 'invite-code' END
FROM guest_lists
WHERE share_token = ? OR invite_code = ?
LIMIT 1`, credential, credential, token.CanonicalInviteCode(credential))
	l, err := scanList(row, &channel)
	if isNoRows(err) {
		return l, "", domain.ErrNotFound
	}
	if err != nil {
		return l, "", classify(err)
	}
	return l, domain.Channel(channel), nil
}

// SetCapacity never evicts: lowering capacity below the admitted count
// only blocks future admissions.
func (s *Store) SetCapacity(ctx context.Context, listID string, capacity *int) (domain.List, error) {
	var out domain.List
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE guest_lists SET capacity = ? WHERE id = ?`, nullInt(capacity), listID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}
		out, err = getList(ctx, tx, listID)
		return err
	})
	return out, err
}

func (s *Store) ListIDsForReservation(ctx context.Context, reservationID string) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id FROM guest_lists WHERE reservation_id = ? ORDER BY created_at`, reservationID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify(err)
		}
		ids = append(ids, id)
	}
	return ids, classify(rows.Err())
}
