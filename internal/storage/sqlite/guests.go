package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"example.com/guestlist/internal/domain"
	"example.com/guestlist/internal/storage"
)

// AdmitGuest holds the database write lock from the capacity read through
// the insert, so the admitted count it checks cannot move underneath it.
func (s *Store) AdmitGuest(ctx context.Context, p storage.AdmitParams) (storage.Admission, error) {
	var out storage.Admission
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		l, err := getList(ctx, tx, p.ListID)
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
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM guests WHERE list_id = ? AND name_key = ?)`,
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
			CreatedAt:       p.Now.UTC(),
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO guests (id, list_id, name, name_key, contact, channel, status, redemption_token, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			g.ID, g.ListID, g.Name, p.NameKey, nullString(g.Contact), string(g.Channel), string(g.Status),
			g.RedemptionToken, toMillis(g.CreatedAt))
		if uniqueViolation(err, "guests.name_key") {
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

func (s *Store) RemoveGuest(ctx context.Context, guestID string) (storage.Removal, error) {
	var out storage.Removal
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		g, err := getGuest(ctx, tx, guestID)
		if err != nil {
			return err
		}
		l, err := getList(ctx, tx, g.ListID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM guests WHERE id = ?`, guestID); err != nil {
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

// UpdateGuest holds the write lock across the uniqueness check and the
// update, the same way AdmitGuest does.
func (s *Store) UpdateGuest(ctx context.Context, e storage.GuestEdit) (domain.Guest, error) {
	var out domain.Guest
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		g, err := getGuest(ctx, tx, e.GuestID)
		if err != nil {
			return err
		}
		nameKey := sql.NullString{}
		if e.Name != nil {
			var taken bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM guests WHERE list_id = ? AND name_key = ? AND id <> ?)`,
				g.ListID, e.NameKey, g.ID).Scan(&taken); err != nil {
				return err
			}
			if taken {
				return domain.ErrDuplicateGuest
			}
			g.Name = *e.Name
			nameKey = sql.NullString{String: e.NameKey, Valid: true}
		}
		if e.Contact != nil {
			g.Contact = *e.Contact
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE guests SET name = ?, name_key = COALESCE(?, name_key), contact = ? WHERE id = ?`,
			g.Name, nameKey, nullString(g.Contact), g.ID)
		if uniqueViolation(err, "guests.name_key") {
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

func (s *Store) TransitionCheckIn(ctx context.Context, p storage.CheckInParams) (storage.CheckInResult, error) {
	var out storage.CheckInResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		g, err := scanGuest(tx.QueryRowContext(ctx,
			`SELECT `+guestCols+` FROM guests WHERE redemption_token = ?`, p.RedemptionToken))
		if isNoRows(err) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if g.Status == domain.GuestCheckedIn {
			return &domain.AlreadyCheckedInError{Guest: g}
		}
		l, err := getList(ctx, tx, g.ListID)
		if err != nil {
			return err
		}
		if l.CheckInClosedAt(p.Now, p.Grace) {
			return domain.ErrExpired
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE guests SET status = 'CHECKED_IN', checked_in_at = ? WHERE id = ? AND status = 'PENDING'`,
			toMillis(p.Now), g.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			winner, err := getGuest(ctx, tx, g.ID)
			if err != nil {
				return err
			}
			return &domain.AlreadyCheckedInError{Guest: winner}
		}

		at := p.Now.UTC()
		g.Status = domain.GuestCheckedIn
		g.CheckedInAt = &at
		counts, err := listCounts(ctx, tx, l)
		if err != nil {
			return err
		}
		out = storage.CheckInResult{Guest: g, List: l, Counts: counts}
		return nil
	})
	if err != nil {
		return storage.CheckInResult{}, err
	}
	return out, nil
}

func (s *Store) GetGuest(ctx context.Context, guestID string) (domain.Guest, error) {
	return getGuest(ctx, s.sqlDB, guestID)
}

func getGuest(ctx context.Context, q querier, id string) (domain.Guest, error) {
	g, err := scanGuest(q.QueryRowContext(ctx, `SELECT `+guestCols+` FROM guests WHERE id = ?`, id))
	if isNoRows(err) {
		return g, domain.ErrNotFound
	}
	return g, classify(err)
}

func (s *Store) FindGuestByName(ctx context.Context, listID, nameKey string) (domain.Guest, error) {
	g, err := scanGuest(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+guestCols+` FROM guests WHERE list_id = ? AND name_key = ?`, listID, nameKey))
	if isNoRows(err) {
		return g, domain.ErrNotFound
	}
	return g, classify(err)
}

func (s *Store) Roster(ctx context.Context, listID string) ([]domain.Guest, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+guestCols+` FROM guests WHERE list_id = ? ORDER BY created_at, id`, listID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []domain.Guest
	for rows.Next() {
		g, err := scanGuest(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, g)
	}
	return out, classify(rows.Err())
}

func (s *Store) Counts(ctx context.Context, listID string) (domain.Counts, error) {
	l, err := s.GetList(ctx, listID)
	if err != nil {
		return domain.Counts{}, err
	}
	c, err := listCounts(ctx, s.sqlDB, l)
	return c, classify(err)
}

func listCounts(ctx context.Context, q querier, l domain.List) (domain.Counts, error) {
	c := domain.Counts{Capacity: l.Capacity}
	err := q.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'CHECKED_IN' THEN 1 ELSE 0 END), 0)
FROM guests
WHERE list_id = ?`, l.ID).Scan(&c.Admitted, &c.CheckedIn)
	if err != nil {
		return c, fmt.Errorf("scan counts: %w", err)
	}
	return c, nil
}
