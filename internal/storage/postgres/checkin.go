package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"example.com/guestlist/internal/domain"
	"example.com/guestlist/internal/storage"
)

// TransitionCheckIn relies on the conditional UPDATE for linearizability:
// concurrent attempts block on the guest row, and once the winner commits
// the others re-evaluate "status = 'PENDING'" against the new row version
// and update nothing.
func (db *DB) TransitionCheckIn(ctx context.Context, p storage.CheckInParams) (storage.CheckInResult, error) {
	var out storage.CheckInResult
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		g, err := scanGuest(tx.QueryRow(ctx, `SELECT `+guestCols+` FROM guests WHERE redemption_token = $1`, p.RedemptionToken))
		if isNoRows(err) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if g.Status == domain.GuestCheckedIn {
			return &domain.AlreadyCheckedInError{Guest: g}
		}

		l, err := scanList(tx.QueryRow(ctx, `SELECT `+listCols+` FROM guest_lists WHERE id = $1`, g.ListID))
		if err != nil {
			return err
		}
		if l.CheckInClosedAt(p.Now, p.Grace) {
			return domain.ErrExpired
		}

		tag, err := tx.Exec(ctx,
			`UPDATE guests SET status = 'CHECKED_IN', checked_in_at = $2 WHERE id = $1 AND status = 'PENDING'`,
			g.ID, p.Now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			winner, err := scanGuest(tx.QueryRow(ctx, `SELECT `+guestCols+` FROM guests WHERE id = $1`, g.ID))
			if isNoRows(err) {
				return domain.ErrNotFound
			}
			if err != nil {
				return err
			}
			return &domain.AlreadyCheckedInError{Guest: winner}
		}

		at := p.Now
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
