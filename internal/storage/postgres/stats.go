package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/guestlist/internal/domain"
)

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func listCounts(ctx context.Context, q querier, l domain.List) (domain.Counts, error) {
	c := domain.Counts{Capacity: l.Capacity}
	err := q.QueryRow(ctx, `
SELECT COUNT(*)::bigint,
       COUNT(*) FILTER (WHERE status = 'CHECKED_IN')::bigint
FROM guests
WHERE list_id = $1`, l.ID).Scan(&c.Admitted, &c.CheckedIn)
	if err != nil {
		return c, fmt.Errorf("scan counts: %w", err)
	}
	return c, nil
}

// scopeCheckIns counts CHECKED_IN guests across a list or every list of a
// reservation.
func scopeCheckIns(ctx context.Context, q querier, scope domain.Scope) (int, error) {
	var sql string
	switch scope.Kind {
	case domain.ScopeList:
		sql = `SELECT COUNT(*)::bigint FROM guests WHERE list_id = $1 AND status = 'CHECKED_IN'`
	case domain.ScopeReservation:
		sql = `
SELECT COUNT(*)::bigint
FROM guests g
JOIN guest_lists l ON l.id = g.list_id
WHERE l.reservation_id = $1 AND g.status = 'CHECKED_IN'`
	default:
		return 0, fmt.Errorf("unknown scope kind %q", scope.Kind)
	}
	var n int
	if err := q.QueryRow(ctx, sql, scope.ID).Scan(&n); err != nil {
		return 0, fmt.Errorf("scan scope count: %w", err)
	}
	return n, nil
}

func (db *DB) Counts(ctx context.Context, listID string) (domain.Counts, error) {
	l, err := db.GetList(ctx, listID)
	if err != nil {
		return domain.Counts{}, err
	}
	c, err := listCounts(ctx, db.Pool, l)
	return c, classify(err)
}

func (db *DB) GetGuest(ctx context.Context, guestID string) (domain.Guest, error) {
	g, err := scanGuest(db.Pool.QueryRow(ctx, `SELECT `+guestCols+` FROM guests WHERE id = $1`, guestID))
	if isNoRows(err) {
		return g, domain.ErrNotFound
	}
	return g, classify(err)
}

func (db *DB) FindGuestByName(ctx context.Context, listID, nameKey string) (domain.Guest, error) {
	g, err := scanGuest(db.Pool.QueryRow(ctx,
		`SELECT `+guestCols+` FROM guests WHERE list_id = $1 AND name_key = $2`, listID, nameKey))
	if isNoRows(err) {
		return g, domain.ErrNotFound
	}
	return g, classify(err)
}

func (db *DB) Roster(ctx context.Context, listID string) ([]domain.Guest, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+guestCols+` FROM guests WHERE list_id = $1 ORDER BY created_at, id`, listID)
	if err != nil {
		return nil, classify(err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Guest, error) {
		return scanGuest(row)
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}
