package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"example.com/guestlist/internal/domain"
	"example.com/guestlist/internal/storage"
)

func (s *Store) CreateRule(ctx context.Context, r domain.GiftRule) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO gift_rules (id, scope_kind, scope_id, description, threshold, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Scope.Kind), r.Scope.ID, r.Description, r.Threshold, string(domain.RulePending),
		toMillis(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert rule: %w", classify(err))
	}
	return nil
}

func (s *Store) ListRules(ctx context.Context, scope domain.Scope) ([]domain.GiftRule, error) {
	return queryRules(ctx, s.sqlDB, `
SELECT `+ruleCols+`
FROM gift_rules
WHERE scope_kind = ? AND scope_id = ?
ORDER BY threshold, created_at, id`, string(scope.Kind), scope.ID)
}

func (s *Store) GetRule(ctx context.Context, ruleID string) (domain.GiftRule, error) {
	return getRule(ctx, s.sqlDB, ruleID)
}

func getRule(ctx context.Context, q querier, id string) (domain.GiftRule, error) {
	r, err := scanRule(q.QueryRowContext(ctx, `SELECT `+ruleCols+` FROM gift_rules WHERE id = ?`, id))
	if isNoRows(err) {
		return r, domain.ErrNotFound
	}
	return r, classify(err)
}

func (s *Store) UpdateRule(ctx context.Context, e storage.RuleEdit) (domain.GiftRule, error) {
	var out domain.GiftRule
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		r, err := getRule(ctx, tx, e.RuleID)
		if err != nil {
			return err
		}
		if r.Status != domain.RulePending {
			return domain.ErrRuleLocked
		}
		if e.Description != nil {
			r.Description = *e.Description
		}
		if e.Threshold != nil {
			r.Threshold = *e.Threshold
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE gift_rules SET description = ?, threshold = ? WHERE id = ? AND status = 'PENDING'`,
			r.Description, r.Threshold, r.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return domain.ErrRuleLocked
		}
		out = r
		return nil
	})
	if err != nil {
		return domain.GiftRule{}, err
	}
	return out, nil
}

type rowsQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryRules(ctx context.Context, q rowsQuerier, query string, args ...any) ([]domain.GiftRule, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []domain.GiftRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, r)
	}
	return out, classify(rows.Err())
}

func scopeCheckIns(ctx context.Context, q querier, scope domain.Scope) (int, error) {
	var query string
	switch scope.Kind {
	case domain.ScopeList:
		query = `SELECT COUNT(*) FROM guests WHERE list_id = ? AND status = 'CHECKED_IN'`
	case domain.ScopeReservation:
		query = `
SELECT COUNT(*)
FROM guests g
JOIN guest_lists l ON l.id = g.list_id
WHERE l.reservation_id = ? AND g.status = 'CHECKED_IN'`
	default:
		return 0, fmt.Errorf("unknown scope kind %q", scope.Kind)
	}
	var n int
	if err := q.QueryRowContext(ctx, query, scope.ID).Scan(&n); err != nil {
		return 0, fmt.Errorf("scan scope count: %w", err)
	}
	return n, nil
}

func (s *Store) EvaluateRules(ctx context.Context, scope domain.Scope, now time.Time) ([]domain.UnlockedRule, error) {
	var out []domain.UnlockedRule
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		out = nil
		count, err := scopeCheckIns(ctx, tx, scope)
		if err != nil {
			return err
		}
		candidates, err := queryRules(ctx, tx, `
SELECT `+ruleCols+`
FROM gift_rules
WHERE scope_kind = ? AND scope_id = ? AND status = 'PENDING' AND threshold <= ?
ORDER BY threshold, created_at, id`, string(scope.Kind), scope.ID, count)
		if err != nil {
			return err
		}

		for _, r := range candidates {
			res, err := tx.ExecContext(ctx, `
UPDATE gift_rules SET status = 'UNLOCKED', unlocked_at = ?, unlocked_count = ?
WHERE id = ? AND status = 'PENDING'`, toMillis(now), count, r.ID)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n != 1 {
				continue
			}
			at, c := now.UTC(), count
			r.Status = domain.RuleUnlocked
			r.UnlockedAt = &at
			r.UnlockedCount = &c
			out = append(out, domain.UnlockedRule{Rule: r, Count: count})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeliverGift(ctx context.Context, ruleID string, now time.Time) (domain.GiftRule, error) {
	var out domain.GiftRule
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		r, err := scanRule(tx.QueryRowContext(ctx, `SELECT `+ruleCols+` FROM gift_rules WHERE id = ?`, ruleID))
		if isNoRows(err) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		out = r
		if r.Status != domain.RuleUnlocked {
			return domain.ErrNotUnlocked
		}
		if r.DeliveredAt != nil {
			return domain.ErrAlreadyDelivered
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE gift_rules SET delivered_at = ? WHERE id = ? AND delivered_at IS NULL`, toMillis(now), ruleID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return domain.ErrAlreadyDelivered
		}
		at := now.UTC()
		out.DeliveredAt = &at
		return nil
	})
	return out, err
}
