package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/guestlist/internal/domain"
	"example.com/guestlist/internal/storage"
)

func (db *DB) CreateRule(ctx context.Context, r domain.GiftRule) error {
	_, err := db.Pool.Exec(ctx, `
INSERT INTO gift_rules (id, scope_kind, scope_id, description, threshold, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, string(r.Scope.Kind), r.Scope.ID, r.Description, r.Threshold, string(domain.RulePending), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert rule: %w", classify(err))
	}
	return nil
}

func (db *DB) ListRules(ctx context.Context, scope domain.Scope) ([]domain.GiftRule, error) {
	rows, err := db.Pool.Query(ctx, `
SELECT `+ruleCols+`
FROM gift_rules
WHERE scope_kind = $1 AND scope_id = $2
ORDER BY threshold, created_at, id`, string(scope.Kind), scope.ID)
	if err != nil {
		return nil, classify(err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.GiftRule, error) {
		return scanRule(row)
	})
	return out, classify(err)
}

func (db *DB) GetRule(ctx context.Context, ruleID string) (domain.GiftRule, error) {
	r, err := scanRule(db.Pool.QueryRow(ctx, `SELECT `+ruleCols+` FROM gift_rules WHERE id = $1`, ruleID))
	if isNoRows(err) {
		return r, domain.ErrNotFound
	}
	return r, classify(err)
}

// UpdateRule is conditioned on status = 'PENDING' like the unlock itself,
// so an edit never races an evaluation into changing an unlocked rule.
func (db *DB) UpdateRule(ctx context.Context, e storage.RuleEdit) (domain.GiftRule, error) {
	r, err := scanRule(db.Pool.QueryRow(ctx, `
UPDATE gift_rules
SET description = COALESCE($2, description),
    threshold = COALESCE($3, threshold)
WHERE id = $1 AND status = 'PENDING'
RETURNING `+ruleCols, e.RuleID, e.Description, e.Threshold))
	if err == nil {
		return r, nil
	}
	if !isNoRows(err) {
		return r, classify(err)
	}
	if _, err := db.GetRule(ctx, e.RuleID); err != nil {
		return domain.GiftRule{}, err
	}
	return domain.GiftRule{}, domain.ErrRuleLocked
}

// EvaluateRules runs after the triggering check-in has committed, so the
// count it reads always includes that check-in. Candidates are claimed in
// a fixed order (threshold, created_at, id) so concurrent evaluators lock
// rule rows in the same sequence.
func (db *DB) EvaluateRules(ctx context.Context, scope domain.Scope, now time.Time) ([]domain.UnlockedRule, error) {
	var out []domain.UnlockedRule
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		out = nil
		count, err := scopeCheckIns(ctx, tx, scope)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `
SELECT `+ruleCols+`
FROM gift_rules
WHERE scope_kind = $1 AND scope_id = $2 AND status = 'PENDING' AND threshold <= $3
ORDER BY threshold, created_at, id`, string(scope.Kind), scope.ID, count)
		if err != nil {
			return err
		}
		candidates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.GiftRule, error) {
			return scanRule(row)
		})
		if err != nil {
			return err
		}

		for _, r := range candidates {
			tag, err := tx.Exec(ctx, `
UPDATE gift_rules SET status = 'UNLOCKED', unlocked_at = $2, unlocked_count = $3
WHERE id = $1 AND status = 'PENDING'`, r.ID, now, count)
			if err != nil {
				return err
			}
			if tag.RowsAffected() != 1 {
				continue // claimed by a concurrent evaluation
			}
			at, n := now, count
			r.Status = domain.RuleUnlocked
			r.UnlockedAt = &at
			r.UnlockedCount = &n
			out = append(out, domain.UnlockedRule{Rule: r, Count: count})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (db *DB) DeliverGift(ctx context.Context, ruleID string, now time.Time) (domain.GiftRule, error) {
	r, err := scanRule(db.Pool.QueryRow(ctx, `
UPDATE gift_rules SET delivered_at = $2
WHERE id = $1 AND status = 'UNLOCKED' AND delivered_at IS NULL
RETURNING `+ruleCols, ruleID, now))
	if err == nil {
		return r, nil
	}
	if !isNoRows(err) {
		return r, classify(err)
	}

	cur, err := scanRule(db.Pool.QueryRow(ctx, `SELECT `+ruleCols+` FROM gift_rules WHERE id = $1`, ruleID))
	switch {
	case isNoRows(err):
		return cur, domain.ErrNotFound
	case err != nil:
		return cur, classify(err)
	case cur.Status != domain.RuleUnlocked:
		return cur, domain.ErrNotUnlocked
	default:
		return cur, domain.ErrAlreadyDelivered
	}
}
