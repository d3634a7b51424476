package guestlist

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"example.com/guestlist/internal/domain"
	"example.com/guestlist/internal/notify"
	"example.com/guestlist/internal/storage"
)

// EvaluateRules unlocks every pending rule of scope whose threshold the
// current check-in count meets and emits one gift-unlocked event per rule
// this call transitioned. Concurrent callers never both report a rule.
func (s *Service) EvaluateRules(ctx context.Context, scope domain.Scope) (unlocked []domain.UnlockedRule, err error) {
	ctx, end := s.startSpan(ctx, "guestlist.EvaluateRules",
		attribute.String("scope.kind", string(scope.Kind)), attribute.String("scope.id", scope.ID))
	defer end(&err)

	if scope.ID == "" {
		return nil, nil
	}
	unlocked, err = withRetry(ctx, s, "evaluate", func() ([]domain.UnlockedRule, error) {
		return s.store.EvaluateRules(ctx, scope, s.clock())
	})
	if err != nil || len(unlocked) == 0 {
		return unlocked, err
	}
	s.metrics.GiftUnlocked(len(unlocked))

	listIDs := []string{scope.ID}
	if scope.Kind == domain.ScopeReservation {
		listIDs, err = s.store.ListIDsForReservation(ctx, scope.ID)
		if err != nil {
			// The unlocks are committed; only the fan-out target is unknown.
			s.log.Error().Err(err).Str("reservation_id", scope.ID).Msg("resolve reservation lists for unlock events")
			listIDs = nil
		}
	}
	counts := s.listCounts(ctx, listIDs)

	for _, u := range unlocked {
		s.log.Info().
			Str("rule_id", u.Rule.ID).
			Str("scope_kind", string(scope.Kind)).
			Str("scope_id", scope.ID).
			Int("threshold", u.Rule.Threshold).
			Int("count", u.Count).
			Msg("gift unlocked")

		for _, listID := range listIDs {
			rule := u.Rule
			s.publish(notify.Event{
				Type:   notify.EventGiftUnlocked,
				ListID: listID,
				At:     *u.Rule.UnlockedAt,
				Rule:   &rule,
				Counts: counts[listID],
			})
		}
	}
	return unlocked, nil
}

// listCounts reads current counts for each list. A list whose counts
// cannot be read maps to nil and its events go out without them.
func (s *Service) listCounts(ctx context.Context, listIDs []string) map[string]*domain.Counts {
	out := make(map[string]*domain.Counts, len(listIDs))
	for _, id := range listIDs {
		c, err := s.store.Counts(ctx, id)
		if err != nil {
			s.log.Warn().Err(err).Str("list_id", id).Msg("read counts for unlock event")
			continue
		}
		out[id] = &c
	}
	return out
}

// CreateRule stores a reward policy and evaluates its scope right away, so
// a threshold that is already met unlocks without waiting for the next
// check-in.
func (s *Service) CreateRule(ctx context.Context, in domain.NewGiftRule) (r domain.GiftRule, err error) {
	ctx, end := s.startSpan(ctx, "guestlist.CreateRule")
	defer end(&err)

	if err := domain.AsValidation(domain.ValidateNewRule(&in)); err != nil {
		return r, err
	}
	if in.ScopeKind == domain.ScopeList {
		if _, err := s.store.GetList(ctx, in.ScopeID); err != nil {
			return r, err
		}
	}

	r = domain.GiftRule{
		ID:          uuid.NewString(),
		Scope:       domain.Scope{Kind: in.ScopeKind, ID: in.ScopeID},
		Description: in.Description,
		Threshold:   in.Threshold,
		Status:      domain.RulePending,
		CreatedAt:   s.clock(),
	}
	if err := s.store.CreateRule(ctx, r); err != nil {
		return domain.GiftRule{}, err
	}
	s.log.Info().Str("rule_id", r.ID).Str("scope_kind", string(in.ScopeKind)).Str("scope_id", in.ScopeID).
		Int("threshold", r.Threshold).Msg("gift rule created")

	unlocked, evalErr := s.EvaluateRules(ctx, r.Scope)
	if evalErr != nil {
		s.log.Warn().Err(evalErr).Str("rule_id", r.ID).Msg("initial evaluation failed")
	}
	for _, u := range unlocked {
		if u.Rule.ID == r.ID {
			r = u.Rule
		}
	}
	return r, nil
}

func (s *Service) GetRule(ctx context.Context, ruleID string) (domain.GiftRule, error) {
	return withRetry(ctx, s, "get_rule", func() (domain.GiftRule, error) {
		return s.store.GetRule(ctx, ruleID)
	})
}

// UpdateRule edits the description or threshold of a rule that has not
// unlocked yet. A lowered threshold that is already met unlocks right away,
// as it would at creation.
func (s *Service) UpdateRule(ctx context.Context, ruleID string, u domain.RuleUpdate) (r domain.GiftRule, err error) {
	ctx, end := s.startSpan(ctx, "guestlist.UpdateRule", attribute.String("rule.id", ruleID))
	defer end(&err)

	if err := domain.AsValidation(domain.ValidateRuleUpdate(&u)); err != nil {
		return r, err
	}
	if u.Description != nil {
		d := strings.TrimSpace(*u.Description)
		u.Description = &d
	}
	r, err = withRetry(ctx, s, "update_rule", func() (domain.GiftRule, error) {
		return s.store.UpdateRule(ctx, storage.RuleEdit{RuleID: ruleID, Description: u.Description, Threshold: u.Threshold})
	})
	if err != nil {
		return r, err
	}
	s.log.Info().Str("rule_id", r.ID).Int("threshold", r.Threshold).Msg("gift rule updated")

	if u.Threshold == nil {
		return r, nil
	}
	unlocked, evalErr := s.EvaluateRules(ctx, r.Scope)
	if evalErr != nil {
		s.log.Warn().Err(evalErr).Str("rule_id", r.ID).Msg("evaluation after update failed")
	}
	for _, ur := range unlocked {
		if ur.Rule.ID == r.ID {
			r = ur.Rule
		}
	}
	return r, nil
}

func (s *Service) ListRules(ctx context.Context, scope domain.Scope) ([]domain.GiftRule, error) {
	var fields []domain.FieldError
	if !scope.Kind.Valid() {
		fields = append(fields, domain.FieldError{Field: "scope_kind", Msg: "must be one of: list, reservation"})
	}
	if scope.ID == "" {
		fields = append(fields, domain.FieldError{Field: "scope_id", Msg: "required"})
	}
	if err := domain.AsValidation(fields); err != nil {
		return nil, err
	}
	return s.store.ListRules(ctx, scope)
}

// DeliverGift records that staff handed over an unlocked gift. It succeeds
// once per rule.
func (s *Service) DeliverGift(ctx context.Context, ruleID string) (r domain.GiftRule, err error) {
	ctx, end := s.startSpan(ctx, "guestlist.DeliverGift", attribute.String("rule.id", ruleID))
	defer end(&err)

	r, err = withRetry(ctx, s, "deliver", func() (domain.GiftRule, error) {
		return s.store.DeliverGift(ctx, ruleID, s.clock())
	})
	if err == nil {
		s.log.Info().Str("rule_id", ruleID).Msg("gift delivered")
	}
	return r, err
}
