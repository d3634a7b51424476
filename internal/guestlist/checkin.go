package guestlist

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"example.com/guestlist/internal/domain"
	"example.com/guestlist/internal/notify"
	"example.com/guestlist/internal/storage"
	"example.com/guestlist/internal/token"
)

// CheckInResult is a committed check-in plus whatever it unlocked.
// Warnings report post-commit steps that failed; the check-in itself
// stands regardless.
type CheckInResult struct {
	Guest    domain.Guest          `json:"guest"`
	Counts   domain.Counts         `json:"counts"`
	Unlocked []domain.UnlockedRule `json:"unlocked,omitempty"`
	Warnings []string              `json:"warnings,omitempty"`
}

// CheckIn redeems a guest's token exactly once. A repeat attempt fails
// with *domain.AlreadyCheckedInError carrying the original timestamp.
func (s *Service) CheckIn(ctx context.Context, redemptionToken string) (res CheckInResult, err error) {
	ctx, end := s.startSpan(ctx, "guestlist.CheckIn")
	defer end(&err)

	fields := domain.ValidateCredential("redemption_token", redemptionToken)
	if len(fields) == 0 && !token.IsRedemption(strings.TrimSpace(redemptionToken)) {
		fields = append(fields, domain.FieldError{Field: "redemption_token", Msg: "malformed"})
	}
	if err := domain.AsValidation(fields); err != nil {
		s.metrics.CheckIn(outcome(err, ""))
		return res, err
	}
	return s.checkIn(ctx, strings.TrimSpace(redemptionToken))
}

// SelfCheckInRequest is a guest checking themselves in from the list's
// public link by the name they were admitted under.
type SelfCheckInRequest struct {
	ShareToken string `json:"share_token"`
	GuestName  string `json:"guest_name"`
}

// SelfCheckIn resolves the share token and the guest's normalized name,
// then follows the same transition as a scanned token. Invite codes are
// not accepted here.
func (s *Service) SelfCheckIn(ctx context.Context, req SelfCheckInRequest) (res CheckInResult, err error) {
	ctx, end := s.startSpan(ctx, "guestlist.SelfCheckIn")
	defer end(&err)

	fields := domain.ValidateCredential("share_token", req.ShareToken)
	fields = append(fields, domain.ValidateGuest(req.GuestName, "")...)
	if err := domain.AsValidation(fields); err != nil {
		s.metrics.CheckIn(outcome(err, ""))
		return res, err
	}

	shareToken := strings.TrimSpace(req.ShareToken)
	g, err := withRetry(ctx, s, "self_checkin_lookup", func() (domain.Guest, error) {
		l, ch, err := s.store.FindListByCredential(ctx, shareToken)
		if err != nil {
			return domain.Guest{}, err
		}
		if ch != domain.ChannelPublicLink {
			return domain.Guest{}, domain.ErrNotFound
		}
		return s.store.FindGuestByName(ctx, l.ID, domain.NormalizeName(req.GuestName))
	})
	if err != nil {
		s.metrics.CheckIn(outcome(err, ""))
		return res, err
	}
	return s.checkIn(ctx, g.RedemptionToken)
}

// CheckInGuest is the staff path: check a guest in by id.
func (s *Service) CheckInGuest(ctx context.Context, guestID string) (res CheckInResult, err error) {
	ctx, end := s.startSpan(ctx, "guestlist.CheckInGuest", attribute.String("guest.id", guestID))
	defer end(&err)

	g, err := withRetry(ctx, s, "get_guest", func() (domain.Guest, error) {
		return s.store.GetGuest(ctx, guestID)
	})
	if err != nil {
		s.metrics.CheckIn(outcome(err, ""))
		return res, err
	}
	return s.checkIn(ctx, g.RedemptionToken)
}

func (s *Service) checkIn(ctx context.Context, redemptionToken string) (CheckInResult, error) {
	committed, err := withRetry(ctx, s, "checkin", func() (storage.CheckInResult, error) {
		return s.store.TransitionCheckIn(ctx, storage.CheckInParams{
			RedemptionToken: redemptionToken,
			Now:             s.clock(),
			Grace:           s.grace,
		})
	})
	s.metrics.CheckIn(outcome(err, "checked_in"))
	if err != nil {
		return CheckInResult{}, err
	}

	g, l := committed.Guest, committed.List
	s.log.Info().
		Str("list_id", l.ID).
		Str("guest_id", g.ID).
		Int("checked_in", committed.Counts.CheckedIn).
		Msg("guest checked in")

	res := CheckInResult{Guest: g, Counts: committed.Counts}
	pg, counts := g.Public(), committed.Counts
	s.publish(notify.Event{
		Type:   notify.EventGuestCheckedIn,
		ListID: l.ID,
		At:     *g.CheckedInAt,
		Guest:  &pg,
		Counts: &counts,
	})

	// Evaluation runs in its own transactions after the check-in commit.
	for _, scope := range []domain.Scope{
		{Kind: domain.ScopeList, ID: l.ID},
		{Kind: domain.ScopeReservation, ID: l.ReservationID},
	} {
		unlocked, err := s.EvaluateRules(ctx, scope)
		if err != nil {
			s.log.Error().Err(err).Str("scope_kind", string(scope.Kind)).Str("scope_id", scope.ID).
				Msg("gift rule evaluation failed after check-in")
			res.Warnings = append(res.Warnings, "gift rule evaluation failed for "+string(scope.Kind)+" "+scope.ID)
			continue
		}
		res.Unlocked = append(res.Unlocked, unlocked...)
	}
	return res, nil
}
