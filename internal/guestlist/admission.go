package guestlist

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"example.com/guestlist/internal/domain"
	"example.com/guestlist/internal/notify"
	"example.com/guestlist/internal/storage"
	"example.com/guestlist/internal/token"
)

// AdmitRequest is a self-service join through an invite code or a public
// share link.
type AdmitRequest struct {
	Credential string `json:"invite_code_or_token"`
	GuestName  string `json:"guest_name"`
	Contact    string `json:"contact,omitempty"`
}

// Admit resolves the credential to a list and admits the guest through the
// channel the credential belongs to.
func (s *Service) Admit(ctx context.Context, req AdmitRequest) (adm storage.Admission, err error) {
	ctx, end := s.startSpan(ctx, "guestlist.Admit")
	defer end(&err)

	fields := domain.ValidateCredential("invite_code_or_token", req.Credential)
	fields = append(fields, domain.ValidateGuest(req.GuestName, req.Contact)...)
	if err := domain.AsValidation(fields); err != nil {
		s.metrics.Admission(outcome(err, ""))
		return adm, err
	}

	type resolved struct {
		list    domain.List
		channel domain.Channel
	}
	cred := strings.TrimSpace(req.Credential)
	r, err := withRetry(ctx, s, "resolve", func() (resolved, error) {
		l, ch, err := s.store.FindListByCredential(ctx, cred)
		return resolved{l, ch}, err
	})
	if err != nil {
		s.metrics.Admission(outcome(err, ""))
		return adm, err
	}
	return s.admit(ctx, r.list.ID, req.GuestName, req.Contact, r.channel)
}

// AdmitByStaff adds a guest directly to a list, bypassing credentials.
// Capacity, expiry and name uniqueness still apply.
func (s *Service) AdmitByStaff(ctx context.Context, listID, name, contact string) (adm storage.Admission, err error) {
	ctx, end := s.startSpan(ctx, "guestlist.AdmitByStaff", attribute.String("list.id", listID))
	defer end(&err)

	if err := domain.AsValidation(domain.ValidateGuest(name, contact)); err != nil {
		s.metrics.Admission(outcome(err, ""))
		return adm, err
	}
	return s.admit(ctx, listID, name, contact, domain.ChannelStaffAdded)
}

func (s *Service) admit(ctx context.Context, listID, name, contact string, channel domain.Channel) (storage.Admission, error) {
	p := storage.AdmitParams{
		ListID:          listID,
		GuestID:         uuid.NewString(),
		Name:            domain.DisplayName(name),
		NameKey:         domain.NormalizeName(name),
		Contact:         strings.TrimSpace(contact),
		Channel:         channel,
		RedemptionToken: token.Redemption(),
	}
	adm, err := withRetry(ctx, s, "admit", func() (storage.Admission, error) {
		p.Now = s.clock()
		return s.store.AdmitGuest(ctx, p)
	})
	s.metrics.Admission(outcome(err, "admitted"))
	if err != nil {
		s.log.Info().Err(err).Str("list_id", listID).Str("channel", string(channel)).Msg("admission rejected")
		return storage.Admission{}, err
	}

	s.log.Info().
		Str("list_id", listID).
		Str("guest_id", adm.Guest.ID).
		Str("channel", string(channel)).
		Int("admitted", adm.Counts.Admitted).
		Msg("guest admitted")

	pg, counts := adm.Guest.Public(), adm.Counts
	s.publish(notify.Event{
		Type:   notify.EventGuestAdmitted,
		ListID: listID,
		At:     adm.Guest.CreatedAt,
		Guest:  &pg,
		Counts: &counts,
	})
	return adm, nil
}

// RemoveGuest deletes a guest under the same list lock admissions take,
// freeing a capacity slot.
func (s *Service) RemoveGuest(ctx context.Context, guestID string) (rm storage.Removal, err error) {
	ctx, end := s.startSpan(ctx, "guestlist.RemoveGuest", attribute.String("guest.id", guestID))
	defer end(&err)

	rm, err = withRetry(ctx, s, "remove", func() (storage.Removal, error) {
		return s.store.RemoveGuest(ctx, guestID)
	})
	if err != nil {
		return rm, err
	}
	s.log.Info().Str("list_id", rm.Guest.ListID).Str("guest_id", guestID).Msg("guest removed")

	pg, counts := rm.Guest.Public(), rm.Counts
	s.publish(notify.Event{
		Type:   notify.EventGuestRemoved,
		ListID: rm.Guest.ListID,
		At:     s.clock(),
		Guest:  &pg,
		Counts: &counts,
	})
	return rm, nil
}

// UpdateGuest renames a guest or changes their contact. A rename is held
// to the same name uniqueness as admission.
func (s *Service) UpdateGuest(ctx context.Context, guestID string, u domain.GuestUpdate) (g domain.Guest, err error) {
	ctx, end := s.startSpan(ctx, "guestlist.UpdateGuest", attribute.String("guest.id", guestID))
	defer end(&err)

	if err := domain.AsValidation(domain.ValidateGuestUpdate(&u)); err != nil {
		return g, err
	}
	e := storage.GuestEdit{GuestID: guestID}
	if u.GuestName != nil {
		name := domain.DisplayName(*u.GuestName)
		e.Name = &name
		e.NameKey = domain.NormalizeName(*u.GuestName)
	}
	if u.Contact != nil {
		contact := strings.TrimSpace(*u.Contact)
		e.Contact = &contact
	}

	g, err = withRetry(ctx, s, "update_guest", func() (domain.Guest, error) {
		return s.store.UpdateGuest(ctx, e)
	})
	if err != nil {
		return g, err
	}
	s.log.Info().Str("list_id", g.ListID).Str("guest_id", g.ID).Msg("guest updated")

	pg := g.Public()
	s.publish(notify.Event{
		Type:   notify.EventGuestUpdated,
		ListID: g.ListID,
		At:     s.clock(),
		Guest:  &pg,
	})
	return g, nil
}
