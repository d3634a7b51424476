package guestlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"example.com/guestlist/internal/domain"
	"example.com/guestlist/internal/storage"
	"example.com/guestlist/internal/token"
)

const maxCredentialAttempts = 5

// CreateList mints a list with a fresh invite code and share token.
func (s *Service) CreateList(ctx context.Context, in domain.NewList) (l domain.List, err error) {
	ctx, end := s.startSpan(ctx, "guestlist.CreateList")
	defer end(&err)

	now := s.clock()
	if err := domain.AsValidation(domain.ValidateNewList(&in, now)); err != nil {
		return l, err
	}

	var expires time.Time
	if in.ExpiresAt != nil {
		expires = in.ExpiresAt.UTC()
	} else {
		expires = domain.DefaultExpiry(*in.EventDate)
	}
	var eventDate *time.Time
	if in.EventDate != nil {
		d := in.EventDate.UTC()
		eventDate = &d
	}

	l = domain.List{
		ID:            uuid.NewString(),
		ReservationID: strings.TrimSpace(in.ReservationID),
		OwnerName:     domain.DisplayName(in.OwnerName),
		EventType:     strings.TrimSpace(in.EventType),
		EventDate:     eventDate,
		Capacity:      in.Capacity,
		CreatedAt:     now,
		ExpiresAt:     expires.Truncate(time.Millisecond),
	}
	for attempt := 1; ; attempt++ {
		l.InviteCode, l.ShareToken = token.InviteCode(), token.Share()
		err = s.store.CreateList(ctx, l)
		if !errors.Is(err, storage.ErrCredentialCollision) {
			break
		}
		if attempt == maxCredentialAttempts {
			return domain.List{}, fmt.Errorf("mint list credentials: %w", err)
		}
	}
	if err != nil {
		return domain.List{}, err
	}
	s.log.Info().Str("list_id", l.ID).Str("reservation_id", l.ReservationID).Time("expires_at", l.ExpiresAt).Msg("list created")
	return l, nil
}

// ListDetail is the staff view of a list.
type ListDetail struct {
	domain.List
	Stats Stats `json:"stats"`
}

// Stats summarizes attendance.
type Stats struct {
	domain.Counts
	AttendancePercent int `json:"attendance_percent"`
}

func statsOf(c domain.Counts) Stats {
	return Stats{Counts: c, AttendancePercent: c.AttendancePercent()}
}

func (s *Service) GetList(ctx context.Context, id string) (ListDetail, error) {
	l, err := s.store.GetList(ctx, id)
	if err != nil {
		return ListDetail{}, err
	}
	c, err := s.store.Counts(ctx, id)
	if err != nil {
		return ListDetail{}, err
	}
	return ListDetail{List: l, Stats: statsOf(c)}, nil
}

func (s *Service) Stats(ctx context.Context, listID string) (Stats, error) {
	c, err := s.store.Counts(ctx, listID)
	if err != nil {
		return Stats{}, err
	}
	return statsOf(c), nil
}

// SetCapacity changes a list's limit. Lowering it below the current count
// evicts nobody; it only blocks further admissions. nil removes the limit.
func (s *Service) SetCapacity(ctx context.Context, listID string, capacity *int) (l domain.List, err error) {
	ctx, end := s.startSpan(ctx, "guestlist.SetCapacity", attribute.String("list.id", listID))
	defer end(&err)

	if err := domain.AsValidation(domain.ValidateCapacity(capacity)); err != nil {
		return l, err
	}
	l, err = withRetry(ctx, s, "set_capacity", func() (domain.List, error) {
		return s.store.SetCapacity(ctx, listID, capacity)
	})
	if err != nil {
		return l, err
	}
	s.log.Info().Str("list_id", listID).Interface("capacity", capacity).Msg("capacity changed")
	return l, nil
}

func (s *Service) Roster(ctx context.Context, listID string) ([]domain.Guest, error) {
	if _, err := s.store.GetList(ctx, listID); err != nil {
		return nil, err
	}
	return s.store.Roster(ctx, listID)
}

// PublicView is what a share-link holder sees.
type PublicView struct {
	OwnerName string               `json:"owner_name"`
	EventType string               `json:"event_type,omitempty"`
	EventDate *time.Time           `json:"event_date,omitempty"`
	ExpiresAt time.Time            `json:"expires_at"`
	Capacity  *int                 `json:"capacity"`
	Stats     Stats                `json:"stats"`
	Guests    []domain.PublicGuest `json:"guests"`
}

// PublicList resolves a share token. Invite codes are not accepted here,
// and an expired list reads as domain.ErrExpired.
func (s *Service) PublicList(ctx context.Context, shareToken string) (PublicView, error) {
	l, ch, err := s.store.FindListByCredential(ctx, strings.TrimSpace(shareToken))
	if err != nil {
		return PublicView{}, err
	}
	if ch != domain.ChannelPublicLink {
		return PublicView{}, domain.ErrNotFound
	}
	if l.ExpiredAt(s.clock()) {
		return PublicView{}, domain.ErrExpired
	}

	roster, err := s.store.Roster(ctx, l.ID)
	if err != nil {
		return PublicView{}, err
	}
	c := domain.Counts{Capacity: l.Capacity}
	guests := make([]domain.PublicGuest, 0, len(roster))
	for _, g := range roster {
		c.Admitted++
		if g.Status == domain.GuestCheckedIn {
			c.CheckedIn++
		}
		guests = append(guests, g.Public())
	}
	return PublicView{
		OwnerName: l.OwnerName,
		EventType: l.EventType,
		EventDate: l.EventDate,
		ExpiresAt: l.ExpiresAt,
		Capacity:  l.Capacity,
		Stats:     statsOf(c),
		Guests:    guests,
	}, nil
}
