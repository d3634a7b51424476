package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"example.com/guestlist/internal/domain"
	"example.com/guestlist/internal/storage"
)

var base = time.Date(2026, time.June, 1, 18, 0, 0, 0, time.UTC)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "guestlist.db"), 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedList(t *testing.T, s *Store, id string, capacity *int) domain.List {
	t.Helper()
	l := domain.List{
		ID:            id,
		ReservationID: "res-" + id,
		OwnerName:     "Ana",
		Capacity:      capacity,
		InviteCode:    "CODE" + strings.ToUpper(id),
		ShareToken:    "share-" + id,
		CreatedAt:     base,
		ExpiresAt:     base.Add(6 * time.Hour),
	}
	if err := s.CreateList(context.Background(), l); err != nil {
		t.Fatalf("create list: %v", err)
	}
	return l
}

func admit(s *Store, listID, name string, now time.Time) (storage.Admission, error) {
	return s.AdmitGuest(context.Background(), storage.AdmitParams{
		ListID:          listID,
		GuestID:         "g-" + listID + "-" + name,
		Name:            name,
		NameKey:         domain.NormalizeName(name),
		Channel:         domain.ChannelInviteCode,
		RedemptionToken: "tok-" + listID + "-" + name,
		Now:             now,
	})
}

func intp(n int) *int { return &n }

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), "", 0); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestListRoundTrip(t *testing.T) {
	s := openTempStore(t)
	want := seedList(t, s, "l1", intp(10))

	got, err := s.GetList(context.Background(), "l1")
	if err != nil {
		t.Fatalf("get list: %v", err)
	}
	if got.ID != want.ID || *got.Capacity != 10 || !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if _, err := s.GetList(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateListCredentialCollision(t *testing.T) {
	s := openTempStore(t)
	l := seedList(t, s, "l1", nil)
	l.ID = "l2"
	l.ShareToken = "other"
	if err := s.CreateList(context.Background(), l); !errors.Is(err, storage.ErrCredentialCollision) {
		t.Fatalf("expected collision, got %v", err)
	}
}

func TestFindListByCredential(t *testing.T) {
	s := openTempStore(t)
	seedList(t, s, "l1", nil)

	_, ch, err := s.FindListByCredential(context.Background(), "codel1")
	if err != nil {
		t.Fatalf("find by code: %v", err)
	}
	if ch != domain.ChannelInviteCode {
		t.Fatalf("channel = %q", ch)
	}
	_, ch, err = s.FindListByCredential(context.Background(), "share-l1")
	if err != nil {
		t.Fatalf("find by share token: %v", err)
	}
	if ch != domain.ChannelPublicLink {
		t.Fatalf("channel = %q", ch)
	}
	if _, _, err := s.FindListByCredential(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAdmitGuestRules(t *testing.T) {
	s := openTempStore(t)
	l := seedList(t, s, "l1", intp(1))

	a, err := admit(s, l.ID, "Maria Silva", base)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if a.Counts.Admitted != 1 || a.Guest.Status != domain.GuestPending {
		t.Fatalf("unexpected admission: %+v", a)
	}
	if _, err := admit(s, l.ID, "João", base); !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Fatalf("expected capacity exceeded, got %v", err)
	}

	if _, err := s.SetCapacity(context.Background(), l.ID, intp(5)); err != nil {
		t.Fatalf("set capacity: %v", err)
	}
	if _, err := admit(s, l.ID, " maria   SILVA ", base); !errors.Is(err, domain.ErrDuplicateGuest) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if _, err := admit(s, l.ID, "Late", l.ExpiresAt.Add(time.Second)); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if _, err := admit(s, l.ID, "Just In Time", l.ExpiresAt); err != nil {
		t.Fatalf("admit at expiry: %v", err)
	}
}

func TestConcurrentAdmissionsRespectCapacity(t *testing.T) {
	s := openTempStore(t)
	l := seedList(t, s, "l1", intp(5))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := admit(s, l.ID, fmt.Sprintf("guest %d", i), base)
			if err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
				return
			}
			if !errors.Is(err, domain.ErrCapacityExceeded) && !errors.Is(err, domain.ErrBusy) {
				t.Errorf("admit %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	c, err := s.Counts(context.Background(), l.ID)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if c.Admitted != admitted || c.Admitted > 5 {
		t.Fatalf("admitted = %d, stored = %d, capacity 5", admitted, c.Admitted)
	}
}

func TestTransitionCheckInIsIdempotent(t *testing.T) {
	s := openTempStore(t)
	l := seedList(t, s, "l1", nil)
	a, err := admit(s, l.ID, "Ana", base)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}

	first := base.Add(time.Hour)
	res, err := s.TransitionCheckIn(context.Background(), storage.CheckInParams{RedemptionToken: a.Guest.RedemptionToken, Now: first})
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if res.Counts.CheckedIn != 1 || !res.Guest.CheckedInAt.Equal(first) {
		t.Fatalf("unexpected result: %+v", res)
	}

	_, err = s.TransitionCheckIn(context.Background(), storage.CheckInParams{RedemptionToken: a.Guest.RedemptionToken, Now: first.Add(time.Minute)})
	var already *domain.AlreadyCheckedInError
	if !errors.As(err, &already) {
		t.Fatalf("expected already checked in, got %v", err)
	}
	if !already.Guest.CheckedInAt.Equal(first) {
		t.Fatalf("checked_in_at = %s, want %s", already.Guest.CheckedInAt, first)
	}

	if _, err := s.TransitionCheckIn(context.Background(), storage.CheckInParams{RedemptionToken: "nope", Now: first}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransitionCheckInGrace(t *testing.T) {
	s := openTempStore(t)
	l := seedList(t, s, "l1", nil)
	a, _ := admit(s, l.ID, "Ana", base)
	b, _ := admit(s, l.ID, "Bia", base)

	inGrace := l.ExpiresAt.Add(time.Hour)
	if _, err := s.TransitionCheckIn(context.Background(), storage.CheckInParams{RedemptionToken: a.Guest.RedemptionToken, Now: inGrace, Grace: 2 * time.Hour}); err != nil {
		t.Fatalf("check in during grace: %v", err)
	}
	late := l.ExpiresAt.Add(3 * time.Hour)
	if _, err := s.TransitionCheckIn(context.Background(), storage.CheckInParams{RedemptionToken: b.Guest.RedemptionToken, Now: late, Grace: 2 * time.Hour}); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestEvaluateRulesUnlocksOnce(t *testing.T) {
	s := openTempStore(t)
	l := seedList(t, s, "l1", nil)
	scope := domain.Scope{Kind: domain.ScopeList, ID: l.ID}
	for i, th := range []int{1, 2, 5} {
		r := domain.GiftRule{ID: fmt.Sprintf("r%d", i), Scope: scope, Description: "gift", Threshold: th, CreatedAt: base}
		if err := s.CreateRule(context.Background(), r); err != nil {
			t.Fatalf("create rule: %v", err)
		}
	}
	for _, name := range []string{"A", "B"} {
		a, err := admit(s, l.ID, name, base)
		if err != nil {
			t.Fatalf("admit: %v", err)
		}
		if _, err := s.TransitionCheckIn(context.Background(), storage.CheckInParams{RedemptionToken: a.Guest.RedemptionToken, Now: base}); err != nil {
			t.Fatalf("check in: %v", err)
		}
	}

	unlocked, err := s.EvaluateRules(context.Background(), scope, base)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(unlocked) != 2 || unlocked[0].Rule.Threshold != 1 || unlocked[1].Rule.Threshold != 2 {
		t.Fatalf("unexpected unlocks: %+v", unlocked)
	}
	if unlocked[0].Count != 2 {
		t.Fatalf("count = %d", unlocked[0].Count)
	}

	again, err := s.EvaluateRules(context.Background(), scope, base)
	if err != nil {
		t.Fatalf("evaluate again: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no new unlocks, got %+v", again)
	}

	rules, err := s.ListRules(context.Background(), scope)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if rules[2].Status != domain.RulePending || rules[0].UnlockedCount == nil || *rules[0].UnlockedCount != 2 {
		t.Fatalf("unexpected rules: %+v", rules)
	}
}

func TestEvaluateRulesReservationScope(t *testing.T) {
	s := openTempStore(t)
	l1 := seedList(t, s, "l1", nil)
	l2 := seedList(t, s, "l2", nil)
	for _, id := range []string{"l1", "l2"} {
		if _, err := s.sqlDB.Exec(`UPDATE guest_lists SET reservation_id = 'res-shared' WHERE id = ?`, id); err != nil {
			t.Fatal(err)
		}
	}
	scope := domain.Scope{Kind: domain.ScopeReservation, ID: "res-shared"}
	if err := s.CreateRule(context.Background(), domain.GiftRule{ID: "r1", Scope: scope, Description: "cake", Threshold: 2, CreatedAt: base}); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	for _, l := range []domain.List{l1, l2} {
		a, err := admit(s, l.ID, "Ana", base)
		if err != nil {
			t.Fatalf("admit: %v", err)
		}
		if _, err := s.TransitionCheckIn(context.Background(), storage.CheckInParams{RedemptionToken: a.Guest.RedemptionToken, Now: base}); err != nil {
			t.Fatalf("check in: %v", err)
		}
	}
	unlocked, err := s.EvaluateRules(context.Background(), scope, base)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(unlocked) != 1 || unlocked[0].Count != 2 {
		t.Fatalf("unexpected unlocks: %+v", unlocked)
	}
	ids, err := s.ListIDsForReservation(context.Background(), "res-shared")
	if err != nil || len(ids) != 2 {
		t.Fatalf("list ids = %v, err = %v", ids, err)
	}
}

func TestDeliverGift(t *testing.T) {
	s := openTempStore(t)
	l := seedList(t, s, "l1", nil)
	scope := domain.Scope{Kind: domain.ScopeList, ID: l.ID}
	if err := s.CreateRule(context.Background(), domain.GiftRule{ID: "r1", Scope: scope, Description: "cake", Threshold: 1, CreatedAt: base}); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if _, err := s.DeliverGift(context.Background(), "r1", base); !errors.Is(err, domain.ErrNotUnlocked) {
		t.Fatalf("expected not unlocked, got %v", err)
	}
	if _, err := s.DeliverGift(context.Background(), "missing", base); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	a, _ := admit(s, l.ID, "Ana", base)
	if _, err := s.TransitionCheckIn(context.Background(), storage.CheckInParams{RedemptionToken: a.Guest.RedemptionToken, Now: base}); err != nil {
		t.Fatalf("check in: %v", err)
	}
	if _, err := s.EvaluateRules(context.Background(), scope, base); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	r, err := s.DeliverGift(context.Background(), "r1", base.Add(time.Minute))
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if r.DeliveredAt == nil || r.Status != domain.RuleUnlocked {
		t.Fatalf("unexpected rule: %+v", r)
	}
	if _, err := s.DeliverGift(context.Background(), "r1", base); !errors.Is(err, domain.ErrAlreadyDelivered) {
		t.Fatalf("expected already delivered, got %v", err)
	}
}

func TestRemoveGuestFreesCapacity(t *testing.T) {
	s := openTempStore(t)
	l := seedList(t, s, "l1", intp(1))
	a, err := admit(s, l.ID, "Ana", base)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	rm, err := s.RemoveGuest(context.Background(), a.Guest.ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if rm.Counts.Admitted != 0 {
		t.Fatalf("admitted = %d", rm.Counts.Admitted)
	}
	if _, err := s.RemoveGuest(context.Background(), a.Guest.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := admit(s, l.ID, "Bia", base); err != nil {
		t.Fatalf("admit after removal: %v", err)
	}
	roster, err := s.Roster(context.Background(), l.ID)
	if err != nil || len(roster) != 1 || roster[0].Name != "Bia" {
		t.Fatalf("roster = %+v, err = %v", roster, err)
	}
}
