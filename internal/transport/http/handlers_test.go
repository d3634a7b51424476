package transporthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"example.com/guestlist/internal/config"
	"example.com/guestlist/internal/domain"
	"example.com/guestlist/internal/guestlist"
	"example.com/guestlist/internal/notify"
	"example.com/guestlist/internal/storage"
	"example.com/guestlist/internal/storage/sqlite"
)

const testKey = "staff-key"

type testServer struct {
	handler http.Handler
	hub     *notify.Hub
	svc     *guestlist.Service
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	return newTestServerWith(t, nil)
}

// newTestServerWith lets a test wrap the store, for example to inject
// transient failures.
func newTestServerWith(t *testing.T, wrap func(storage.Store) storage.Store) testServer {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "guestlist.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	var store storage.Store = db
	if wrap != nil {
		store = wrap(db)
	}

	hub := notify.NewHub(16, nil)
	svc := guestlist.New(store, hubPublisher{hub}, guestlist.Options{
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
		CheckInGrace: time.Hour,
		Log:          zerolog.Nop(),
	})
	deps := &ServerDeps{
		Cfg: config.Config{
			MaxBodyBytes:   1 << 16,
			RateLimitRPS:   1000,
			RateLimitBurst: 1000,
			APIKeys:        map[string]struct{}{testKey: {}},
		},
		Service: svc,
		Store:   store,
		Hub:     hub,
		Log:     zerolog.Nop(),
	}
	h, err := deps.Router()
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	return testServer{handler: h, hub: hub, svc: svc}
}

// hubPublisher publishes synchronously so tests need no dispatcher worker.
type hubPublisher struct{ hub *notify.Hub }

func (p hubPublisher) Publish(ev notify.Event) bool {
	p.hub.Publish(ev)
	return true
}

func (s testServer) do(t *testing.T, method, path string, body any, staff bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if staff {
		req.Header.Set("X-API-Key", testKey)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func (s testServer) createList(t *testing.T, capacity int) domain.List {
	t.Helper()
	exp := time.Now().UTC().Add(2 * time.Hour)
	w := s.do(t, http.MethodPost, "/lists", map[string]any{
		"reservation_id": "res-1",
		"owner_name":     "Ana Paula",
		"capacity":       capacity,
		"expires_at":     exp.Format(time.RFC3339),
	}, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("create list: %d %s", w.Code, w.Body.String())
	}
	return decode[domain.List](t, w)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(t, http.MethodGet, "/healthz", nil, false); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/readyz", nil, false); w.Code != http.StatusOK {
		t.Fatalf("readyz = %d", w.Code)
	}
	w := s.do(t, http.MethodGet, "/openapi.yaml", nil, false)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "openapi: 3.0.3") {
		t.Fatalf("openapi = %d", w.Code)
	}
}

func TestStaffRoutesRequireKey(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/lists", map[string]any{"reservation_id": "r", "owner_name": "Ana"}, false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestAdmissionFlowStatusCodes(t *testing.T) {
	s := newTestServer(t)
	l := s.createList(t, 2)

	w := s.do(t, http.MethodPost, "/admissions", map[string]any{"invite_code_or_token": l.InviteCode, "guest_name": "Ana"}, false)
	if w.Code != http.StatusCreated {
		t.Fatalf("admit: %d %s", w.Code, w.Body.String())
	}
	ana := decode[admissionResp](t, w)
	if !strings.HasPrefix(ana.Guest.RedemptionToken, "vc_guest_") {
		t.Fatalf("token = %q", ana.Guest.RedemptionToken)
	}

	w = s.do(t, http.MethodPost, "/admissions", map[string]any{"invite_code_or_token": l.ShareToken, "guest_name": " ana "}, false)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate: %d %s", w.Code, w.Body.String())
	}
	if p := decode[Problem](t, w); p.Meta["code"] != "duplicate_guest" {
		t.Fatalf("problem = %+v", p)
	}

	if w := s.do(t, http.MethodPost, "/admissions", map[string]any{"invite_code_or_token": l.ShareToken, "guest_name": "Bruno"}, false); w.Code != http.StatusCreated {
		t.Fatalf("admit Bruno: %d", w.Code)
	}
	w = s.do(t, http.MethodPost, "/admissions", map[string]any{"invite_code_or_token": l.InviteCode, "guest_name": "Carla"}, false)
	if w.Code != http.StatusConflict {
		t.Fatalf("capacity: %d %s", w.Code, w.Body.String())
	}
	if p := decode[Problem](t, w); p.Meta["code"] != "capacity_exceeded" {
		t.Fatalf("problem = %+v", p)
	}

	if w := s.do(t, http.MethodPost, "/admissions", map[string]any{"invite_code_or_token": "ZZZZZZZZ", "guest_name": "Dan"}, false); w.Code != http.StatusNotFound {
		t.Fatalf("unknown code: %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/admissions", map[string]any{"guest_name": "Dan"}, false); w.Code != http.StatusBadRequest {
		t.Fatalf("missing credential: %d", w.Code)
	}
}

func TestCheckInStatusCodes(t *testing.T) {
	s := newTestServer(t)
	l := s.createList(t, 10)
	w := s.do(t, http.MethodPost, "/admissions", map[string]any{"invite_code_or_token": l.InviteCode, "guest_name": "Ana"}, false)
	ana := decode[admissionResp](t, w)

	w = s.do(t, http.MethodPost, "/checkins", map[string]any{"redemption_token": ana.Guest.RedemptionToken}, false)
	if w.Code != http.StatusOK {
		t.Fatalf("check in: %d %s", w.Code, w.Body.String())
	}
	first := decode[guestlist.CheckInResult](t, w)

	w = s.do(t, http.MethodPost, "/checkins", map[string]any{"redemption_token": ana.Guest.RedemptionToken}, false)
	if w.Code != http.StatusConflict {
		t.Fatalf("repeat: %d", w.Code)
	}
	p := decode[Problem](t, w)
	at, err := time.Parse(time.RFC3339Nano, p.Meta["checked_in_at"].(string))
	if err != nil {
		t.Fatalf("checked_in_at: %v", err)
	}
	if !at.Equal(*first.Guest.CheckedInAt) {
		t.Fatalf("conflict reported %s, first was %s", at, first.Guest.CheckedInAt)
	}

	if w := s.do(t, http.MethodPost, "/checkins", map[string]any{"redemption_token": "vc_guest_nope"}, false); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed token: %d", w.Code)
	}
	unknown := "vc_guest_" + strings.Repeat("0", 64)
	if w := s.do(t, http.MethodPost, "/checkins", map[string]any{"redemption_token": unknown}, false); w.Code != http.StatusNotFound {
		t.Fatalf("unknown token: %d", w.Code)
	}
}

func TestPublicListAndStaffRoutes(t *testing.T) {
	s := newTestServer(t)
	l := s.createList(t, 5)

	w := s.do(t, http.MethodPost, "/lists/"+l.ID+"/guests", map[string]any{"guest_name": "Bia"}, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("staff add: %d %s", w.Code, w.Body.String())
	}
	bia := decode[admissionResp](t, w)
	if bia.Guest.Channel != domain.ChannelStaffAdded {
		t.Fatalf("channel = %q", bia.Guest.Channel)
	}

	if w := s.do(t, http.MethodPost, "/guests/"+bia.Guest.ID+"/checkin", nil, true); w.Code != http.StatusOK {
		t.Fatalf("staff check in: %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodGet, "/public/lists/"+l.ShareToken, nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("public list: %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "vc_guest_") {
		t.Fatal("public view leaked a redemption token")
	}

	w = s.do(t, http.MethodGet, "/lists/"+l.ID, nil, true)
	detail := decode[guestlist.ListDetail](t, w)
	if detail.Stats.CheckedIn != 1 || detail.Stats.AttendancePercent != 100 {
		t.Fatalf("stats = %+v", detail.Stats)
	}

	if w := s.do(t, http.MethodPut, "/lists/"+l.ID+"/capacity", map[string]any{"capacity": nil}, true); w.Code != http.StatusOK {
		t.Fatalf("set capacity: %d %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodPut, "/lists/"+l.ID+"/capacity", map[string]any{"capacity": -1}, true); w.Code != http.StatusBadRequest {
		t.Fatalf("negative capacity: %d", w.Code)
	}

	if w := s.do(t, http.MethodDelete, "/guests/"+bia.Guest.ID, nil, true); w.Code != http.StatusNoContent {
		t.Fatalf("remove: %d", w.Code)
	}
	if w := s.do(t, http.MethodDelete, "/guests/"+bia.Guest.ID, nil, true); w.Code != http.StatusNotFound {
		t.Fatalf("remove again: %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/lists/missing", nil, true); w.Code != http.StatusNotFound {
		t.Fatalf("missing list: %d", w.Code)
	}
}

func TestGiftRuleRoutes(t *testing.T) {
	s := newTestServer(t)
	l := s.createList(t, 5)

	w := s.do(t, http.MethodPost, "/gift-rules", map[string]any{
		"scope_kind": "list", "scope_id": l.ID, "description": "Champagne", "threshold": 1,
	}, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("create rule: %d %s", w.Code, w.Body.String())
	}
	rule := decode[domain.GiftRule](t, w)

	if w := s.do(t, http.MethodPost, "/gift-rules/"+rule.ID+"/deliver", nil, true); w.Code != http.StatusConflict {
		t.Fatalf("deliver locked rule: %d", w.Code)
	}

	w = s.do(t, http.MethodPost, "/admissions", map[string]any{"invite_code_or_token": l.InviteCode, "guest_name": "Ana"}, false)
	ana := decode[admissionResp](t, w)
	w = s.do(t, http.MethodPost, "/checkins", map[string]any{"redemption_token": ana.Guest.RedemptionToken}, false)
	res := decode[guestlist.CheckInResult](t, w)
	if len(res.Unlocked) != 1 || res.Unlocked[0].Rule.ID != rule.ID {
		t.Fatalf("unlocked = %+v", res.Unlocked)
	}

	if w := s.do(t, http.MethodPost, "/gift-rules/"+rule.ID+"/deliver", nil, true); w.Code != http.StatusOK {
		t.Fatalf("deliver: %d %s", w.Code, w.Body.String())
	}
	w = s.do(t, http.MethodGet, "/gift-rules?scope_kind=list&scope_id="+l.ID, nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("list rules: %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/gift-rules?scope_kind=table&scope_id=x", nil, true); w.Code != http.StatusBadRequest {
		t.Fatalf("bad scope: %d", w.Code)
	}
}

func TestRequireJSON(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/admissions", strings.NewReader("invite=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2, func() time.Time { return now })
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("other client limited: %d", w.Code)
	}
}

func TestWatchStreamsSnapshotThenEvents(t *testing.T) {
	s := newTestServer(t)
	l := s.createList(t, 5)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/lists/" + l.ID + "/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snap notify.Event
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Type != notify.EventSnapshot || snap.Counts == nil || snap.Counts.Admitted != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}

	if _, err := s.svc.Admit(context.Background(), guestlist.AdmitRequest{Credential: l.InviteCode, GuestName: "Ana"}); err != nil {
		t.Fatalf("admit: %v", err)
	}
	var ev notify.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != notify.EventGuestAdmitted || ev.Guest == nil || ev.Guest.Name != "Ana" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Counts == nil || ev.Counts.Admitted != 1 {
		t.Fatalf("counts = %+v", ev.Counts)
	}
}

func TestWatchUnknownList(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(t, http.MethodGet, "/lists/missing/watch", nil, false); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestCreateListReturnsShareURL(t *testing.T) {
	s := newTestServer(t)
	exp := time.Now().UTC().Add(time.Hour)
	w := s.do(t, http.MethodPost, "/lists", map[string]any{
		"reservation_id": "res-1", "owner_name": "Ana", "expires_at": exp.Format(time.RFC3339),
	}, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	resp := decode[listResp](t, w)
	if resp.ShareURL != "/public/lists/"+resp.ShareToken {
		t.Fatalf("share_url = %q", resp.ShareURL)
	}
}

func TestSelfCheckInRoute(t *testing.T) {
	s := newTestServer(t)
	l := s.createList(t, 5)
	if w := s.do(t, http.MethodPost, "/admissions", map[string]any{"invite_code_or_token": l.InviteCode, "guest_name": "Maria Silva"}, false); w.Code != http.StatusCreated {
		t.Fatalf("admit: %d", w.Code)
	}

	w := s.do(t, http.MethodPost, "/checkins/self", map[string]any{"share_token": l.ShareToken, "guest_name": " maria  SILVA"}, false)
	if w.Code != http.StatusOK {
		t.Fatalf("self check in: %d %s", w.Code, w.Body.String())
	}
	if res := decode[guestlist.CheckInResult](t, w); res.Guest.Status != domain.GuestCheckedIn {
		t.Fatalf("status = %q", res.Guest.Status)
	}
	if w := s.do(t, http.MethodPost, "/checkins/self", map[string]any{"share_token": l.ShareToken, "guest_name": "Maria Silva"}, false); w.Code != http.StatusConflict {
		t.Fatalf("repeat: %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/checkins/self", map[string]any{"share_token": l.ShareToken, "guest_name": "Nobody"}, false); w.Code != http.StatusNotFound {
		t.Fatalf("unknown name: %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/checkins/self", map[string]any{"share_token": l.InviteCode, "guest_name": "Maria Silva"}, false); w.Code != http.StatusNotFound {
		t.Fatalf("invite code accepted: %d", w.Code)
	}
}

func TestUpdateGuestRoute(t *testing.T) {
	s := newTestServer(t)
	l := s.createList(t, 5)
	var ids []string
	for _, n := range []string{"Ana", "Bia"} {
		w := s.do(t, http.MethodPost, "/lists/"+l.ID+"/guests", map[string]any{"guest_name": n}, true)
		ids = append(ids, decode[admissionResp](t, w).Guest.ID)
	}

	w := s.do(t, http.MethodPut, "/guests/"+ids[0], map[string]any{"guest_name": "Ana Clara", "contact": "ana@example.com"}, true)
	if w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}
	if g := decode[domain.Guest](t, w); g.Name != "Ana Clara" || g.Contact != "ana@example.com" {
		t.Fatalf("guest = %+v", g)
	}
	w = s.do(t, http.MethodPut, "/guests/"+ids[1], map[string]any{"guest_name": "ana clara"}, true)
	if w.Code != http.StatusConflict {
		t.Fatalf("rename onto existing name: %d", w.Code)
	}
	if w := s.do(t, http.MethodPut, "/guests/"+ids[1], map[string]any{}, true); w.Code != http.StatusBadRequest {
		t.Fatalf("empty update: %d", w.Code)
	}
	if w := s.do(t, http.MethodPut, "/guests/missing", map[string]any{"contact": "x"}, true); w.Code != http.StatusNotFound {
		t.Fatalf("missing guest: %d", w.Code)
	}
}

func TestRuleGetAndUpdateRoutes(t *testing.T) {
	s := newTestServer(t)
	l := s.createList(t, 5)
	w := s.do(t, http.MethodPost, "/gift-rules", map[string]any{
		"scope_kind": "list", "scope_id": l.ID, "description": "Champagne", "threshold": 5,
	}, true)
	rule := decode[domain.GiftRule](t, w)

	w = s.do(t, http.MethodGet, "/gift-rules/"+rule.ID, nil, true)
	if w.Code != http.StatusOK || decode[domain.GiftRule](t, w).Description != "Champagne" {
		t.Fatalf("get rule: %d %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodGet, "/gift-rules/missing", nil, true); w.Code != http.StatusNotFound {
		t.Fatalf("missing rule: %d", w.Code)
	}

	w = s.do(t, http.MethodPut, "/gift-rules/"+rule.ID, map[string]any{"description": "Two bottles"}, true)
	if w.Code != http.StatusOK || decode[domain.GiftRule](t, w).Description != "Two bottles" {
		t.Fatalf("update rule: %d %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodPut, "/gift-rules/"+rule.ID, map[string]any{"threshold": 0}, true); w.Code != http.StatusBadRequest {
		t.Fatalf("zero threshold: %d", w.Code)
	}

	adm := decode[admissionResp](t, s.do(t, http.MethodPost, "/admissions", map[string]any{"invite_code_or_token": l.InviteCode, "guest_name": "Ana"}, false))
	s.do(t, http.MethodPost, "/checkins", map[string]any{"redemption_token": adm.Guest.RedemptionToken}, false)

	w = s.do(t, http.MethodPut, "/gift-rules/"+rule.ID, map[string]any{"threshold": 1}, true)
	if w.Code != http.StatusOK || decode[domain.GiftRule](t, w).Status != domain.RuleUnlocked {
		t.Fatalf("lowered threshold should unlock: %d %s", w.Code, w.Body.String())
	}
	w = s.do(t, http.MethodPut, "/gift-rules/"+rule.ID, map[string]any{"threshold": 3}, true)
	if w.Code != http.StatusConflict {
		t.Fatalf("edit unlocked rule: %d", w.Code)
	}
	if p := decode[Problem](t, w); p.Meta["code"] != "rule_locked" {
		t.Fatalf("problem = %+v", p)
	}
}

// lockedStore fails every admission as if the list row lock never freed.
type lockedStore struct {
	storage.Store
}

func (lockedStore) AdmitGuest(context.Context, storage.AdmitParams) (storage.Admission, error) {
	return storage.Admission{}, fmt.Errorf("%w: lock timeout", domain.ErrBusy)
}

func TestBusyStoreMapsTo503(t *testing.T) {
	s := newTestServerWith(t, func(st storage.Store) storage.Store { return lockedStore{st} })
	l := s.createList(t, 5)

	w := s.do(t, http.MethodPost, "/admissions", map[string]any{"invite_code_or_token": l.InviteCode, "guest_name": "Ana"}, false)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
}
