package transporthttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/rs/zerolog"

	"example.com/guestlist/api"
	"example.com/guestlist/internal/config"
	"example.com/guestlist/internal/domain"
	"example.com/guestlist/internal/guestlist"
	"example.com/guestlist/internal/notify"
	"example.com/guestlist/internal/storage"
)

type ServerDeps struct {
	Cfg     config.Config
	Service *guestlist.Service
	Store   storage.Store
	Hub     *notify.Hub
	Log     zerolog.Logger
	// Metrics serves /metrics; nil leaves the route unregistered.
	Metrics http.Handler
	Now     func() time.Time
}

func decodeJSONStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// --- Health ---

func (d *ServerDeps) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *ServerDeps) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := d.Store.Ping(ctx); err != nil {
		WriteProblem(w, http.StatusServiceUnavailable, "not ready", "database not reachable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Guest-facing ---

type admissionResp struct {
	Guest  domain.Guest  `json:"guest"`
	Counts domain.Counts `json:"counts"`
}

func (d *ServerDeps) HandleAdmit(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var req guestlist.AdmitRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	adm, err := d.Service.Admit(r.Context(), req)
	if err != nil {
		writeError(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusCreated, admissionResp{Guest: adm.Guest, Counts: adm.Counts})
}

type checkInReq struct {
	RedemptionToken string `json:"redemption_token"`
}

func (d *ServerDeps) HandleCheckIn(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var req checkInReq
	if err := decodeJSONStrict(r, &req); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	res, err := d.Service.CheckIn(r.Context(), req.RedemptionToken)
	if err != nil {
		writeError(w, r, err, http.StatusGone)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (d *ServerDeps) HandleSelfCheckIn(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var req guestlist.SelfCheckInRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	res, err := d.Service.SelfCheckIn(r.Context(), req)
	if err != nil {
		writeError(w, r, err, http.StatusGone)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (d *ServerDeps) HandlePublicList(w http.ResponseWriter, r *http.Request) {
	view, err := d.Service.PublicList(r.Context(), r.PathValue("token"))
	if err != nil {
		writeError(w, r, err, http.StatusGone)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// --- Staff ---

func (d *ServerDeps) HandleCreateList(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var in domain.NewList
	if err := decodeJSONStrict(r, &in); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	l, err := d.Service.CreateList(r.Context(), in)
	if err != nil {
		writeError(w, r, err, http.StatusGone)
		return
	}
	writeJSON(w, http.StatusCreated, listResp{List: l, ShareURL: d.shareURL(l.ShareToken)})
}

type listResp struct {
	domain.List
	ShareURL string `json:"share_url"`
}

type listDetailResp struct {
	guestlist.ListDetail
	ShareURL string `json:"share_url"`
}

// shareURL is the public link handed to guests. Without a configured base
// URL it is a server-relative path.
func (d *ServerDeps) shareURL(shareToken string) string {
	return strings.TrimRight(d.Cfg.PublicBaseURL, "/") + "/public/lists/" + shareToken
}

func (d *ServerDeps) HandleGetList(w http.ResponseWriter, r *http.Request) {
	detail, err := d.Service.GetList(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err, http.StatusGone)
		return
	}
	writeJSON(w, http.StatusOK, listDetailResp{ListDetail: detail, ShareURL: d.shareURL(detail.ShareToken)})
}

type capacityReq struct {
	Capacity *int `json:"capacity"`
}

func (d *ServerDeps) HandleSetCapacity(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var req capacityReq
	if err := decodeJSONStrict(r, &req); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	l, err := d.Service.SetCapacity(r.Context(), r.PathValue("id"), req.Capacity)
	if err != nil {
		writeError(w, r, err, http.StatusGone)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (d *ServerDeps) HandleRoster(w http.ResponseWriter, r *http.Request) {
	guests, err := d.Service.Roster(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err, http.StatusGone)
		return
	}
	if guests == nil {
		guests = []domain.Guest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"guests": guests})
}

type staffGuestReq struct {
	GuestName string `json:"guest_name"`
	Contact   string `json:"contact,omitempty"`
}

func (d *ServerDeps) HandleStaffAdd(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var req staffGuestReq
	if err := decodeJSONStrict(r, &req); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	adm, err := d.Service.AdmitByStaff(r.Context(), r.PathValue("id"), req.GuestName, req.Contact)
	if err != nil {
		writeError(w, r, err, http.StatusGone)
		return
	}
	writeJSON(w, http.StatusCreated, admissionResp{Guest: adm.Guest, Counts: adm.Counts})
}

func (d *ServerDeps) HandleStaffCheckIn(w http.ResponseWriter, r *http.Request) {
	res, err := d.Service.CheckInGuest(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err, http.StatusGone)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (d *ServerDeps) HandleUpdateGuest(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var in domain.GuestUpdate
	if err := decodeJSONStrict(r, &in); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	g, err := d.Service.UpdateGuest(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeError(w, r, err, http.StatusGone)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (d *ServerDeps) HandleRemoveGuest(w http.ResponseWriter, r *http.Request) {
	if _, err := d.Service.RemoveGuest(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err, http.StatusGone)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *ServerDeps) HandleCreateRule(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var in domain.NewGiftRule
	if err := decodeJSONStrict(r, &in); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	rule, err := d.Service.CreateRule(r.Context(), in)
	if err != nil {
		writeError(w, r, err, http.StatusGone)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (d *ServerDeps) HandleListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := domain.Scope{Kind: domain.ScopeKind(q.Get("scope_kind")), ID: q.Get("scope_id")}
	rules, err := d.Service.ListRules(r.Context(), scope)
	if err != nil {
		writeError(w, r, err, http.StatusGone)
		return
	}
	if rules == nil {
		rules = []domain.GiftRule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (d *ServerDeps) HandleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := d.Service.GetRule(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err, http.StatusGone)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (d *ServerDeps) HandleUpdateRule(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var in domain.RuleUpdate
	if err := decodeJSONStrict(r, &in); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	rule, err := d.Service.UpdateRule(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeError(w, r, err, http.StatusGone)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (d *ServerDeps) HandleDeliverGift(w http.ResponseWriter, r *http.Request) {
	rule, err := d.Service.DeliverGift(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err, http.StatusGone)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// --- Serve OpenAPI ---

func (d *ServerDeps) HandleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(api.Spec)
}

// --- Router ---

func (d *ServerDeps) Router() (http.Handler, error) {
	if d.Now == nil {
		d.Now = time.Now
	}
	spec, err := openapi3.NewLoader().LoadFromData(api.Spec)
	if err != nil {
		return nil, fmt.Errorf("load openapi spec: %w", err)
	}
	validate, err := OpenAPIValidator(spec)
	if err != nil {
		return nil, err
	}
	limiter := NewRateLimiter(d.Cfg.RateLimitRPS, d.Cfg.RateLimitBurst, d.Now)
	staff := APIKeyAuth(d.Cfg.APIKeys)

	withBody := func(h http.HandlerFunc) http.Handler {
		var out http.Handler = h
		out = validate(out)
		out = BodyLimit(d.Cfg.MaxBodyBytes)(out)
		out = RequireJSON(out)
		return out
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", d.HandleHealthz)
	mux.HandleFunc("GET /readyz", d.HandleReadyz)
	mux.HandleFunc("GET /openapi.yaml", d.HandleOpenAPI)
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	mux.Handle("POST /admissions", limiter.Middleware(withBody(d.HandleAdmit)))
	mux.Handle("POST /checkins", limiter.Middleware(withBody(d.HandleCheckIn)))
	mux.Handle("POST /checkins/self", limiter.Middleware(withBody(d.HandleSelfCheckIn)))
	mux.Handle("GET /public/lists/{token}", limiter.Middleware(validate(http.HandlerFunc(d.HandlePublicList))))
	mux.Handle("GET /lists/{id}/watch", limiter.Middleware(http.HandlerFunc(d.HandleWatch)))

	mux.Handle("POST /lists", staff(withBody(d.HandleCreateList)))
	mux.Handle("GET /lists/{id}", staff(http.HandlerFunc(d.HandleGetList)))
	mux.Handle("PUT /lists/{id}/capacity", staff(withBody(d.HandleSetCapacity)))
	mux.Handle("GET /lists/{id}/guests", staff(http.HandlerFunc(d.HandleRoster)))
	mux.Handle("POST /lists/{id}/guests", staff(withBody(d.HandleStaffAdd)))
	mux.Handle("POST /guests/{id}/checkin", staff(http.HandlerFunc(d.HandleStaffCheckIn)))
	mux.Handle("PUT /guests/{id}", staff(withBody(d.HandleUpdateGuest)))
	mux.Handle("DELETE /guests/{id}", staff(http.HandlerFunc(d.HandleRemoveGuest)))
	mux.Handle("POST /gift-rules", staff(withBody(d.HandleCreateRule)))
	mux.Handle("GET /gift-rules", staff(validate(http.HandlerFunc(d.HandleListRules))))
	mux.Handle("GET /gift-rules/{id}", staff(http.HandlerFunc(d.HandleGetRule)))
	mux.Handle("PUT /gift-rules/{id}", staff(withBody(d.HandleUpdateRule)))
	mux.Handle("POST /gift-rules/{id}/deliver", staff(http.HandlerFunc(d.HandleDeliverGift)))

	var h http.Handler = mux
	h = Recover(h)
	h = AccessLog(d.Log)(h)
	return h, nil
}
