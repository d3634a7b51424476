package transporthttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"example.com/guestlist/internal/domain"
)

type Problem struct {
	Type     string              `json:"type,omitempty"`
	Title    string              `json:"title,omitempty"`
	Status   int                 `json:"status,omitempty"`
	Detail   string              `json:"detail,omitempty"`
	Instance string              `json:"instance,omitempty"`
	Errors   map[string][]string `json:"errors,omitempty"`
	Meta     map[string]any      `json:"meta,omitempty"`
}

func WriteProblem(w http.ResponseWriter, status int, title, detail string, errs map[string][]string) {
	writeProblem(w, Problem{Title: title, Status: status, Detail: detail, Errors: errs})
}

func writeProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto problem responses. expiredStatus is
// 404 where an expired list should read as an invalid link (admission) and
// 410 where the caller already knows the resource existed.
func writeError(w http.ResponseWriter, r *http.Request, err error, expiredStatus int) {
	var (
		verr    *domain.ValidationError
		already *domain.AlreadyCheckedInError
	)
	switch {
	case errors.As(err, &verr):
		prob := map[string][]string{}
		for _, fe := range verr.Fields {
			prob[fe.Field] = append(prob[fe.Field], fe.Msg)
		}
		WriteProblem(w, http.StatusBadRequest, "validation failed", "one or more fields are invalid", prob)
	case errors.As(err, &already):
		meta := map[string]any{"code": "already_checked_in", "guest_id": already.Guest.ID}
		if already.Guest.CheckedInAt != nil {
			meta["checked_in_at"] = already.Guest.CheckedInAt.UTC().Format(time.RFC3339Nano)
		}
		writeProblem(w, Problem{
			Title:  "already checked in",
			Status: http.StatusConflict,
			Detail: err.Error(),
			Meta:   meta,
		})
	case errors.Is(err, domain.ErrCapacityExceeded):
		conflict(w, "capacity exceeded", "the list is full", "capacity_exceeded")
	case errors.Is(err, domain.ErrDuplicateGuest):
		conflict(w, "duplicate guest", "a guest with this name is already on the list", "duplicate_guest")
	case errors.Is(err, domain.ErrNotUnlocked):
		conflict(w, "gift not unlocked", "the rule's threshold has not been reached", "not_unlocked")
	case errors.Is(err, domain.ErrAlreadyDelivered):
		conflict(w, "gift already delivered", "this gift was already handed over", "already_delivered")
	case errors.Is(err, domain.ErrRuleLocked):
		conflict(w, "gift rule locked", "only pending rules can be edited", "rule_locked")
	case errors.Is(err, domain.ErrExpired):
		if expiredStatus == http.StatusGone {
			WriteProblem(w, http.StatusGone, "expired", "the guest list has expired", nil)
		} else {
			WriteProblem(w, expiredStatus, "not found", "invite code or link is invalid or expired", nil)
		}
	case errors.Is(err, domain.ErrNotFound):
		WriteProblem(w, http.StatusNotFound, "not found", "resource not found", nil)
	case errors.Is(err, domain.ErrBusy):
		w.Header().Set("Retry-After", "1")
		WriteProblem(w, http.StatusServiceUnavailable, "busy", "the list is busy, please retry", nil)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		WriteProblem(w, http.StatusInternalServerError, "internal error", "unexpected error", nil)
	}
}

func conflict(w http.ResponseWriter, title, detail, code string) {
	writeProblem(w, Problem{
		Title:  title,
		Status: http.StatusConflict,
		Detail: detail,
		Meta:   map[string]any{"code": code},
	})
}
