package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Validation constraints (keep in sync with api/openapi.yaml)
const (
	MaxNameLen        = 120
	MaxContactLen     = 120
	MaxCredentialLen  = 128
	MaxDescriptionLen = 255
	MaxReservationLen = 64
	MaxEventTypeLen   = 64
)

// FieldError represents a single field's validation error.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) String() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

// ValidateGuest checks a candidate guest before admission.
func ValidateGuest(name, contact string) []FieldError {
	var errs []FieldError

	name = strings.TrimSpace(name)
	if name == "" {
		errs = append(errs, FieldError{"guest_name", "required"})
	} else if utf8.RuneCountInString(name) > MaxNameLen {
		errs = append(errs, FieldError{"guest_name", fmt.Sprintf("max length %d", MaxNameLen)})
	}

	if utf8.RuneCountInString(strings.TrimSpace(contact)) > MaxContactLen {
		errs = append(errs, FieldError{"contact", fmt.Sprintf("max length %d", MaxContactLen)})
	}
	return errs
}

// ValidateCredential checks an invite code, share token or redemption token.
func ValidateCredential(field, value string) []FieldError {
	value = strings.TrimSpace(value)
	if value == "" {
		return []FieldError{{field, "required"}}
	}
	if len(value) > MaxCredentialLen {
		return []FieldError{{field, fmt.Sprintf("max length %d", MaxCredentialLen)}}
	}
	return nil
}

// ValidateNewList checks operator input for a new list. now is the
// reference time; an explicit expiry must lie in the future.
func ValidateNewList(nl *NewList, now time.Time) []FieldError {
	var errs []FieldError

	if strings.TrimSpace(nl.ReservationID) == "" {
		errs = append(errs, FieldError{"reservation_id", "required"})
	} else if len(nl.ReservationID) > MaxReservationLen {
		errs = append(errs, FieldError{"reservation_id", fmt.Sprintf("max length %d", MaxReservationLen)})
	}

	if strings.TrimSpace(nl.OwnerName) == "" {
		errs = append(errs, FieldError{"owner_name", "required"})
	} else if utf8.RuneCountInString(nl.OwnerName) > MaxNameLen {
		errs = append(errs, FieldError{"owner_name", fmt.Sprintf("max length %d", MaxNameLen)})
	}

	if len(nl.EventType) > MaxEventTypeLen {
		errs = append(errs, FieldError{"event_type", fmt.Sprintf("max length %d", MaxEventTypeLen)})
	}

	errs = append(errs, ValidateCapacity(nl.Capacity)...)

	switch {
	case nl.ExpiresAt == nil && nl.EventDate == nil:
		errs = append(errs, FieldError{"expires_at", "required when event_date is absent"})
	case nl.ExpiresAt != nil && !nl.ExpiresAt.After(now):
		errs = append(errs, FieldError{"expires_at", "must be in the future"})
	}
	return errs
}

// ValidateCapacity accepts nil (unbounded) or a non-negative count.
func ValidateCapacity(c *int) []FieldError {
	if c != nil && *c < 0 {
		return []FieldError{{"capacity", "must be >= 0"}}
	}
	return nil
}

// ValidateNewRule checks a reward policy.
func ValidateNewRule(r *NewGiftRule) []FieldError {
	var errs []FieldError

	if !r.ScopeKind.Valid() {
		errs = append(errs, FieldError{"scope_kind", "must be one of: list, reservation"})
	}
	if strings.TrimSpace(r.ScopeID) == "" {
		errs = append(errs, FieldError{"scope_id", "required"})
	}
	if strings.TrimSpace(r.Description) == "" {
		errs = append(errs, FieldError{"description", "required"})
	} else if utf8.RuneCountInString(r.Description) > MaxDescriptionLen {
		errs = append(errs, FieldError{"description", fmt.Sprintf("max length %d", MaxDescriptionLen)})
	}
	if r.Threshold < 1 {
		errs = append(errs, FieldError{"threshold", "must be >= 1"})
	}
	return errs
}

// ValidateGuestUpdate checks a guest edit. At least one field must be set.
func ValidateGuestUpdate(u *GuestUpdate) []FieldError {
	if u.GuestName == nil && u.Contact == nil {
		return []FieldError{{"guest_name", "nothing to update"}}
	}
	var errs []FieldError
	if u.GuestName != nil {
		contact := ""
		if u.Contact != nil {
			contact = *u.Contact
		}
		errs = append(errs, ValidateGuest(*u.GuestName, contact)...)
	} else if utf8.RuneCountInString(strings.TrimSpace(*u.Contact)) > MaxContactLen {
		errs = append(errs, FieldError{"contact", fmt.Sprintf("max length %d", MaxContactLen)})
	}
	return errs
}

// ValidateRuleUpdate checks a rule edit. At least one field must be set.
func ValidateRuleUpdate(u *RuleUpdate) []FieldError {
	if u.Description == nil && u.Threshold == nil {
		return []FieldError{{"description", "nothing to update"}}
	}
	var errs []FieldError
	if u.Description != nil {
		if strings.TrimSpace(*u.Description) == "" {
			errs = append(errs, FieldError{"description", "required"})
		} else if utf8.RuneCountInString(*u.Description) > MaxDescriptionLen {
			errs = append(errs, FieldError{"description", fmt.Sprintf("max length %d", MaxDescriptionLen)})
		}
	}
	if u.Threshold != nil && *u.Threshold < 1 {
		errs = append(errs, FieldError{"threshold", "must be >= 1"})
	}
	return errs
}

// DefaultExpiry closes a list at the last second of its event day (UTC).
func DefaultExpiry(eventDate time.Time) time.Time {
	y, m, d := eventDate.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}
