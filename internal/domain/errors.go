package domain

import (
	"errors"
	"fmt"
	"time"
)

// Business outcomes. Callers match them with errors.Is; none of them are
// retried.
var (
	ErrNotFound         = errors.New("not found")
	ErrExpired          = errors.New("list expired")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrDuplicateGuest   = errors.New("guest already on list")
	ErrAlreadyCheckedIn = errors.New("guest already checked in")
	ErrNotUnlocked      = errors.New("gift not unlocked")
	ErrAlreadyDelivered = errors.New("gift already delivered")
	ErrRuleLocked       = errors.New("gift rule is no longer pending")
)

// ErrBusy marks transient store failures (lock wait timeout, deadlock,
// serialization failure, busy database). Eligible for bounded retry.
var ErrBusy = errors.New("store busy")

// ErrValidation marks input rejected before any transaction.
var ErrValidation = errors.New("validation failed")

// AlreadyCheckedInError carries the guest as stored by the check-in that
// won, including its original timestamp.
type AlreadyCheckedInError struct {
	Guest Guest
}

func (e *AlreadyCheckedInError) Error() string {
	if e.Guest.CheckedInAt != nil {
		return fmt.Sprintf("%s at %s", ErrAlreadyCheckedIn, e.Guest.CheckedInAt.UTC().Format(time.RFC3339))
	}
	return ErrAlreadyCheckedIn.Error()
}

func (e *AlreadyCheckedInError) Unwrap() error { return ErrAlreadyCheckedIn }

// ValidationError aggregates field errors.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Fields[0])
	}
	return fmt.Sprintf("%s: %d fields invalid", ErrValidation, len(e.Fields))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// AsValidation wraps field errors, or returns nil when there are none.
func AsValidation(fields []FieldError) error {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBusy)
}
