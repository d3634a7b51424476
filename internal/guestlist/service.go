// Package guestlist is the application layer: it validates input, runs the
// store's transactional operations with bounded retry, evaluates gift rules
// after each committed check-in, and hands committed changes to the
// notifier.
package guestlist

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"example.com/guestlist/internal/domain"
	"example.com/guestlist/internal/notify"
	"example.com/guestlist/internal/storage"
	"example.com/guestlist/internal/telemetry"
)

// Publisher accepts committed events. It must not block.
type Publisher interface {
	Publish(ev notify.Event) bool
}

type Options struct {
	// Now defaults to time.Now. Results are truncated to milliseconds so
	// both backends store the same instant the caller sees.
	Now          func() time.Time
	MaxRetries   int
	RetryBackoff time.Duration
	CheckInGrace time.Duration
	Log          zerolog.Logger
	Metrics      *telemetry.Metrics
}

type Service struct {
	store        storage.Store
	pub          Publisher
	now          func() time.Time
	maxRetries   int
	retryBackoff time.Duration
	grace        time.Duration
	log          zerolog.Logger
	metrics      *telemetry.Metrics
	tracer       trace.Tracer
}

func New(store storage.Store, pub Publisher, opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 25 * time.Millisecond
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Service{
		store:        store,
		pub:          pub,
		now:          now,
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
		grace:        opts.CheckInGrace,
		log:          opts.Log.With().Str("component", "guestlist").Logger(),
		metrics:      opts.Metrics,
		tracer:       otel.Tracer("example.com/guestlist/internal/guestlist"),
	}
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// withRetry runs fn until it succeeds, fails with a non-transient error,
// or exhausts the retry budget. Only domain.ErrBusy is retried.
func withRetry[T any](ctx context.Context, s *Service, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryBackoff
	b.MaxInterval = 40 * s.retryBackoff

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !domain.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.maxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.metrics.TxRetry(op)
			s.log.Debug().Err(err).Str("op", op).Dur("wait", wait).Msg("retrying transient store error")
		}),
	)
}

func (s *Service) publish(ev notify.Event) {
	if s.pub == nil {
		return
	}
	if !s.pub.Publish(ev) {
		s.log.Warn().Str("type", string(ev.Type)).Str("list_id", ev.ListID).Msg("event dropped")
	}
}

// startSpan opens a span and returns a finisher recording err on it.
func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil && !isBusinessOutcome(*errp) {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
	}
}

// isBusinessOutcome reports errors that are expected results rather than
// failures.
func isBusinessOutcome(err error) bool {
	for _, target := range []error{
		domain.ErrValidation, domain.ErrNotFound, domain.ErrExpired,
		domain.ErrCapacityExceeded, domain.ErrDuplicateGuest, domain.ErrAlreadyCheckedIn,
		domain.ErrNotUnlocked, domain.ErrAlreadyDelivered, domain.ErrRuleLocked,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// outcome turns an operation result into a metrics label.
func outcome(err error, ok string) string {
	switch {
	case err == nil:
		return ok
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrExpired):
		return "expired"
	case errors.Is(err, domain.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, domain.ErrDuplicateGuest):
		return "duplicate"
	case errors.Is(err, domain.ErrAlreadyCheckedIn):
		return "already_checked_in"
	case errors.Is(err, domain.ErrBusy):
		return "busy"
	default:
		return "error"
	}
}
