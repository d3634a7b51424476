package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"

	"example.com/guestlist/internal/domain"
)

// SQLSTATE codes treated as transient.
const (
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeQueryCanceled        = "57014"
	codeTooManyConnections   = "53300"
	codeAdminShutdown        = "57P01"
	codeCannotConnectNow     = "57P03"

	codeUniqueViolation = "23505"
)

// classify wraps transient database failures with domain.ErrBusy and
// passes everything else through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrBusy) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeSerializationFailure, codeDeadlockDetected,
			codeQueryCanceled, codeTooManyConnections, codeAdminShutdown, codeCannotConnectNow:
			return fmt.Errorf("%w: %s (%s)", domain.ErrBusy, pgErr.Message, pgErr.Code)
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", domain.ErrBusy, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) && connectRetryable(err) {
		return fmt.Errorf("%w: %v", domain.ErrBusy, err)
	}
	return err
}

// connectRetryable separates a database that is briefly unreachable
// (refused, reset, timed out) from a misconfigured one (unknown host, bad
// credentials), which stays fatal. Server-side rejections arrive as
// *pgconn.PgError and are classified by code above.
func connectRetryable(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

func uniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == constraint
}
