package dailyclose

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrInvalidDate is returned for missing or malformed business dates.
var ErrInvalidDate = errors.New("dailyclose: invalid business date")

// ErrOperatorRequired is returned when the operator identity is missing.
var ErrOperatorRequired = errors.New("dailyclose: operator id and name required")

// ErrInvalidInput covers other rejected request fields.
var ErrInvalidInput = errors.New("dailyclose: invalid input")

// ErrAlreadyClosed indicates a closing report already exists for the date.
var ErrAlreadyClosed = errors.New("dailyclose: business date already closed")

// ErrCloseInProgress indicates another close holds the execution claim.
var ErrCloseInProgress = errors.New("dailyclose: close already in progress for this date")

// ErrReportNotFound indicates no closing report exists for the date.
var ErrReportNotFound = errors.New("dailyclose: closing report not found")

// ErrSourceUnavailable wraps upstream store or claim failures that are safe to retry.
var ErrSourceUnavailable = errors.New("dailyclose: data source unavailable")

// Kind is the machine-checkable class of a failure.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindTransient  Kind = "transient"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal"
)

// KindOf classifies err. It returns "" for a nil error.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidDate), errors.Is(err, ErrOperatorRequired), errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrAlreadyClosed), errors.Is(err, ErrCloseInProgress):
		return KindConflict
	case errors.Is(err, ErrReportNotFound):
		return KindNotFound
	case errors.Is(err, ErrSourceUnavailable), infrastructure(err):
		return KindTransient
	default:
		return KindInternal
	}
}

// Retryable reports whether the caller may safely retry the operation.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

// unavailable marks timeouts and connectivity failures as transient. Other
// errors keep their own class.
func unavailable(op string, err error) error {
	if err == nil || errors.Is(err, ErrSourceUnavailable) {
		return err
	}
	switch KindOf(err) {
	case KindValidation, KindConflict, KindNotFound:
		return err
	}
	if infrastructure(err) {
		return transient(op, err)
	}
	return fmt.Errorf("dailyclose: %s: %w", op, err)
}

// transient wraps err as ErrSourceUnavailable whatever its cause.
func transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, op, err)
}

func infrastructure(err error) bool {
	var netErr net.Error
	var connectErr *pgconn.ConnectError
	return errors.Is(err, context.DeadlineExceeded) ||
		pgconn.Timeout(err) ||
		pgconn.SafeToRetry(err) ||
		errors.As(err, &netErr) ||
		errors.As(err, &connectErr)
}

// closeConflict reports whether err is the database losing a race on the
// (club, date) report row: a unique violation or a serialization failure.
func closeConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "23505", "40001":
		return true
	}
	return false
}
