// Package quanterr defines the error taxonomy shared by the quantitative core.
//
// Every failure surfaced by a core component wraps one of the sentinel kinds
// below, so callers can branch with errors.Is regardless of the detail text.
package quanterr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel error kinds
var (
	ErrConfiguration         = errors.New("configuration error")
	ErrAlignment             = errors.New("alignment error")
	ErrInfeasibleConstraints = errors.New("infeasible constraints")
	ErrDataGap               = errors.New("data gap")
	ErrDeadlineExceeded      = errors.New("deadline exceeded")
	ErrPortfolioRuin         = errors.New("portfolio ruin")
)

// Error carries the failing operation and the violated invariant.
type Error struct {
	Kind   error
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel kind
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func newError(kind error, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// Configuration reports a malformed recipe, ruleset or constraint set.
func Configuration(op, format string, args ...interface{}) error {
	return newError(ErrConfiguration, op, format, args...)
}

// Alignment reports a panel/date mismatch.
func Alignment(op, format string, args ...interface{}) error {
	return newError(ErrAlignment, op, format, args...)
}

// Infeasible reports constraints no weight vector can satisfy.
func Infeasible(op, format string, args ...interface{}) error {
	return newError(ErrInfeasibleConstraints, op, format, args...)
}

// DataGap reports insufficient data for an estimation or rebalance date.
func DataGap(op, format string, args ...interface{}) error {
	return newError(ErrDataGap, op, format, args...)
}

// Ruin reports a backtest NAV that went non-positive.
func Ruin(op, format string, args ...interface{}) error {
	return newError(ErrPortfolioRuin, op, format, args...)
}

// FromContext converts a context error into the taxonomy.
// A deadline becomes ErrDeadlineExceeded; cancellation is returned as is.
func FromContext(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrDeadlineExceeded, Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CheckContext returns a taxonomy error when ctx is done, nil otherwise.
func CheckContext(ctx context.Context, op string) error {
	select {
	case <-ctx.Done():
		return FromContext(op, ctx.Err())
	default:
		return nil
	}
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "CONFIGURATION_ERROR"
	case errors.Is(err, ErrAlignment):
		return "ALIGNMENT_ERROR"
	case errors.Is(err, ErrInfeasibleConstraints):
		return "INFEASIBLE_CONSTRAINTS"
	case errors.Is(err, ErrDataGap):
		return "DATA_GAP"
	case errors.Is(err, ErrDeadlineExceeded):
		return "DEADLINE_EXCEEDED"
	case errors.Is(err, ErrPortfolioRuin):
		return "PORTFOLIO_RUIN"
	case errors.Is(err, context.Canceled):
		return "CANCELLED"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus maps err to the status returned by the tool-call surface.
func HTTPStatus(err error) int {
	switch Code(err) {
	case "CONFIGURATION_ERROR", "ALIGNMENT_ERROR":
		return http.StatusBadRequest
	case "INFEASIBLE_CONSTRAINTS", "DATA_GAP", "PORTFOLIO_RUIN":
		return http.StatusUnprocessableEntity
	case "DEADLINE_EXCEEDED":
		return http.StatusGatewayTimeout
	case "CANCELLED":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
