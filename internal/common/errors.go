package common

import (
	"context"
	"errors"
	"fmt"

	"github.com/tablewise/invoice-pipeline/constants"
)

// AppError carries a failure cause category alongside the wrapped error so
// the lifecycle tracker can record why a document terminated.
type AppError struct {
	Code    constants.FailureCause
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Sentinel errors for the engine layers.
var (
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrMalformedResponse = errors.New("malformed engine response")
	ErrCircuitOpen       = errors.New("circuit breaker open")
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidInput      = errors.New("invalid input")
)

func NewAppError(code constants.FailureCause, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// CauseOf maps an arbitrary pipeline error onto the failure taxonomy.
// Context expiry is a Timeout or Cancelled depending on which budget fired;
// everything else that escapes the fallback layers counts as an exhausted
// engine.
func CauseOf(err error) constants.FailureCause {
	var app *AppError
	if errors.As(err, &app) {
		return app.Code
	}
	switch {
	case errors.Is(err, context.Canceled):
		return constants.CauseCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return constants.CauseTimeout
	case errors.Is(err, ErrMalformedResponse):
		return constants.CauseMalformedResponse
	default:
		return constants.CauseEngineUnavailable
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
