package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrEngineRunning = errors.New("engine already running")

	// Order and agent rejections. Every rejected placement wraps exactly one
	// of these.
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnknownSymbol       = errors.New("unknown symbol")
	ErrOrderNotCancellable = errors.New("order not cancellable")
	ErrAgentNotEligible    = errors.New("agent not eligible")
	ErrSystemHalted        = errors.New("system halted")
	ErrRiskLimitExceeded   = errors.New("risk limit exceeded")
)

// RejectError explains why an order placement was refused. It unwraps to
// the sentinel so callers can keep matching with errors.Is.
type RejectError struct {
	Reason string
	Err    error
}

func (e *RejectError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Reason
}

func (e *RejectError) Unwrap() error { return e.Err }

// Reject builds a RejectError for sentinel err.
func Reject(err error, reason string) *RejectError {
	return &RejectError{Reason: reason, Err: err}
}
