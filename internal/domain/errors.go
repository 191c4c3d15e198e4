package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds is returned when a lock would drive the
	// available balance negative. No state is mutated.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUnsupportedRoute is returned when either chain of a transfer
	// does not support the burn/mint protocol.
	ErrUnsupportedRoute = errors.New("unsupported transfer route")

	// ErrInvalidTransition is returned when a status transition violates
	// the transaction state machine or loses a compare-and-set race.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvariantViolation indicates a balance mutation that would break
	// available >= 0 or locked >= 0. Always a bug upstream.
	ErrInvariantViolation = errors.New("balance invariant violation")

	ErrNotFound = errors.New("not found")
)

// ExternalError wraps a failure from the custody or attestation APIs.
// Permanent errors must not be retried; transient ones are retried with
// backoff by the HTTP clients before they ever reach the caller.
type ExternalError struct {
	Op        string
	Permanent bool
	Err       error
}

func (e *ExternalError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s: %s external error: %v", e.Op, kind, e.Err)
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is a non-retryable external failure.
func IsPermanent(err error) bool {
	var ext *ExternalError
	if errors.As(err, &ext) {
		return ext.Permanent
	}
	return false
}
