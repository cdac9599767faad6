// src/models/errors.go
package models

import (
	"context"
	"errors"
)

// Failure taxonomy for workflow attempts. Everything except ErrCancelled is
// retryable by the orchestrator on a later pass.
var (
	// ErrControlNotFound: a portal control could not be located after every
	// fallback tier was exhausted.
	ErrControlNotFound = errors.New("control not found")
	// ErrChannelTimeout: the mailbox did not yield a usable code in time.
	ErrChannelTimeout = errors.New("mail channel timeout")
	// ErrInsufficientFunds: no origin account holds enough for the amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrSessionFault: the browser session itself broke.
	ErrSessionFault = errors.New("session fault")
	// ErrCancelled: the run was cancelled; propagates out of the orchestrator.
	ErrCancelled = errors.New("cancelled")
)

// Error kind names as persisted and reported.
const (
	KindControlNotFound   = "ControlNotFound"
	KindChannelTimeout    = "ChannelTimeout"
	KindInsufficientFunds = "InsufficientFunds"
	KindSessionFault      = "SessionFault"
	KindCancelled         = "Cancelled"
)

// ErrorKind classifies an error into the taxonomy. Unrecognized errors are
// reported as session faults: something outside the known failure points
// broke the attempt.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, ErrControlNotFound):
		return KindControlNotFound
	case errors.Is(err, ErrChannelTimeout):
		return KindChannelTimeout
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	default:
		return KindSessionFault
	}
}

// IsCancellation reports whether an error means the run should stop instead
// of retrying.
func IsCancellation(err error) bool {
	return err != nil && ErrorKind(err) == KindCancelled
}
