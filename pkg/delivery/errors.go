package delivery

import (
	"errors"
	"fmt"
)

var (
	// ErrRetriesExhausted is returned once every attempt of a job failed.
	// The last attempt's error is wrapped alongside it.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrProbeFailed marks an attempt whose session did not answer the liveness probe.
	ErrProbeFailed = errors.New("smtp session failed liveness probe")

	ErrQueueFull   = errors.New("delivery queue is full")
	ErrQueueClosed = errors.New("delivery queue is shutting down")
)

// TransientSendError is the failure of a single delivery attempt.
// Op is one of "connect", "probe" or "send".
type TransientSendError struct {
	Op      string
	Attempt int
	Err     error
}

func (e *TransientSendError) Error() string {
	return fmt.Sprintf("attempt %d: %s: %v", e.Attempt, e.Op, e.Err)
}

func (e *TransientSendError) Unwrap() error {
	return e.Err
}
