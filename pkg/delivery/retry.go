package delivery

import (
	"context"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoffUnit = 2 * time.Second
)

// RetryPolicy bounds the attempts of one job. The wait after attempt n is n × Unit.
type RetryPolicy struct {
	MaxAttempts int
	Unit        time.Duration
}

// DefaultRetryPolicy returns three attempts with 2s and 4s waits in between.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Unit: DefaultBackoffUnit}
}

// WithUnit returns a copy of p using unit for the backoff, ignoring non-positive values.
func (p RetryPolicy) WithUnit(unit time.Duration) RetryPolicy {
	if unit > 0 {
		p.Unit = unit
	}
	return p
}

// Backoff returns how long to wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return time.Duration(attempt) * p.Unit
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Unit <= 0 {
		p.Unit = DefaultBackoffUnit
	}
	return p
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
