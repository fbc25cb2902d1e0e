// Package retry bounds the polling loops around busy accelerator calls.
package retry

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is returned when a policy runs out of attempts or time.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy bounds a retry loop. Zero MaxAttempts and zero MaxElapsed both mean
// unbounded on that axis.
type Policy struct {
	MaxAttempts int
	MaxElapsed  time.Duration
	Interval    time.Duration
}

// BusyPolicy spaces retries while the device reports it is busy.
func BusyPolicy() Policy {
	return Policy{MaxAttempts: 5000, Interval: time.Millisecond}
}

// SyncPolicy re-polls a completion that is still executing. Each poll blocks
// inside the accelerator, so no extra interval is added.
func SyncPolicy() Policy {
	return Policy{MaxElapsed: 60 * time.Second}
}

type againError struct{ err error }

func (e *againError) Error() string { return e.err.Error() }
func (e *againError) Unwrap() error { return e.err }

// Again marks err as transient so Do tries again.
func Again(err error) error {
	if err == nil {
		return nil
	}
	return &againError{err: err}
}

// Do calls op until it returns nil or a non-transient error, or the policy is
// exhausted. Exhaustion wraps both ErrExhausted and the last transient error.
func (p Policy) Do(op func() error) error {
	start := time.Now()
	var b backoff.BackOff = backoff.NewConstantBackOff(p.Interval)
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts))
	}

	err := backoff.Retry(func() error {
		err := op()
		var again *againError
		if err == nil || !errors.As(err, &again) {
			if err != nil {
				return backoff.Permanent(err)
			}
			return nil
		}
		if p.MaxElapsed > 0 && time.Since(start) >= p.MaxElapsed {
			return backoff.Permanent(exhausted(again.err))
		}
		return err
	}, b)

	var again *againError
	if errors.As(err, &again) {
		return exhausted(again.err)
	}
	return err
}

func exhausted(last error) error {
	return fmt.Errorf("%w: %w", ErrExhausted, last)
}
