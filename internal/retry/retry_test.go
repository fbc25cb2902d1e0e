package retry

import (
	"errors"
	"testing"
	"time"
)

var errBusy = errors.New("busy")

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 5}.Do(func() error {
		calls++
		if calls < 3 {
			return Again(errBusy)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoMaxAttempts(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 4}.Do(func() error {
		calls++
		return Again(errBusy)
	})
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("Do() = %v, want %v", err, ErrExhausted)
	}
	if !errors.Is(err, errBusy) {
		t.Errorf("Do() = %v, should wrap last error", err)
	}
	// One initial attempt plus MaxAttempts retries.
	if calls != 5 {
		t.Errorf("calls = %d, want 5", calls)
	}
}

func TestDoMaxElapsed(t *testing.T) {
	err := Policy{MaxElapsed: 5 * time.Millisecond, Interval: time.Millisecond}.Do(func() error {
		return Again(errBusy)
	})
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("Do() = %v, want %v", err, ErrExhausted)
	}
}

func TestDoPermanentError(t *testing.T) {
	errFatal := errors.New("fatal")
	calls := 0
	err := Policy{MaxAttempts: 10}.Do(func() error {
		calls++
		return errFatal
	})
	if !errors.Is(err, errFatal) || errors.Is(err, ErrExhausted) {
		t.Errorf("Do() = %v, want %v", err, errFatal)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestAgainNil(t *testing.T) {
	if Again(nil) != nil {
		t.Error("Again(nil) should be nil")
	}
}

func TestDefaultPolicies(t *testing.T) {
	if p := BusyPolicy(); p.MaxAttempts == 0 || p.Interval == 0 {
		t.Errorf("BusyPolicy() = %+v, want bounded attempts with an interval", p)
	}
	if p := SyncPolicy(); p.MaxElapsed == 0 {
		t.Errorf("SyncPolicy() = %+v, want bounded elapsed time", p)
	}
}
