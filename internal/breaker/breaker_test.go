package breaker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/carepulse/notify/internal/breaker"
	"github.com/carepulse/notify/internal/domain"
)

func TestBreaker_OpensAtFailureThreshold(t *testing.T) {
	b := breaker.New("email:smtp", breaker.Config{FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if err := b.Allow(); err != nil {
			t.Fatalf("breaker must stay closed below threshold, failed at %d: %v", i+1, err)
		}
	}

	b.RecordFailure() // third failure crosses the threshold

	err := b.Allow()
	var open *domain.CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
	if open.Key != "email:smtp" {
		t.Fatalf("expected key on error, got %q", open.Key)
	}
}

func TestBreaker_OpenNeverInvokesOperation(t *testing.T) {
	b := breaker.New("sms:gw", breaker.Config{FailureThreshold: 1, ResetTimeout: time.Minute})
	b.RecordFailure()

	calls := 0
	err := b.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	var open *domain.CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
	if calls != 0 {
		t.Fatal("operation must not run while the circuit is open")
	}
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	b := breaker.New("k", breaker.Config{FailureThreshold: 2, ResetTimeout: time.Minute})

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()

	if err := b.Allow(); err != nil {
		t.Fatalf("success between failures must break the streak: %v", err)
	}
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	b := breaker.New("k", breaker.Config{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		ResetTimeout:     20 * time.Millisecond,
	})
	b.RecordFailure()

	if err := b.Allow(); err == nil {
		t.Fatal("expected rejection while open")
	}

	time.Sleep(30 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("expected half-open trial after reset timeout: %v", err)
	}
	if got := b.State(); got != breaker.HalfOpen {
		t.Fatalf("expected half-open, got %s", got)
	}

	// Two trial successes close the circuit.
	b.RecordSuccess()
	b.RecordSuccess()
	if got := b.State(); got != breaker.Closed {
		t.Fatalf("expected closed after success threshold, got %s", got)
	}
}

func TestBreaker_HalfOpenAdmitsOneTrialAtATime(t *testing.T) {
	b := breaker.New("k", breaker.Config{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		ResetTimeout:     10 * time.Millisecond,
	})
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("expected the first half-open trial to be admitted: %v", err)
	}

	// The trial has not reported yet: concurrent callers must not pile on a
	// dependency that is likely still down.
	err := b.Allow()
	var open *domain.CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("expected rejection while a trial is in flight, got %v", err)
	}

	// Once the trial reports, the next caller gets the slot.
	b.RecordSuccess()
	if err := b.Allow(); err != nil {
		t.Fatalf("expected a new trial after the first reported: %v", err)
	}
}

func TestBreaker_AbortReleasesHalfOpenTrial(t *testing.T) {
	b := breaker.New("k", breaker.Config{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		ResetTimeout:     10 * time.Millisecond,
	})
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	// The trial is aborted mid-flight; the slot must free up rather than
	// wedge the breaker half-open forever.
	_ = b.Do(context.Background(), func(ctx context.Context) error {
		return &domain.AbortedError{Err: context.Canceled}
	})

	if err := b.Allow(); err != nil {
		t.Fatalf("expected a trial slot after an aborted trial: %v", err)
	}
}

func TestBreaker_TrialFailureGrowsResetTimeout(t *testing.T) {
	b := breaker.New("k", breaker.Config{
		FailureThreshold:  1,
		ResetTimeout:      10 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxResetTimeout:   time.Hour,
	})
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("expected half-open trial: %v", err)
	}
	b.RecordFailure() // failed trial doubles the timeout to 20ms

	if got := b.Stats().ResetTimeout; got != 20*time.Millisecond {
		t.Fatalf("expected reset timeout 20ms after failed trial, got %v", got)
	}

	// Still open before the grown timeout elapses.
	time.Sleep(12 * time.Millisecond)
	if err := b.Allow(); err == nil {
		t.Fatal("expected rejection before grown reset timeout elapses")
	}
}

func TestBreaker_VolumeThresholdGuardsColdStart(t *testing.T) {
	b := breaker.New("k", breaker.Config{
		FailureThreshold: 2,
		VolumeThreshold:  10,
		MonitoringWindow: time.Minute,
		ResetTimeout:     time.Minute,
	})

	// Two failures but only two observed calls: below volume, stays closed.
	b.RecordFailure()
	b.RecordFailure()
	if err := b.Allow(); err != nil {
		t.Fatalf("breaker must not open below volume threshold: %v", err)
	}

	for i := 0; i < 7; i++ {
		b.RecordSuccess()
	}
	b.RecordFailure() // 10th call, 3 failures >= threshold
	if err := b.Allow(); err == nil {
		t.Fatal("expected open once volume threshold met")
	}
}

func TestBreaker_AbortNotCountedAsFailure(t *testing.T) {
	b := breaker.New("k", breaker.Config{FailureThreshold: 1, ResetTimeout: time.Minute})

	_ = b.Do(context.Background(), func(ctx context.Context) error {
		return &domain.AbortedError{Err: context.Canceled}
	})

	if err := b.Allow(); err != nil {
		t.Fatalf("abort must not trip the breaker: %v", err)
	}
}

func TestRegistry_LazyPerKeyBreakers(t *testing.T) {
	reg := breaker.NewRegistry(breaker.Config{FailureThreshold: 1, ResetTimeout: time.Minute})

	a := reg.Get("email:smtp")
	b := reg.Get("sms:gw")
	if a == b {
		t.Fatal("expected independent breakers per key")
	}
	if reg.Get("email:smtp") != a {
		t.Fatal("expected the same breaker instance on repeat lookups")
	}

	a.RecordFailure()
	if err := a.Allow(); err == nil {
		t.Fatal("expected email breaker open")
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("sms breaker must be unaffected: %v", err)
	}

	snap := reg.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 breakers in snapshot, got %d", len(snap))
	}
	if snap[0].Key != "email:smtp" || snap[0].State != "open" {
		t.Fatalf("unexpected snapshot entry: %+v", snap[0])
	}
}
