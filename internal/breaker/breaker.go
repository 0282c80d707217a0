// Package breaker guards calls to failing dependencies. One Breaker exists
// per dependency key (channel endpoint, hostname, named resource); the
// Registry creates them lazily and keeps them for the process lifetime.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/carepulse/notify/internal/domain"
)

// State is the breaker position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes one breaker. Zero values fall back to the defaults below.
type Config struct {
	// FailureThreshold is the failure count within the monitoring window
	// (or consecutive failures when the window is disabled) that opens
	// the circuit.
	FailureThreshold int

	// SuccessThreshold is the consecutive half-open successes required
	// to close the circuit again.
	SuccessThreshold int

	// VolumeThreshold is the minimum number of calls observed within the
	// monitoring window before the failure threshold applies. Prevents a
	// cold breaker from opening on its very first calls.
	VolumeThreshold int

	// MonitoringWindow bounds failure counting. Zero counts consecutive
	// failures without a window.
	MonitoringWindow time.Duration

	// ResetTimeout is how long the circuit stays open before a half-open
	// trial. When BackoffMultiplier > 1 a failed trial grows the timeout
	// by that factor, clamped to MaxResetTimeout.
	ResetTimeout      time.Duration
	BackoffMultiplier float64
	MaxResetTimeout   time.Duration

	// OnStateChange is invoked on every transition. Optional.
	OnStateChange func(key string, from, to State)
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.MaxResetTimeout <= 0 {
		c.MaxResetTimeout = 10 * time.Minute
	}
	return c
}

// Breaker is a closed/open/half-open state machine. Safe for concurrent use;
// every read-increment-check-write sequence runs under the mutex so
// concurrent callers on the same key never undercount failures.
type Breaker struct {
	mu  sync.Mutex
	key string
	cfg Config

	state         State
	failures      int
	successes     int
	calls         int // calls observed in the current window
	windowStart   time.Time
	openedAt      time.Time
	resetTimeout  time.Duration // current value, grows on repeated trips
	trialInFlight bool          // a half-open trial has been admitted but not reported

	now func() time.Time
}

func New(key string, cfg Config) *Breaker {
	cfg = cfg.withDefaults()
	b := &Breaker{
		key:          key,
		cfg:          cfg,
		state:        Closed,
		resetTimeout: cfg.ResetTimeout,
		now:          time.Now,
	}
	b.windowStart = b.now()
	return b
}

// Allow reports whether a call may proceed. In the open state it returns a
// CircuitOpenError until the reset timeout elapses, at which point the
// breaker moves to half-open and admits one trial at a time: further callers
// are rejected until the in-flight trial reports, so a burst of concurrent
// calls cannot all probe a dependency that is likely still down.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.now().Sub(b.openedAt) >= b.resetTimeout {
			b.transition(HalfOpen)
			b.trialInFlight = true
			return nil
		}
		return &domain.CircuitOpenError{Key: b.key}
	case HalfOpen:
		if b.trialInFlight {
			return &domain.CircuitOpenError{Key: b.key}
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess notes a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.rollWindow()
		b.calls++
		if b.cfg.MonitoringWindow == 0 {
			// Consecutive counting: any success breaks the streak.
			b.failures = 0
		}
	case HalfOpen:
		b.trialInFlight = false
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.resetTimeout = b.cfg.ResetTimeout
			b.transition(Closed)
		}
	}
}

// RecordFailure notes a failed call and may open the circuit.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.rollWindow()
		b.calls++
		b.failures++
		if b.failures >= b.cfg.FailureThreshold && b.calls >= b.cfg.VolumeThreshold {
			b.openedAt = b.now()
			b.transition(Open)
		}
	case HalfOpen:
		// Trial failed: reopen and back the reset timeout off.
		b.trialInFlight = false
		if b.cfg.BackoffMultiplier > 1 {
			grown := time.Duration(float64(b.resetTimeout) * b.cfg.BackoffMultiplier)
			if grown > b.cfg.MaxResetTimeout {
				grown = b.cfg.MaxResetTimeout
			}
			b.resetTimeout = grown
		}
		b.openedAt = b.now()
		b.transition(Open)
	}
}

// Do runs op through the breaker. Aborted operations are not counted as
// dependency failures: cancellation says nothing about the dependency.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := op(ctx)
	if err != nil {
		var aborted *domain.AbortedError
		if !errors.As(err, &aborted) && !errors.Is(err, context.Canceled) {
			b.RecordFailure()
		} else {
			b.releaseTrial()
		}
		return err
	}
	b.RecordSuccess()
	return nil
}

// releaseTrial frees the half-open slot when an admitted trial ends without
// a verdict, such as a context abort, so later callers can still probe.
func (b *Breaker) releaseTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.trialInFlight = false
	}
}

// State returns the position the breaker would take on the next Allow.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetTimeout = b.cfg.ResetTimeout
	if b.state != Closed {
		b.transition(Closed)
	} else {
		b.resetCounters()
	}
}

// Stats is a point-in-time view for observability.
type Stats struct {
	Key          string        `json:"key"`
	State        string        `json:"state"`
	Failures     int           `json:"failures"`
	Successes    int           `json:"successes"`
	Calls        int           `json:"calls"`
	ResetTimeout time.Duration `json:"reset_timeout"`
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Key:          b.key,
		State:        b.state.String(),
		Failures:     b.failures,
		Successes:    b.successes,
		Calls:        b.calls,
		ResetTimeout: b.resetTimeout,
	}
}

// transition must be called with the mutex held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == Closed || to == HalfOpen {
		b.resetCounters()
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.key, from, to)
	}
}

// rollWindow discards stale counts once the monitoring window elapses.
// Must be called with the mutex held.
func (b *Breaker) rollWindow() {
	if b.cfg.MonitoringWindow == 0 {
		return
	}
	if now := b.now(); now.Sub(b.windowStart) >= b.cfg.MonitoringWindow {
		b.windowStart = now
		b.failures = 0
		b.calls = 0
	}
}

func (b *Breaker) resetCounters() {
	b.failures = 0
	b.successes = 0
	b.calls = 0
	b.trialInFlight = false
	b.windowStart = b.now()
}
