package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/carepulse/notify/internal/backoff"
	"github.com/carepulse/notify/internal/domain"
)

// Operation is the unit of work the executor runs and re-runs. Operations
// must honor ctx cancellation: the per-attempt timeout is enforced through
// the context handed to the operation, so one that ignores its context can
// run past Strategy.Timeout before the failed attempt is recorded.
type Operation func(ctx context.Context) error

// Hooks carries optional metric callbacks injected by the caller so the
// executor stays metrics-agnostic.
type Hooks struct {
	OnAttempt func(strategy string, ok bool, duration time.Duration)
	OnOutcome func(strategy string, status ExecutionStatus, attempts int)
}

// Executor runs operations under named retry strategies.
type Executor struct {
	registry *Registry
	store    *ExecutionStore
	logger   *zap.Logger
	hooks    Hooks

	// maxConcurrent caps executions in flight across all callers.
	// Zero disables the cap.
	maxConcurrent int64
	inflight      atomic.Int64

	// rng seeds jitter; nil uses the shared global source.
	rng *rand.Rand
}

func NewExecutor(registry *Registry, store *ExecutionStore, maxConcurrent int, logger *zap.Logger, hooks Hooks) *Executor {
	if hooks.OnAttempt == nil {
		hooks.OnAttempt = func(string, bool, time.Duration) {}
	}
	if hooks.OnOutcome == nil {
		hooks.OnOutcome = func(string, ExecutionStatus, int) {}
	}
	return &Executor{
		registry:      registry,
		store:         store,
		logger:        logger,
		hooks:         hooks,
		maxConcurrent: int64(maxConcurrent),
	}
}

// InFlight returns the number of executions currently running.
func (e *Executor) InFlight() int64 { return e.inflight.Load() }

// Execute runs op under the named strategy and returns the execution record
// id together with the final error, nil on success.
//
// Attempt accounting: the loop runs at most Strategy.Attempts+1 times. A
// per-attempt timeout counts as a failed attempt. A non-retryable error is
// raised immediately without consuming the remaining attempts. Executions
// above the concurrency cap are rejected with a CapacityError before any
// attempt is made.
func (e *Executor) Execute(ctx context.Context, strategyName string, op Operation) (string, error) {
	strategy, ok := e.registry.Get(strategyName)
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownStrategy, strategyName)
	}
	return e.ExecuteStrategy(ctx, strategy, op)
}

// ExecuteStrategy is Execute for an unregistered, ad-hoc strategy.
func (e *Executor) ExecuteStrategy(ctx context.Context, strategy Strategy, op Operation) (string, error) {
	if e.maxConcurrent > 0 {
		if e.inflight.Add(1) > e.maxConcurrent {
			e.inflight.Add(-1)
			return "", &domain.CapacityError{
				Resource: "retry executor",
				Err:      fmt.Errorf("concurrency cap %d reached", e.maxConcurrent),
			}
		}
	} else {
		e.inflight.Add(1)
	}
	defer e.inflight.Add(-1)

	exec := e.store.begin(strategy.Name)

	calc := backoff.Calculator{
		Kind:     strategy.Backoff,
		Base:     strategy.Delay,
		Jitter:   strategy.Jitter,
		MaxDelay: strategy.MaxDelay,
		Rand:     e.rng,
	}
	retryIf := strategy.RetryIf
	if retryIf == nil {
		retryIf = domain.IsRetryable
	}

	total := strategy.Attempts + 1
	var delay time.Duration
	var lastErr error

	for attempt := 1; attempt <= total; attempt++ {
		// Abort promptly rather than starting another attempt after cancel.
		if err := ctx.Err(); err != nil {
			e.finish(exec, ExecutionAborted)
			return exec.ID, &domain.AbortedError{Err: err}
		}

		start := time.Now()
		err := e.runAttempt(ctx, strategy.Timeout, op)
		duration := time.Since(start)

		e.store.record(exec, Attempt{
			Number:   attempt,
			At:       start.UTC(),
			Delay:    delay,
			Duration: duration,
			OK:       err == nil,
			Error:    errMessage(err),
		})
		e.hooks.OnAttempt(strategy.Name, err == nil, duration)

		if err == nil {
			e.finish(exec, ExecutionSuccess)
			if strategy.OnSuccess != nil {
				strategy.OnSuccess(attempt)
			}
			return exec.ID, nil
		}
		lastErr = err

		var aborted *domain.AbortedError
		if errors.As(err, &aborted) {
			e.finish(exec, ExecutionAborted)
			return exec.ID, err
		}

		if !retryIf(err) {
			e.finish(exec, ExecutionFailure)
			if strategy.OnFailure != nil {
				strategy.OnFailure(attempt, err)
			}
			return exec.ID, fmt.Errorf("non-retryable error on attempt %d: %w", attempt, err)
		}

		if attempt == total {
			break
		}

		delay = calc.Delay(attempt)
		if strategy.OnRetry != nil {
			strategy.OnRetry(attempt, err, delay)
		}
		e.logger.Debug("retrying after backoff",
			zap.String("strategy", strategy.Name),
			zap.String("execution_id", exec.ID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if err := sleep(ctx, delay); err != nil {
			e.finish(exec, ExecutionAborted)
			return exec.ID, &domain.AbortedError{Err: err}
		}
	}

	e.finish(exec, ExecutionFailure)
	if strategy.OnFailure != nil {
		strategy.OnFailure(total, lastErr)
	}
	return exec.ID, fmt.Errorf("exhausted %d attempts: %w", total, lastErr)
}

// runAttempt executes op once, racing it against the per-attempt timeout.
// A timeout while the parent context is still live is a transient failure;
// parent cancellation surfaces as an abort.
func (e *Executor) runAttempt(ctx context.Context, timeout time.Duration, op Operation) error {
	if timeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := op(attemptCtx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && attemptCtx.Err() != nil && ctx.Err() == nil {
		return &domain.TransientError{Err: fmt.Errorf("attempt timed out after %v", timeout)}
	}
	if ctx.Err() != nil {
		return &domain.AbortedError{Err: ctx.Err()}
	}
	return err
}

func (e *Executor) finish(exec *Execution, status ExecutionStatus) {
	e.store.finish(exec, status)
	e.hooks.OnOutcome(exec.Strategy, status, len(exec.Attempts))
}

// sleep waits for d, returning immediately with the context error if the
// caller aborts mid-wait.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
