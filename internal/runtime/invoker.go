package runtime

import (
	"context"
	"errors"
	"time"
)

// ActivityFunc performs a single attempt of an activity. Implementations that
// run long enough to be covered by a heartbeat timeout must call beat
// periodically; short activities may ignore it.
type ActivityFunc func(ctx context.Context, beat func()) error

// Observer receives a span per activity invocation (attempts included).
type Observer interface {
	ActivityStarted(activity string) (done func(err error))
}

// Invoker applies an ActivityPolicy around activity functions: start-to-close
// timeout, heartbeat monitoring, retries with exponential backoff, and
// non-retryable error class short-circuiting.
type Invoker struct {
	sleep    func(context.Context, time.Duration) error
	observer Observer
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithObserver attaches an invocation observer (e.g. metrics).
func WithObserver(o Observer) InvokerOption {
	return func(inv *Invoker) { inv.observer = o }
}

// WithSleep replaces the backoff sleep function, for tests.
func WithSleep(sleep func(context.Context, time.Duration) error) InvokerOption {
	return func(inv *Invoker) { inv.sleep = sleep }
}

// NewInvoker constructs an Invoker.
func NewInvoker(opts ...InvokerOption) *Invoker {
	inv := &Invoker{sleep: sleepWithContext}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke runs fn under the policy. Transient errors are retried here and never
// surface to the caller; the returned error is either a context error or an
// *ActivityFailure wrapping the last attempt's cause.
func (inv *Invoker) Invoke(ctx context.Context, activity string, policy ActivityPolicy, fn ActivityFunc) error {
	done := func(error) {}
	if inv.observer != nil {
		done = inv.observer.ActivityStarted(activity)
	}
	err := inv.invoke(ctx, activity, policy, fn)
	done(err)
	return err
}

func (inv *Invoker) invoke(ctx context.Context, activity string, policy ActivityPolicy, fn ActivityFunc) error {
	attempts := policy.Retry.attempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := inv.attempt(ctx, policy, fn)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == attempts || policy.Retry.nonRetryable(err) {
			return &ActivityFailure{Activity: activity, Attempts: attempt, Err: err}
		}

		if delay := policy.Retry.delay(attempt); delay > 0 {
			if err := inv.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return &ActivityFailure{Activity: activity, Attempts: attempts, Err: lastErr}
}

// attempt runs one attempt under the start-to-close timeout with a heartbeat
// watchdog. The activity goroutine is abandoned on timeout; its context is
// cancelled so well-behaved activities unwind.
func (inv *Invoker) attempt(ctx context.Context, policy ActivityPolicy, fn ActivityFunc) error {
	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var timeout *time.Timer
	if policy.StartToCloseTimeout > 0 {
		timeout = time.AfterFunc(policy.StartToCloseTimeout, func() {
			cancel(context.DeadlineExceeded)
		})
		defer timeout.Stop()
	}

	beat := func() {}
	if policy.HeartbeatTimeout > 0 {
		watchdog := time.AfterFunc(policy.HeartbeatTimeout, func() {
			cancel(ErrHeartbeatTimeout)
		})
		defer watchdog.Stop()
		beat = func() { watchdog.Reset(policy.HeartbeatTimeout) }
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- fn(attemptCtx, beat)
	}()

	select {
	case err := <-errCh:
		return err
	case <-attemptCtx.Done():
		cause := context.Cause(attemptCtx)
		if cause != nil && !errors.Is(cause, context.Canceled) {
			return cause
		}
		return attemptCtx.Err()
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
