package runtime

import (
	"context"
	"errors"
	"testing"
	"time"
)

type classedError struct {
	msg   string
	class string
}

func (e *classedError) Error() string { return e.msg }
func (e *classedError) Class() string { return e.class }

func TestInvoker_RetriesWithBackoff(t *testing.T) {
	var delays []time.Duration
	inv := NewInvoker(WithSleep(func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}))

	policy := ActivityPolicy{
		Retry: RetryPolicy{
			InitialInterval:    10 * time.Millisecond,
			MaximumInterval:    25 * time.Millisecond,
			BackoffCoefficient: 2,
			MaximumAttempts:    4,
		},
	}

	attempts := 0
	err := inv.Invoke(context.Background(), "flaky", policy, func(ctx context.Context, beat func()) error {
		attempts++
		if attempts < 4 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", attempts)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("sleep %d: expected %v, got %v", i, want[i], delays[i])
		}
	}
}

func TestInvoker_NonRetryableStopsImmediately(t *testing.T) {
	inv := NewInvoker(WithSleep(func(ctx context.Context, d time.Duration) error {
		t.Fatalf("should not sleep for non-retryable errors")
		return nil
	}))

	policy := ActivityPolicy{
		Retry: RetryPolicy{
			InitialInterval: time.Millisecond,
			MaximumAttempts: 5,
			NonRetryable:    []string{"PAYMENT_ERROR"},
		},
	}

	cause := &classedError{msg: "card declined", class: "PAYMENT_ERROR"}
	attempts := 0
	err := inv.Invoke(context.Background(), "processPayment", policy, func(ctx context.Context, beat func()) error {
		attempts++
		return cause
	})

	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
	var failure *ActivityFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *ActivityFailure, got %T (%v)", err, err)
	}
	if failure.Attempts != 1 {
		t.Fatalf("expected failure after 1 attempt, got %d", failure.Attempts)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected failure to wrap the original cause")
	}
	if ErrorClass(err) != "PAYMENT_ERROR" {
		t.Fatalf("expected class to survive wrapping, got %q", ErrorClass(err))
	}
}

func TestInvoker_ExhaustedRetriesWrapLastError(t *testing.T) {
	inv := NewInvoker(WithSleep(func(ctx context.Context, d time.Duration) error { return nil }))

	policy := ActivityPolicy{
		Retry: RetryPolicy{InitialInterval: time.Millisecond, MaximumAttempts: 3},
	}

	last := errors.New("still down")
	attempts := 0
	err := inv.Invoke(context.Background(), "adjust", policy, func(ctx context.Context, beat func()) error {
		attempts++
		return last
	})

	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	var failure *ActivityFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *ActivityFailure, got %v", err)
	}
	if failure.Attempts != 3 || !errors.Is(err, last) {
		t.Fatalf("expected 3 attempts wrapping last cause, got %v", failure)
	}
}

func TestInvoker_HeartbeatTimeoutFailsAttempt(t *testing.T) {
	inv := NewInvoker(WithSleep(func(ctx context.Context, d time.Duration) error { return nil }))

	policy := ActivityPolicy{
		HeartbeatTimeout: 20 * time.Millisecond,
		Retry:            RetryPolicy{MaximumAttempts: 1},
	}

	err := inv.Invoke(context.Background(), "silent", policy, func(ctx context.Context, beat func()) error {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-time.After(time.Second):
			return nil
		}
	})
	if !errors.Is(err, ErrHeartbeatTimeout) {
		t.Fatalf("expected heartbeat timeout, got %v", err)
	}
}

func TestInvoker_HeartbeatKeepsLongActivityAlive(t *testing.T) {
	inv := NewInvoker()

	policy := ActivityPolicy{
		HeartbeatTimeout: 30 * time.Millisecond,
		Retry:            RetryPolicy{MaximumAttempts: 1},
	}

	err := inv.Invoke(context.Background(), "beating", policy, func(ctx context.Context, beat func()) error {
		for i := 0; i < 5; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			beat()
			time.Sleep(10 * time.Millisecond)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success while heartbeating, got %v", err)
	}
}

func TestInvoker_StartToCloseTimeout(t *testing.T) {
	inv := NewInvoker(WithSleep(func(ctx context.Context, d time.Duration) error { return nil }))

	policy := ActivityPolicy{
		StartToCloseTimeout: 20 * time.Millisecond,
		Retry:               RetryPolicy{MaximumAttempts: 1},
	}

	err := inv.Invoke(context.Background(), "slow", policy, func(ctx context.Context, beat func()) error {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-time.After(time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type recordingObserver struct {
	started []string
	errs    []error
}

func (o *recordingObserver) ActivityStarted(activity string) func(err error) {
	o.started = append(o.started, activity)
	return func(err error) { o.errs = append(o.errs, err) }
}

func TestInvoker_ObserverSeesInvocations(t *testing.T) {
	obs := &recordingObserver{}
	inv := NewInvoker(WithObserver(obs))

	_ = inv.Invoke(context.Background(), "ok", ActivityPolicy{}, func(ctx context.Context, beat func()) error {
		return nil
	})
	failing := errors.New("boom")
	_ = inv.Invoke(context.Background(), "bad", ActivityPolicy{}, func(ctx context.Context, beat func()) error {
		return failing
	})

	if len(obs.started) != 2 || obs.started[0] != "ok" || obs.started[1] != "bad" {
		t.Fatalf("unexpected spans: %v", obs.started)
	}
	if obs.errs[0] != nil || obs.errs[1] == nil {
		t.Fatalf("unexpected span errors: %v", obs.errs)
	}
}
