package runtime

import (
	"context"
	"sync"
)

// SignalHandler mutates workflow state in response to an external signal.
// Payloads are raw JSON; handlers own decoding.
type SignalHandler func(payload []byte) error

// QueryHandler returns a read-only, JSON-serializable snapshot of state.
type QueryHandler func() (any, error)

// Context is the cooperative scheduling surface handed to a workflow body.
//
// The workflow runs single-writer: the body holds the context lock for the
// whole of its execution except at suspension points (activity invocations,
// parallel joins, explicit yields). Signal and query deliveries take the same
// lock, so handlers run between suspension points and never concurrently with
// workflow computation.
type Context struct {
	invoker *Invoker

	mu        sync.Mutex
	signals   map[string]SignalHandler
	queries   map[string]QueryHandler
	cancelled bool
	finished  bool
}

func newContext(invoker *Invoker) *Context {
	return &Context{
		invoker: invoker,
		signals: make(map[string]SignalHandler),
		queries: make(map[string]QueryHandler),
	}
}

// HandleSignal registers a signal handler. Must be called from the workflow
// body, before it first suspends.
func (w *Context) HandleSignal(name string, h SignalHandler) {
	w.signals[name] = h
}

// HandleQuery registers a query handler. Must be called from the workflow
// body, before it first suspends.
func (w *Context) HandleQuery(name string, h QueryHandler) {
	w.queries[name] = h
}

// CancelRequested reports whether cooperative cancellation has been observed.
// Must be called from the workflow body.
func (w *Context) CancelRequested() bool {
	return w.cancelled
}

// MarkCancelled raises the cancellation flag from within the workflow body,
// so a signal-driven cancellation lands the handle in the same terminal
// status as a client-driven one. Must be called from the workflow body.
func (w *Context) MarkCancelled() {
	w.cancelled = true
}

// Invoke is a suspension point: it releases the workflow lock, runs the
// activity under its policy, and reacquires the lock. If cancellation was
// requested, it is reported in preference to any in-flight activity error.
func (w *Context) Invoke(ctx context.Context, activity string, policy ActivityPolicy, fn ActivityFunc) error {
	return w.Yield(func() error {
		return w.invoker.Invoke(ctx, activity, policy, fn)
	})
}

// Invocation names one activity call for a parallel fan-out.
type Invocation struct {
	Activity string
	Policy   ActivityPolicy
	Fn       ActivityFunc
}

// InvokeAll is a suspension point that runs all invocations concurrently and
// waits for every one to finish. Each invocation owns disjoint state; results
// join back here. The first error in declaration order is returned, so the
// outcome is deterministic regardless of completion order.
func (w *Context) InvokeAll(ctx context.Context, invs []Invocation) error {
	return w.Yield(func() error {
		errs := make([]error, len(invs))
		var wg sync.WaitGroup
		for i, inv := range invs {
			wg.Add(1)
			go func(i int, inv Invocation) {
				defer wg.Done()
				errs[i] = w.invoker.Invoke(ctx, inv.Activity, inv.Policy, inv.Fn)
			}(i, inv)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Yield releases the workflow lock around fn, letting queued signals and
// queries run, and reacquires it afterwards. Cancellation observed across the
// yield takes priority over fn's error.
func (w *Context) Yield(fn func() error) error {
	if w.cancelled {
		return ErrCancelRequested
	}
	w.mu.Unlock()
	err := fn()
	w.mu.Lock()
	if w.cancelled {
		return ErrCancelRequested
	}
	return err
}

// Detach starts a fire-and-forget sub-process. The parent neither waits for
// nor observes its outcome.
func (w *Context) Detach(fn func(ctx context.Context)) {
	go fn(context.Background())
}

// Signal delivers a named signal. It blocks until the workflow suspends.
func (w *Context) Signal(name string, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return ErrWorkflowFinished
	}
	h, ok := w.signals[name]
	if !ok {
		return ErrUnknownSignal
	}
	return h(payload)
}

// Query runs a named query against the current state. Queries remain
// answerable after the workflow finishes.
func (w *Context) Query(name string) (any, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, ok := w.queries[name]
	if !ok {
		return nil, ErrUnknownQuery
	}
	return h()
}

// Cancel raises the one-way cancellation flag. The workflow observes it at
// its next suspension point; in-flight activities are not preempted.
func (w *Context) Cancel() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return ErrWorkflowFinished
	}
	w.cancelled = true
	return nil
}
