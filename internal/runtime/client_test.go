package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func discardLogf(format string, args ...any) {}

func TestClient_SignalThenQueryRoundTrip(t *testing.T) {
	client := NewClient(NewInvoker(), discardLogf)

	release := make(chan struct{})
	h, err := client.Start("wf-1", "counter", nil, func(ctx context.Context, wctx *Context) (string, error) {
		count := 0
		wctx.HandleSignal("add", func(payload []byte) error {
			var n int
			if err := json.Unmarshal(payload, &n); err != nil {
				return err
			}
			count += n
			return nil
		})
		wctx.HandleQuery("count", func() (any, error) { return count, nil })

		// Suspend until released so signals can be delivered.
		return "done", wctx.Yield(func() error {
			<-release
			return nil
		})
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := client.Signal("wf-1", "add", []byte("2")); err != nil {
		t.Fatalf("signal: %v", err)
	}
	got, err := client.Query("wf-1", "count")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got != 2 {
		t.Fatalf("query after signal should see the effect; got %v", got)
	}

	close(release)
	if _, err := h.Result(context.Background()); err != nil {
		t.Fatalf("result: %v", err)
	}
	if h.Status() != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", h.Status())
	}
}

func TestClient_SignalBeforeFirstSuspensionSeesHandlers(t *testing.T) {
	client := NewClient(NewInvoker(), discardLogf)

	_, err := client.Start("wf-slow", "slowstart", nil, func(ctx context.Context, wctx *Context) (string, error) {
		// Handler registration happens while the body still holds the lock,
		// so a racing signal must wait and then find the handler.
		time.Sleep(20 * time.Millisecond)
		seen := false
		wctx.HandleSignal("poke", func(payload []byte) error {
			seen = true
			return nil
		})
		wctx.HandleQuery("seen", func() (any, error) { return seen, nil })
		return "ok", wctx.Yield(func() error {
			time.Sleep(20 * time.Millisecond)
			return nil
		})
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := client.Signal("wf-slow", "poke", nil); err != nil {
		t.Fatalf("signal should wait for registration, got %v", err)
	}
}

func TestClient_CancelObservedAtSuspensionPoint(t *testing.T) {
	client := NewClient(NewInvoker(), discardLogf)

	inFlight := make(chan struct{})
	release := make(chan struct{})
	h, err := client.Start("wf-c", "cancellable", nil, func(ctx context.Context, wctx *Context) (string, error) {
		err := wctx.Invoke(ctx, "work", ActivityPolicy{}, func(ctx context.Context, beat func()) error {
			close(inFlight)
			<-release
			return nil
		})
		if errors.Is(err, ErrCancelRequested) {
			return "unwound", nil
		}
		return "finished", err
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	<-inFlight
	if err := client.Cancel("wf-c"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(release)

	result, err := h.Result(context.Background())
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if result != "unwound" {
		t.Fatalf("expected cancellation to take priority at the join, got %q", result)
	}
	if h.Status() != StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", h.Status())
	}
}

func TestClient_DuplicateIDRejected(t *testing.T) {
	client := NewClient(NewInvoker(), discardLogf)

	wf := func(ctx context.Context, wctx *Context) (string, error) { return "", nil }
	if _, err := client.Start("same", "t", nil, wf); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := client.Start("same", "t", nil, wf); !errors.Is(err, ErrDuplicateWorkflowID) {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestClient_UnknownWorkflowAndSignal(t *testing.T) {
	client := NewClient(NewInvoker(), discardLogf)

	if err := client.Signal("nope", "x", nil); !errors.Is(err, ErrWorkflowNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	h, err := client.Start("wf-u", "t", nil, func(ctx context.Context, wctx *Context) (string, error) {
		return "ok", wctx.Yield(func() error {
			time.Sleep(10 * time.Millisecond)
			return nil
		})
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := client.Signal("wf-u", "missing", nil); !errors.Is(err, ErrUnknownSignal) {
		t.Fatalf("expected unknown signal, got %v", err)
	}
	if _, err := h.Result(context.Background()); err != nil {
		t.Fatalf("result: %v", err)
	}
}

func TestClient_SignalAfterCompletionFails(t *testing.T) {
	client := NewClient(NewInvoker(), discardLogf)

	h, err := client.Start("wf-f", "t", nil, func(ctx context.Context, wctx *Context) (string, error) {
		wctx.HandleSignal("late", func([]byte) error { return nil })
		return "done", nil
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.Result(context.Background()); err != nil {
		t.Fatalf("result: %v", err)
	}
	if err := client.Signal("wf-f", "late", nil); !errors.Is(err, ErrWorkflowFinished) {
		t.Fatalf("expected finished error, got %v", err)
	}
}

func TestClient_ListFiltersBySearchAttributes(t *testing.T) {
	client := NewClient(NewInvoker(), discardLogf)
	now := time.Now()
	client.now = func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	}

	wf := func(ctx context.Context, wctx *Context) (string, error) { return "", nil }
	handles := []struct {
		id    string
		typ   string
		attrs map[string]string
	}{
		{"o-1", "orderWorkflow", map[string]string{"kind": "order_processing"}},
		{"o-2", "orderWorkflow", map[string]string{"kind": "order_processing"}},
		{"s-1", "processWorkflow", map[string]string{"kind": "schema"}},
	}
	for _, h := range handles {
		created, err := client.Start(h.id, h.typ, h.attrs, wf)
		if err != nil {
			t.Fatalf("start %s: %v", h.id, err)
		}
		if _, err := created.Result(context.Background()); err != nil {
			t.Fatalf("result %s: %v", h.id, err)
		}
	}

	got := client.List(Filter{SearchAttributes: map[string]string{"kind": "order_processing"}})
	if len(got) != 2 || got[0].ID != "o-1" || got[1].ID != "o-2" {
		t.Fatalf("unexpected list: %+v", got)
	}

	got = client.List(Filter{Type: "processWorkflow"})
	if len(got) != 1 || got[0].ID != "s-1" {
		t.Fatalf("unexpected list by type: %+v", got)
	}
}
