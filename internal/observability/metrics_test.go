package observability

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMetricsTracksInvocations(t *testing.T) {
	metrics := NewMetrics()
	span := metrics.StartSpan("processPayment")
	time.Sleep(1 * time.Millisecond)
	span.End(nil)

	span = metrics.StartSpan("processPayment")
	span.End(errors.New("fail"))

	snap := metrics.Snapshot()
	stats := snap.Activities["processPayment"]
	if stats.Count != 2 {
		t.Fatalf("expected 2 invocations, got %d", stats.Count)
	}
	if stats.Failures != 1 {
		t.Fatalf("expected 1 failure, got %d", stats.Failures)
	}
	if stats.InFlight != 0 {
		t.Fatalf("expected 0 inflight, got %d", stats.InFlight)
	}
	if snap.TotalInvocations != 2 || snap.TotalFailures != 1 {
		t.Fatalf("unexpected totals: %+v", snap)
	}
}

func TestMetricsObservesInvoker(t *testing.T) {
	metrics := NewMetrics()

	done := metrics.ActivityStarted("updateInventory")
	mid := metrics.Snapshot()
	if mid.Activities["updateInventory"].InFlight != 1 {
		t.Fatalf("expected 1 inflight, got %+v", mid.Activities["updateInventory"])
	}
	done(nil)

	snap := metrics.Snapshot()
	stats := snap.Activities["updateInventory"]
	if stats.Count != 1 || stats.InFlight != 0 {
		t.Fatalf("unexpected stats after completion: %+v", stats)
	}
}

func TestMetricsMarkShutdown(t *testing.T) {
	metrics := NewMetrics()
	metrics.MarkShutdown(5)
	snap := metrics.Snapshot()
	if snap.Lifecycle == nil {
		t.Fatalf("expected lifecycle snapshot")
	}
	if snap.Lifecycle.InFlightAtShutdown != 5 {
		t.Fatalf("expected inflight 5, got %d", snap.Lifecycle.InFlightAtShutdown)
	}
	if snap.Lifecycle.ShutdownAt.IsZero() {
		t.Fatalf("expected shutdown timestamp")
	}
}

func TestHandlerReturnsJSON(t *testing.T) {
	metrics := NewMetrics()
	span := metrics.StartSpan("sendNotification")
	span.End(errors.New("fail"))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	Handler(metrics).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if snap.TotalFailures != 1 {
		t.Fatalf("expected total failures 1, got %d", snap.TotalFailures)
	}
	if len(snap.Activities) == 0 {
		t.Fatalf("expected activities in snapshot")
	}
}

func TestMetricsNilSafePaths(t *testing.T) {
	var m *Metrics
	span := m.StartSpan("ignored") // nil-safe
	span.End(nil)                  // should not panic

	m.MarkShutdown(10) // nil-safe
}
