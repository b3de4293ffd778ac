package observability

import (
	"sync"
	"time"
)

type ActivitySnapshot struct {
	Count         int64   `json:"count"`
	Failures      int64   `json:"failures"`
	InFlight      int64   `json:"in_flight"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

type Snapshot struct {
	UptimeSec        int64                       `json:"uptime_sec"`
	TotalInvocations int64                       `json:"total_invocations"`
	TotalFailures    int64                       `json:"total_failures"`
	InFlight         int64                       `json:"in_flight"`
	Lifecycle        *LifecycleSnapshot          `json:"lifecycle,omitempty"`
	Activities       map[string]ActivitySnapshot `json:"activities"`
}

type activityStats struct {
	count        int64
	failures     int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

// Metrics aggregates per-activity invocation spans. Every attempt cycle an
// invoker runs, retries included, counts as one span.
type Metrics struct {
	mu         sync.Mutex
	start      time.Time
	activities map[string]*activityStats
	lifecycle  lifecycleStats
}

type CallSpan struct {
	metrics  *Metrics
	activity string
	start    time.Time
}

type lifecycleStats struct {
	shutdownAt time.Time
	inflight   int64
}

type LifecycleSnapshot struct {
	ShutdownAt         time.Time `json:"shutdown_at"`
	InFlightAtShutdown int64     `json:"inflight_at_shutdown"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		start:      time.Now(),
		activities: make(map[string]*activityStats),
	}
}

func (m *Metrics) StartSpan(activity string) *CallSpan {
	if m == nil {
		return &CallSpan{}
	}
	m.mu.Lock()
	stats := m.ensureActivity(activity)
	stats.inFlight++
	m.mu.Unlock()
	return &CallSpan{
		metrics:  m,
		activity: activity,
		start:    time.Now(),
	}
}

// ActivityStarted lets Metrics observe an invoker directly.
func (m *Metrics) ActivityStarted(activity string) func(err error) {
	span := m.StartSpan(activity)
	return span.End
}

func (s *CallSpan) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	dur := time.Since(s.start)
	s.metrics.finish(s.activity, dur, err != nil)
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		UptimeSec:  int64(now.Sub(m.start).Seconds()),
		Activities: make(map[string]ActivitySnapshot),
	}

	for activity, stats := range m.activities {
		avg := 0.0
		if stats.count > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.count)
		}
		snap.Activities[activity] = ActivitySnapshot{
			Count:         stats.count,
			Failures:      stats.failures,
			InFlight:      stats.inFlight,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
		}
		snap.TotalInvocations += stats.count
		snap.TotalFailures += stats.failures
		snap.InFlight += stats.inFlight
	}

	if !m.lifecycle.shutdownAt.IsZero() {
		snap.Lifecycle = &LifecycleSnapshot{
			ShutdownAt:         m.lifecycle.shutdownAt,
			InFlightAtShutdown: m.lifecycle.inflight,
		}
	}

	return snap
}

func (m *Metrics) ensureActivity(activity string) *activityStats {
	stats, ok := m.activities[activity]
	if !ok {
		stats = &activityStats{}
		m.activities[activity] = stats
	}
	return stats
}

func (m *Metrics) finish(activity string, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.ensureActivity(activity)
	stats.inFlight--
	stats.count++
	if failed {
		stats.failures++
	}
	stats.totalLatency += dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
	stats.lastLatency = dur
	m.mu.Unlock()
}

func (m *Metrics) MarkShutdown(inflight int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lifecycle.shutdownAt = time.Now()
	m.lifecycle.inflight = inflight
	m.mu.Unlock()
}
