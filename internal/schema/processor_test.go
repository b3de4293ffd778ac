package schema

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremy-jemverse/flownodes/internal/events"
	"github.com/jeremy-jemverse/flownodes/internal/runtime"
)

// recordingExecutor counts calls and records invocation order through a
// shared log. failFor makes specific attempts fail.
type recordingExecutor struct {
	mu       sync.Mutex
	log      *callLog
	name     string
	calls    int
	failFor  func(attempt int) error
	execHook func()
}

func (e *recordingExecutor) Execute(ctx context.Context, data json.RawMessage) (Result, error) {
	e.mu.Lock()
	e.calls++
	attempt := e.calls
	e.mu.Unlock()

	if e.log != nil {
		e.log.record(e.name)
	}
	if e.execHook != nil {
		e.execHook()
	}
	if e.failFor != nil {
		if err := e.failFor(attempt); err != nil {
			return Result{}, err
		}
	}
	return Result{Success: true, Data: e.name + "_result"}, nil
}

func (e *recordingExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type callLog struct {
	mu    sync.Mutex
	order []string
}

func (l *callLog) record(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, name)
}

func (l *callLog) calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

type memoryPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *memoryPublisher) Publish(ctx context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *memoryPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, evt := range p.events {
		out[i] = evt.Type
	}
	return out
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func chainSchema(mode Mode) *Schema {
	return &Schema{
		WorkflowID: "wf-chain",
		Name:       "chain",
		Nodes: []Node{
			{ID: "a", Type: "task", Data: json.RawMessage(`{}`)},
			{ID: "b", Type: "task", Data: json.RawMessage(`{}`)},
			{ID: "c", Type: "task", Data: json.RawMessage(`{}`)},
		},
		Edges: []Edge{
			{From: "a", To: "b"},
			{From: "b", To: "c"},
		},
		Execution: Execution{Mode: mode, RetryPolicy: RetryPolicy{MaxAttempts: 1}},
	}
}

func TestRunSequentialChainOrder(t *testing.T) {
	log := &callLog{}
	reg := NewRegistry()
	reg.Register("task", &recordingExecutor{log: log, name: "task"})

	proc := NewProcessor(runtime.NewInvoker(runtime.WithSleep(noSleep)), reg)
	require.NoError(t, proc.Run(context.Background(), chainSchema(ModeSequential)))

	assert.Equal(t, []string{"task", "task", "task"}, log.calls())
}

func TestRunSequentialChainNodeOrder(t *testing.T) {
	log := &callLog{}
	reg := NewRegistry()
	for _, id := range []string{"first", "second", "third"} {
		reg.Register(id, &recordingExecutor{log: log, name: id})
	}

	s := &Schema{
		WorkflowID: "wf-order",
		Name:       "order",
		Nodes: []Node{
			{ID: "a", Type: "first"},
			{ID: "b", Type: "second"},
			{ID: "c", Type: "third"},
		},
		Edges: []Edge{
			{From: "a", To: "b"},
			{From: "b", To: "c"},
		},
		Execution: Execution{Mode: ModeSequential, RetryPolicy: RetryPolicy{MaxAttempts: 1}},
	}

	proc := NewProcessor(runtime.NewInvoker(runtime.WithSleep(noSleep)), reg)
	require.NoError(t, proc.Run(context.Background(), s))

	assert.Equal(t, []string{"first", "second", "third"}, log.calls())
}

func TestRunParallelBranchesOverlap(t *testing.T) {
	// b and c block on each other. The run only finishes if they are in
	// flight concurrently.
	arrived := make(chan struct{}, 2)
	release := make(chan struct{})
	go func() {
		<-arrived
		<-arrived
		close(release)
	}()
	rendezvous := func() {
		arrived <- struct{}{}
		<-release
	}

	reg := NewRegistry()
	reg.Register("root", &recordingExecutor{name: "root"})
	reg.Register("branch", &recordingExecutor{name: "branch", execHook: rendezvous})

	s := &Schema{
		WorkflowID: "wf-parallel",
		Name:       "parallel",
		Nodes: []Node{
			{ID: "a", Type: "root"},
			{ID: "b", Type: "branch"},
			{ID: "c", Type: "branch"},
		},
		Edges: []Edge{
			{From: "a", To: "b"},
			{From: "a", To: "c"},
		},
		Execution: Execution{Mode: ModeParallel, RetryPolicy: RetryPolicy{MaxAttempts: 1}},
	}

	proc := NewProcessor(runtime.NewInvoker(runtime.WithSleep(noSleep)), reg)

	done := make(chan error, 1)
	go func() { done <- proc.Run(context.Background(), s) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("parallel branches did not overlap")
	}
}

func TestRunNoStartingNodesFailsBeforeExecution(t *testing.T) {
	exec := &recordingExecutor{name: "task"}
	reg := NewRegistry()
	reg.Register("task", exec)

	// Every node has an incoming edge.
	s := &Schema{
		WorkflowID: "wf-cycleonly",
		Name:       "cycleonly",
		Nodes: []Node{
			{ID: "a", Type: "task"},
			{ID: "b", Type: "task"},
		},
		Edges: []Edge{
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
		Execution: Execution{Mode: ModeSequential, RetryPolicy: RetryPolicy{MaxAttempts: 1}},
	}

	proc := NewProcessor(runtime.NewInvoker(runtime.WithSleep(noSleep)), reg)
	err := proc.Run(context.Background(), s)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "no starting nodes")
	assert.Equal(t, 0, exec.callCount())
}

func TestRunUnsupportedNodeType(t *testing.T) {
	pub := &memoryPublisher{}
	proc := NewProcessor(runtime.NewInvoker(runtime.WithSleep(noSleep)), NewRegistry(), WithPublisher(pub))

	s := &Schema{
		WorkflowID: "wf-unknown",
		Name:       "unknown",
		Nodes:      []Node{{ID: "a", Type: "carrier-pigeon"}},
		Execution:  Execution{Mode: ModeSequential, RetryPolicy: RetryPolicy{MaxAttempts: 1}},
	}

	err := proc.Run(context.Background(), s)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "unsupported node type: carrier-pigeon")
	assert.Equal(t, []string{
		events.TypeNodeStarted,
		events.TypeNodeFailed,
		events.TypeWorkflowFailed,
	}, pub.types())
}

func TestRunRetriesNodePerSchemaPolicy(t *testing.T) {
	transient := errors.New("transient")
	exec := &recordingExecutor{
		name: "flaky",
		failFor: func(attempt int) error {
			if attempt < 3 {
				return transient
			}
			return nil
		},
	}
	reg := NewRegistry()
	reg.Register("flaky", exec)

	s := &Schema{
		WorkflowID: "wf-retry",
		Name:       "retry",
		Nodes:      []Node{{ID: "a", Type: "flaky"}},
		Execution:  Execution{Mode: ModeSequential, RetryPolicy: RetryPolicy{MaxAttempts: 3}},
	}

	proc := NewProcessor(runtime.NewInvoker(runtime.WithSleep(noSleep)), reg)
	require.NoError(t, proc.Run(context.Background(), s))
	assert.Equal(t, 3, exec.callCount())
}

func TestRunNodeFailureAbortsBranch(t *testing.T) {
	pub := &memoryPublisher{}
	downstream := &recordingExecutor{name: "after"}
	reg := NewRegistry()
	reg.Register("broken", &recordingExecutor{
		name:    "broken",
		failFor: func(int) error { return errors.New("boom") },
	})
	reg.Register("after", downstream)

	s := &Schema{
		WorkflowID: "wf-failfast",
		Name:       "failfast",
		Nodes: []Node{
			{ID: "a", Type: "broken"},
			{ID: "b", Type: "after"},
		},
		Edges:     []Edge{{From: "a", To: "b"}},
		Execution: Execution{Mode: ModeSequential, RetryPolicy: RetryPolicy{MaxAttempts: 2}},
	}

	proc := NewProcessor(runtime.NewInvoker(runtime.WithSleep(noSleep)), reg, WithPublisher(pub))
	err := proc.Run(context.Background(), s)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "node a")
	var failure *runtime.ActivityFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 2, failure.Attempts)
	assert.Equal(t, 0, downstream.callCount())
	assert.Equal(t, []string{
		events.TypeNodeStarted,
		events.TypeNodeFailed,
		events.TypeWorkflowFailed,
	}, pub.types())
}

func TestRunDiamondRunsSharedNodeOncePerPath(t *testing.T) {
	shared := &recordingExecutor{name: "shared"}
	reg := NewRegistry()
	reg.Register("task", &recordingExecutor{name: "task"})
	reg.Register("shared", shared)

	s := &Schema{
		WorkflowID: "wf-diamond",
		Name:       "diamond",
		Nodes: []Node{
			{ID: "a", Type: "task"},
			{ID: "b", Type: "task"},
			{ID: "c", Type: "task"},
			{ID: "d", Type: "shared"},
		},
		Edges: []Edge{
			{From: "a", To: "b"},
			{From: "a", To: "c"},
			{From: "b", To: "d"},
			{From: "c", To: "d"},
		},
		Execution: Execution{Mode: ModeSequential, RetryPolicy: RetryPolicy{MaxAttempts: 1}},
	}

	proc := NewProcessor(runtime.NewInvoker(runtime.WithSleep(noSleep)), reg)
	require.NoError(t, proc.Run(context.Background(), s))

	// No memoization: d runs once via b and once via c.
	assert.Equal(t, 2, shared.callCount())
}

func TestRunCyclicSchemaHitsDepthBound(t *testing.T) {
	exec := &recordingExecutor{name: "task"}
	reg := NewRegistry()
	reg.Register("task", exec)

	// start feeds a two-node cycle, so traversal never terminates on its own.
	s := &Schema{
		WorkflowID: "wf-cycle",
		Name:       "cycle",
		Nodes: []Node{
			{ID: "start", Type: "task"},
			{ID: "a", Type: "task"},
			{ID: "b", Type: "task"},
		},
		Edges: []Edge{
			{From: "start", To: "a"},
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
		Execution: Execution{Mode: ModeSequential, RetryPolicy: RetryPolicy{MaxAttempts: 1}},
	}

	proc := NewProcessor(runtime.NewInvoker(runtime.WithSleep(noSleep)), reg, WithMaxDepth(10))
	err := proc.Run(context.Background(), s)

	require.ErrorIs(t, err, ErrDepthExceeded)
	assert.Equal(t, 10, exec.callCount())
}

func TestRunPublishesLifecycleEvents(t *testing.T) {
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	pub := &memoryPublisher{}
	reg := NewRegistry()
	reg.Register("task", &recordingExecutor{name: "task"})

	s := &Schema{
		WorkflowID: "wf-events",
		Name:       "events",
		Nodes:      []Node{{ID: "a", Type: "task"}},
		Execution:  Execution{Mode: ModeSequential, RetryPolicy: RetryPolicy{MaxAttempts: 1}},
	}

	proc := NewProcessor(runtime.NewInvoker(runtime.WithSleep(noSleep)), reg,
		WithPublisher(pub), WithClock(func() time.Time { return now }))
	require.NoError(t, proc.Run(context.Background(), s))

	require.Equal(t, []string{
		events.TypeNodeStarted,
		events.TypeNodeCompleted,
		events.TypeWorkflowCompleted,
	}, pub.types())

	started := pub.events[0]
	assert.Equal(t, "wf-events", started.WorkflowID)
	assert.Equal(t, "a", started.NodeID)
	assert.Equal(t, "task", started.NodeType)
	assert.Equal(t, now, started.Timestamp)
	assert.Contains(t, pub.events[1].Message, `"success":true`)
}

func TestWorkflowAdapterRunsUnderClient(t *testing.T) {
	reg := NewRegistry()
	reg.Register("task", &recordingExecutor{name: "task"})

	invoker := runtime.NewInvoker(runtime.WithSleep(noSleep))
	proc := NewProcessor(invoker, reg)
	client := runtime.NewClient(invoker, nil)
	defer client.Close()

	s := chainSchema(ModeSequential)
	h, err := client.Start(s.WorkflowID, WorkflowType, nil, proc.Workflow(s))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := h.Result(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Workflow wf-chain completed successfully", result)
	assert.Equal(t, runtime.StatusCompleted, h.Status())
}
