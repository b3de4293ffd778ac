package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeremy-jemverse/flownodes/internal/events"
	"github.com/jeremy-jemverse/flownodes/internal/runtime"
)

// WorkflowType is the type tag under which schema runs register with the
// orchestration client.
const WorkflowType = "processWorkflow"

// DefaultMaxDepth bounds graph traversal so a cyclic schema fails
// deterministically instead of recursing forever.
const DefaultMaxDepth = 100

// ErrDepthExceeded is returned when a traversal path grows past the
// processor's depth bound, which only happens when the schema contains a
// cycle.
var ErrDepthExceeded = errors.New("max traversal depth exceeded")

// Uniform per-node policy for a schema run. The schema supplies attempts and
// the initial interval; the rest is fixed.
const (
	nodeStartToClose    = 5 * time.Minute
	nodeMaxInterval     = time.Minute
	nodeBackoff         = 2.0
	defaultNodeAttempts = 3
	defaultNodeInterval = time.Second
)

// Processor walks a validated Schema, dispatching each node through the
// registry under a uniform retry policy derived from the schema. The engine
// keeps no per-node visited state: a node reachable via multiple paths runs
// once per path, so executors are expected to be idempotent.
type Processor struct {
	invoker   *runtime.Invoker
	registry  *Registry
	publisher events.Publisher
	maxDepth  int
	now       func() time.Time
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithPublisher routes node lifecycle events to the given publisher.
func WithPublisher(p events.Publisher) ProcessorOption {
	return func(proc *Processor) { proc.publisher = p }
}

// WithMaxDepth overrides the traversal depth bound.
func WithMaxDepth(depth int) ProcessorOption {
	return func(proc *Processor) { proc.maxDepth = depth }
}

// WithClock replaces the event timestamp source, for tests.
func WithClock(now func() time.Time) ProcessorOption {
	return func(proc *Processor) { proc.now = now }
}

// NewProcessor constructs a Processor dispatching through the given registry.
func NewProcessor(invoker *runtime.Invoker, registry *Registry, opts ...ProcessorOption) *Processor {
	proc := &Processor{
		invoker:  invoker,
		registry: registry,
		maxDepth: DefaultMaxDepth,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(proc)
	}
	return proc
}

// Run validates the schema and executes it to completion. It returns nil on
// full success or the first node failure encountered; nodes already completed
// are not rolled back.
func (p *Processor) Run(ctx context.Context, s *Schema) error {
	if err := s.Validate(); err != nil {
		return err
	}

	policy := nodePolicy(s.Execution.RetryPolicy)
	byID := make(map[string]Node, len(s.Nodes))
	for _, n := range s.Nodes {
		byID[n.ID] = n
	}

	err := p.step(ctx, s, s.StartingNodes(), policy, byID, 1)
	if err != nil {
		p.publish(ctx, events.Event{
			WorkflowID: s.WorkflowID,
			Type:       events.TypeWorkflowFailed,
			Message:    err.Error(),
		})
		return err
	}

	p.publish(ctx, events.Event{
		WorkflowID: s.WorkflowID,
		Type:       events.TypeWorkflowCompleted,
		Message:    "workflow completed successfully",
	})
	return nil
}

// Workflow adapts a schema run into a workflow function for the
// orchestration client. The run is a single suspension: signals and queries
// registered on the context are serviced while the graph executes.
func (p *Processor) Workflow(s *Schema) runtime.WorkflowFunc {
	return func(ctx context.Context, wctx *runtime.Context) (string, error) {
		if err := wctx.Yield(func() error { return p.Run(ctx, s) }); err != nil {
			return "", err
		}
		return fmt.Sprintf("Workflow %s completed successfully", s.WorkflowID), nil
	}
}

// step invokes a set of sibling nodes honoring the schema's execution mode.
func (p *Processor) step(ctx context.Context, s *Schema, nodes []Node, policy runtime.ActivityPolicy, byID map[string]Node, depth int) error {
	if len(nodes) == 0 {
		return nil
	}

	if s.Execution.Mode == ModeParallel {
		var wg sync.WaitGroup
		errs := make([]error, len(nodes))
		for i, n := range nodes {
			wg.Add(1)
			go func(i int, n Node) {
				defer wg.Done()
				errs[i] = p.processNode(ctx, s, n, policy, byID, depth)
			}(i, n)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
		return nil
	}

	for _, n := range nodes {
		if err := p.processNode(ctx, s, n, policy, byID, depth); err != nil {
			return err
		}
	}
	return nil
}

// processNode runs one node through the registry and then its children. A
// failure is published before it propagates; children of a failed node never
// run.
func (p *Processor) processNode(ctx context.Context, s *Schema, node Node, policy runtime.ActivityPolicy, byID map[string]Node, depth int) error {
	if depth > p.maxDepth {
		return fmt.Errorf("node %s at depth %d: %w", node.ID, depth, ErrDepthExceeded)
	}

	p.publish(ctx, events.Event{
		WorkflowID: s.WorkflowID,
		Type:       events.TypeNodeStarted,
		NodeID:     node.ID,
		NodeType:   node.Type,
		Message:    fmt.Sprintf("starting execution of node %s (%s)", node.ID, node.Type),
	})

	exec, err := p.registry.Lookup(node.Type)
	if err != nil {
		p.publishNodeFailed(ctx, s, node, err)
		return err
	}

	var result Result
	err = p.invoker.Invoke(ctx, node.Type, policy, func(ctx context.Context, beat func()) error {
		r, err := exec.Execute(ctx, node.Data)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		p.publishNodeFailed(ctx, s, node, err)
		return fmt.Errorf("node %s: %w", node.ID, err)
	}

	p.publish(ctx, events.Event{
		WorkflowID: s.WorkflowID,
		Type:       events.TypeNodeCompleted,
		NodeID:     node.ID,
		NodeType:   node.Type,
		Message:    describeResult(result),
	})

	return p.step(ctx, s, s.children(node.ID, byID), policy, byID, depth+1)
}

func (p *Processor) publishNodeFailed(ctx context.Context, s *Schema, node Node, cause error) {
	p.publish(ctx, events.Event{
		WorkflowID: s.WorkflowID,
		Type:       events.TypeNodeFailed,
		NodeID:     node.ID,
		NodeType:   node.Type,
		Message:    cause.Error(),
	})
}

// publish delivers an event best effort; a failing publisher never fails the
// run itself.
func (p *Processor) publish(ctx context.Context, evt events.Event) {
	if p.publisher == nil {
		return
	}
	evt.Timestamp = p.now()
	_ = p.publisher.Publish(ctx, evt)
}

func describeResult(r Result) string {
	data, err := json.Marshal(r)
	if err != nil {
		return "node executed successfully"
	}
	return fmt.Sprintf("node executed successfully: %s", data)
}

// nodePolicy derives the uniform invocation policy for one schema run.
func nodePolicy(rp RetryPolicy) runtime.ActivityPolicy {
	attempts := rp.MaxAttempts
	if attempts < 1 {
		attempts = defaultNodeAttempts
	}
	interval := rp.InitialInterval.Std()
	if interval <= 0 {
		interval = defaultNodeInterval
	}
	return runtime.ActivityPolicy{
		StartToCloseTimeout: nodeStartToClose,
		Retry: runtime.RetryPolicy{
			InitialInterval:    interval,
			MaximumInterval:    nodeMaxInterval,
			BackoffCoefficient: nodeBackoff,
			MaximumAttempts:    attempts,
		},
	}
}
