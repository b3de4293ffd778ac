package runtime

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status of a workflow handle.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// ErrDuplicateWorkflowID indicates a workflow with that ID is already known.
var ErrDuplicateWorkflowID = errors.New("workflow id already in use")

// WorkflowFunc is a workflow body. It runs with the Context lock held and
// must suspend only through the Context's yield points.
type WorkflowFunc func(ctx context.Context, wctx *Context) (string, error)

// Handle tracks one running or finished workflow.
type Handle struct {
	id           string
	workflowType string
	attrs        map[string]string
	startedAt    time.Time
	wctx         *Context

	mu     sync.Mutex
	status Status
	result string
	err    error
	done   chan struct{}
}

// ID returns the workflow ID.
func (h *Handle) ID() string { return h.id }

// Type returns the workflow type tag.
func (h *Handle) Type() string { return h.workflowType }

// StartedAt returns when the workflow was started.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Status returns the current status.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// SearchAttributes returns a copy of the attribute map.
func (h *Handle) SearchAttributes() map[string]string {
	attrs := make(map[string]string, len(h.attrs))
	for k, v := range h.attrs {
		attrs[k] = v
	}
	return attrs
}

// Result blocks until the workflow reaches a terminal state.
func (h *Handle) Result(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-h.done:
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

func (h *Handle) complete(result string, err error, cancelled bool) {
	h.mu.Lock()
	h.result = result
	h.err = err
	switch {
	case cancelled:
		h.status = StatusCancelled
	case err != nil:
		h.status = StatusFailed
	default:
		h.status = StatusCompleted
	}
	h.mu.Unlock()
	close(h.done)
}

// Info is a read-only view of a handle, as returned by List.
type Info struct {
	ID               string            `json:"id"`
	Type             string            `json:"type"`
	Status           Status            `json:"status"`
	StartedAt        time.Time         `json:"startedAt"`
	SearchAttributes map[string]string `json:"searchAttributes,omitempty"`
}

// Filter selects handles for List. Zero fields match everything; search
// attributes match as a subset.
type Filter struct {
	Type             string
	Status           Status
	SearchAttributes map[string]string
}

// Client starts workflows and routes signals, queries and cancellations to
// running instances. It is the process-local face of the orchestration
// runtime.
type Client struct {
	invoker *Invoker
	logf    func(format string, args ...any)

	rootCtx context.Context
	stop    context.CancelFunc

	mu      sync.Mutex
	handles map[string]*Handle
	now     func() time.Time
}

// NewClient constructs a Client around the given invoker.
func NewClient(invoker *Invoker, logf func(format string, args ...any)) *Client {
	if logf == nil {
		logf = log.Printf
	}
	rootCtx, stop := context.WithCancel(context.Background())
	return &Client{
		invoker: invoker,
		logf:    logf,
		rootCtx: rootCtx,
		stop:    stop,
		handles: make(map[string]*Handle),
		now:     time.Now,
	}
}

// Start launches a workflow. An empty id gets a generated one. The returned
// handle is registered for signal/query/cancel/list until the process exits.
func (c *Client) Start(id, workflowType string, attrs map[string]string, wf WorkflowFunc) (*Handle, error) {
	if id == "" {
		id = uuid.NewString()
	}

	wctx := newContext(c.invoker)
	h := &Handle{
		id:           id,
		workflowType: workflowType,
		attrs:        attrs,
		startedAt:    c.now(),
		wctx:         wctx,
		status:       StatusRunning,
		done:         make(chan struct{}),
	}

	c.mu.Lock()
	if _, exists := c.handles[id]; exists {
		c.mu.Unlock()
		return nil, ErrDuplicateWorkflowID
	}
	c.handles[id] = h
	c.mu.Unlock()

	// Hand the body the context lock before it starts so signal handlers are
	// registered before any delivery can be attempted.
	wctx.mu.Lock()
	go func() {
		result, err := wf(c.rootCtx, wctx)
		wctx.finished = true
		cancelled := wctx.cancelled
		wctx.mu.Unlock()

		if err != nil {
			c.logf("workflow %s (%s) failed: %v", id, workflowType, err)
		}
		h.complete(result, err, cancelled || errors.Is(err, ErrCancelRequested))
	}()

	return h, nil
}

// Get returns the handle for id.
func (c *Client) Get(id string) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	return h, nil
}

// Signal delivers a signal to a running workflow.
func (c *Client) Signal(id, name string, payload []byte) error {
	h, err := c.Get(id)
	if err != nil {
		return err
	}
	return h.wctx.Signal(name, payload)
}

// Query reads a state snapshot from a workflow.
func (c *Client) Query(id, name string) (any, error) {
	h, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	return h.wctx.Query(name)
}

// Cancel requests cooperative cancellation of a running workflow.
func (c *Client) Cancel(id string) error {
	h, err := c.Get(id)
	if err != nil {
		return err
	}
	return h.wctx.Cancel()
}

// Result waits for the workflow's terminal result.
func (c *Client) Result(ctx context.Context, id string) (string, error) {
	h, err := c.Get(id)
	if err != nil {
		return "", err
	}
	return h.Result(ctx)
}

// List returns handle views matching the filter, ordered by start time.
func (c *Client) List(filter Filter) []Info {
	c.mu.Lock()
	handles := make([]*Handle, 0, len(c.handles))
	for _, h := range c.handles {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	var infos []Info
	for _, h := range handles {
		if filter.Type != "" && h.workflowType != filter.Type {
			continue
		}
		if filter.Status != "" && h.Status() != filter.Status {
			continue
		}
		if !matchAttrs(h.attrs, filter.SearchAttributes) {
			continue
		}
		infos = append(infos, Info{
			ID:               h.id,
			Type:             h.workflowType,
			Status:           h.Status(),
			StartedAt:        h.startedAt,
			SearchAttributes: h.SearchAttributes(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// Close cancels the root context shared by all workflow bodies.
func (c *Client) Close() {
	c.stop()
}

func matchAttrs(attrs, want map[string]string) bool {
	for k, v := range want {
		if attrs[k] != v {
			return false
		}
	}
	return true
}
