package schema

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Result is the outcome a node executor reports. Executors signal failure
// through the returned error; Result carries the success payload.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Executor performs the work for one node type. It must not implement
// cross-invocation retry; the processor applies the schema's retry policy
// around it.
type Executor interface {
	Execute(ctx context.Context, data json.RawMessage) (Result, error)
}

// ExecutorFunc is a function adapter for Executor.
type ExecutorFunc func(ctx context.Context, data json.RawMessage) (Result, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, data json.RawMessage) (Result, error) {
	return f(ctx, data)
}

// Registry maps node type tags to executors. Node dispatch goes through the
// registry so new node types plug in without touching the processor.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register binds an executor to a node type, replacing any previous binding.
func (r *Registry) Register(nodeType string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[nodeType] = exec
}

// Lookup returns the executor for a node type, or a ValidationError when the
// type is not registered.
func (r *Registry) Lookup(nodeType string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[nodeType]
	if !ok {
		return nil, validationErrorf("unsupported node type: %s", nodeType)
	}
	return exec, nil
}

// Types returns the registered node types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
