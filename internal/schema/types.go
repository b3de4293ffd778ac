package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Mode governs how a node's children are invoked.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// Node is one typed unit of work in a workflow graph. Data is opaque to the
// engine and handed to the executor registered for Type.
type Node struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Edge is a directed connection between two nodes.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// RetryPolicy bounds per-node retries for one schema run.
type RetryPolicy struct {
	MaxAttempts     int      `json:"maxAttempts"`
	InitialInterval Duration `json:"initialInterval"`
}

// Execution holds the run-wide traversal settings.
type Execution struct {
	Mode        Mode        `json:"mode"`
	RetryPolicy RetryPolicy `json:"retryPolicy"`
}

// Schema is a declarative workflow graph. It is submitted once, validated,
// and consumed by exactly one Processor run; it is never mutated during
// execution.
type Schema struct {
	WorkflowID  string    `json:"workflowId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Version     string    `json:"version,omitempty"`
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	Execution   Execution `json:"execution"`
}

// ValidationError reports a malformed schema or an unsupported node type.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Validate checks the structural integrity of the schema: node IDs are unique
// and non-empty, edges reference declared nodes, the mode is known, and at
// least one starting node exists.
func (s *Schema) Validate() error {
	if len(s.Nodes) == 0 {
		return validationErrorf("workflow has no nodes")
	}

	seen := make(map[string]bool, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.ID == "" {
			return validationErrorf("node with empty id")
		}
		if n.Type == "" {
			return validationErrorf("node %s has no type", n.ID)
		}
		if seen[n.ID] {
			return validationErrorf("duplicate node id %s", n.ID)
		}
		seen[n.ID] = true
	}

	for _, e := range s.Edges {
		if !seen[e.From] {
			return validationErrorf("edge references unknown node %s", e.From)
		}
		if !seen[e.To] {
			return validationErrorf("edge references unknown node %s", e.To)
		}
	}

	switch s.Execution.Mode {
	case ModeSequential, ModeParallel:
	default:
		return validationErrorf("unknown execution mode %q", s.Execution.Mode)
	}

	if len(s.StartingNodes()) == 0 {
		return validationErrorf("no starting nodes found in workflow")
	}
	return nil
}

// StartingNodes returns the nodes with no incoming edge, in declaration order.
func (s *Schema) StartingNodes() []Node {
	incoming := make(map[string]bool, len(s.Edges))
	for _, e := range s.Edges {
		incoming[e.To] = true
	}

	var starts []Node
	for _, n := range s.Nodes {
		if !incoming[n.ID] {
			starts = append(starts, n)
		}
	}
	return starts
}

// children returns the targets of the node's outgoing edges, in
// edge-declaration order.
func (s *Schema) children(nodeID string, byID map[string]Node) []Node {
	var next []Node
	for _, e := range s.Edges {
		if e.From != nodeID {
			continue
		}
		if n, ok := byID[e.To]; ok {
			next = append(next, n)
		}
	}
	return next
}

// Duration is a time.Duration that unmarshals from either a Go duration
// string ("2s") or a bare number of milliseconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value) * time.Millisecond)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration: %s", data)
	}
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
