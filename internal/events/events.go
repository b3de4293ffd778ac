package events

import (
	"context"
	"time"
)

// Event types emitted by workflow execution.
const (
	TypeNodeStarted       = "node_started"
	TypeNodeCompleted     = "node_completed"
	TypeNodeFailed        = "node_failed"
	TypeWorkflowCompleted = "workflow_completed"
	TypeWorkflowFailed    = "workflow_failed"
)

// Event is one observable step of a workflow run.
type Event struct {
	WorkflowID string    `json:"workflowId"`
	Type       string    `json:"type"`
	NodeID     string    `json:"nodeId,omitempty"`
	NodeType   string    `json:"nodeType,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher abstracts delivering workflow events to observers.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// PublisherFunc is a function adapter for Publisher.
type PublisherFunc func(ctx context.Context, evt Event) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// LogPublisher writes events through a log function.
type LogPublisher struct {
	Logf func(format string, args ...any)
}

// Publish logs the event in a single line.
func (p LogPublisher) Publish(ctx context.Context, evt Event) error {
	if p.Logf == nil {
		return nil
	}
	if evt.NodeID != "" {
		p.Logf("workflow %s %s node=%s(%s) %s", evt.WorkflowID, evt.Type, evt.NodeID, evt.NodeType, evt.Message)
		return nil
	}
	p.Logf("workflow %s %s %s", evt.WorkflowID, evt.Type, evt.Message)
	return nil
}
