package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jeremy-jemverse/flownodes/internal/runtime"
)

// Workflow type tags registered with the orchestration client.
const (
	WorkflowType             = "orderWorkflow"
	NotificationWorkflowType = "notificationWorkflow"
)

// Activity names as recorded by the invoker and its observer.
const (
	activityProcessPayment   = "processPayment"
	activityUpdateInventory  = "updateInventory"
	activityCancelPayment    = "cancelPayment"
	activitySendNotification = "sendNotification"
)

// Config carries the per-activity-class invocation policies. Policies are
// explicit values so tests and concurrent workflows can hold distinct sets.
type Config struct {
	PaymentPolicy      runtime.ActivityPolicy
	InventoryPolicy    runtime.ActivityPolicy
	NotificationPolicy runtime.ActivityPolicy
}

// DefaultConfig returns the production policy set: payments get the longer
// timeout and wider retry budget, inventory the shorter ones.
func DefaultConfig() Config {
	return Config{
		PaymentPolicy: runtime.ActivityPolicy{
			StartToCloseTimeout: 2 * time.Minute,
			HeartbeatTimeout:    10 * time.Second,
			Retry: runtime.RetryPolicy{
				InitialInterval:    2 * time.Second,
				MaximumInterval:    30 * time.Second,
				BackoffCoefficient: 2,
				MaximumAttempts:    5,
				NonRetryable:       []string{PaymentErrorClass},
			},
		},
		InventoryPolicy: runtime.ActivityPolicy{
			StartToCloseTimeout: 30 * time.Second,
			HeartbeatTimeout:    5 * time.Second,
			Retry: runtime.RetryPolicy{
				InitialInterval:    time.Second,
				MaximumInterval:    10 * time.Second,
				BackoffCoefficient: 2,
				MaximumAttempts:    3,
				NonRetryable:       []string{InventoryErrorClass},
			},
		},
		NotificationPolicy: runtime.ActivityPolicy{
			StartToCloseTimeout: time.Minute,
			Retry: runtime.RetryPolicy{
				InitialInterval:    time.Second,
				MaximumInterval:    time.Minute,
				BackoffCoefficient: 2,
				MaximumAttempts:    3,
			},
		},
	}
}

// ChildStarter launches detached child workflows. *runtime.Client satisfies it.
type ChildStarter interface {
	Start(id, workflowType string, attrs map[string]string, wf runtime.WorkflowFunc) (*runtime.Handle, error)
}

// Workflow drives the two-phase order saga: payment, then parallel inventory
// updates with a compensating payment cancellation on inventory failure.
type Workflow struct {
	payments  PaymentClient
	inventory InventoryClient
	notifier  Notifier
	cfg       Config

	children ChildStarter
	logf     func(format string, args ...any)
	now      func() time.Time
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithChildStarter makes notifications run as detached child workflows.
func WithChildStarter(children ChildStarter) Option {
	return func(w *Workflow) { w.children = children }
}

// WithLogf replaces the logger.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(w *Workflow) { w.logf = logf }
}

// WithClock replaces the timestamp source, for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// NewWorkflow constructs an order saga workflow.
func NewWorkflow(payments PaymentClient, inventory InventoryClient, notifier Notifier, cfg Config, opts ...Option) *Workflow {
	w := &Workflow{
		payments:  payments,
		inventory: inventory,
		notifier:  notifier,
		cfg:       cfg,
		logf:      log.Printf,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the saga on the client with its search attributes. The
// workflow ID is the order ID.
func (w *Workflow) Start(client *runtime.Client, orderID, userID string, items []Item, totalAmount float64) (*runtime.Handle, error) {
	attrs := map[string]string{
		"orderId": orderID,
		"kind":    "order_processing",
	}
	return client.Start(orderID, WorkflowType, attrs, w.Run(orderID, userID, items, totalAmount))
}

// Run returns the workflow body for one order. Items and amount are
// caller-supplied; a rejected amount surfaces as a payment activity failure,
// not a local precondition check.
func (w *Workflow) Run(orderID, userID string, items []Item, totalAmount float64) runtime.WorkflowFunc {
	return func(ctx context.Context, wctx *runtime.Context) (string, error) {
		st := &State{
			Status:      StatusProcessing,
			Items:       append([]Item(nil), items...),
			TotalAmount: totalAmount,
			LastUpdated: w.now(),
		}

		wctx.HandleQuery(QueryOrderStatus, func() (any, error) {
			return st.snapshot(), nil
		})
		wctx.HandleQuery(QueryOrderProgress, func() (any, error) {
			return st.Progress, nil
		})

		wctx.HandleSignal(SignalAddOrderItem, func(payload []byte) error {
			if st.Cancelled || st.Status == StatusCompleted {
				return nil
			}
			var item Item
			if err := json.Unmarshal(payload, &item); err != nil {
				return fmt.Errorf("decode %s payload: %w", SignalAddOrderItem, err)
			}
			st.Items = append(st.Items, item)
			st.LastUpdated = w.now()
			return nil
		})

		wctx.HandleSignal(SignalCancelOrder, func([]byte) error {
			st.Cancelled = true
			st.Status = StatusCancelled
			st.LastUpdated = w.now()
			return nil
		})

		result, err := w.process(ctx, wctx, st, orderID, userID)
		if err != nil && (st.Cancelled || errors.Is(err, runtime.ErrCancelRequested)) {
			// Cancellation takes priority over in-flight phase errors.
			st.Cancelled = true
			st.Status = StatusCancelled
			st.LastUpdated = w.now()
			wctx.MarkCancelled()
			return fmt.Sprintf("Order %s was cancelled", orderID), nil
		}
		return result, err
	}
}

func (w *Workflow) process(ctx context.Context, wctx *runtime.Context, st *State, orderID, userID string) (string, error) {
	// Phase 1: payment. A failure here is terminal and un-compensated since
	// no inventory has been touched.
	st.Status = StatusProcessingPayment
	st.LastUpdated = w.now()

	err := wctx.Invoke(ctx, activityProcessPayment, w.cfg.PaymentPolicy, func(ctx context.Context, beat func()) error {
		beat()
		return w.payments.Charge(ctx, orderID, st.TotalAmount)
	})
	if err != nil {
		var failure *runtime.ActivityFailure
		if errors.As(err, &failure) {
			st.Status = StatusPaymentFailed
			st.LastUpdated = w.now()
			return "", fmt.Errorf("Payment failed: %w", err)
		}
		return "", err
	}
	if st.Cancelled {
		return "", runtime.ErrCancelRequested
	}
	st.Progress.Payment = 100
	st.Progress.Overall = 50
	st.LastUpdated = w.now()

	// Phase 2: inventory, always fanned out in parallel. On any failure the
	// payment is compensated exactly once; the compensation's own failure is
	// logged but never masks the inventory cause.
	st.Status = StatusUpdatingInventory
	st.LastUpdated = w.now()

	items := append([]Item(nil), st.Items...)
	invs := make([]runtime.Invocation, len(items))
	for i, item := range items {
		invs[i] = runtime.Invocation{
			Activity: activityUpdateInventory,
			Policy:   w.cfg.InventoryPolicy,
			Fn: func(ctx context.Context, beat func()) error {
				beat()
				return w.inventory.Adjust(ctx, item.ProductID, item.Quantity)
			},
		}
	}
	if err := wctx.InvokeAll(ctx, invs); err != nil {
		var failure *runtime.ActivityFailure
		if errors.As(err, &failure) {
			w.compensatePayment(ctx, wctx, orderID)
			st.Status = StatusInventoryFailed
			st.LastUpdated = w.now()
			return "", fmt.Errorf("Inventory update failed: %w", err)
		}
		return "", err
	}
	if st.Cancelled {
		return "", runtime.ErrCancelRequested
	}
	st.Progress.Inventory = 100
	st.Progress.Overall = 100
	st.LastUpdated = w.now()

	w.notifySuccess(wctx, orderID, userID)

	st.Status = StatusCompleted
	st.LastUpdated = w.now()
	return fmt.Sprintf("Order %s processed successfully", orderID), nil
}

func (w *Workflow) compensatePayment(ctx context.Context, wctx *runtime.Context, orderID string) {
	err := wctx.Invoke(ctx, activityCancelPayment, w.cfg.PaymentPolicy, func(ctx context.Context, beat func()) error {
		beat()
		return w.payments.Cancel(ctx, orderID)
	})
	if err != nil && !errors.Is(err, runtime.ErrCancelRequested) {
		w.logf("payment compensation for order %s failed: %v", orderID, err)
	}
}

// notifySuccess fires the detached notification. The parent neither waits for
// nor depends on its outcome.
func (w *Workflow) notifySuccess(wctx *runtime.Context, orderID, userID string) {
	message := fmt.Sprintf("Order %s has been processed successfully", orderID)
	if w.children != nil {
		childID := "notification-" + orderID
		if _, err := w.children.Start(childID, NotificationWorkflowType, nil, w.Notification(userID, message)); err != nil {
			w.logf("start notification workflow for order %s: %v", orderID, err)
		}
		return
	}
	wctx.Detach(func(ctx context.Context) {
		if err := w.notifier.Notify(ctx, userID, message); err != nil {
			w.logf("notify %s for order %s: %v", userID, orderID, err)
		}
	})
}

// Notification is the child workflow body delivering one notification.
func (w *Workflow) Notification(userID, message string) runtime.WorkflowFunc {
	return func(ctx context.Context, wctx *runtime.Context) (string, error) {
		err := wctx.Invoke(ctx, activitySendNotification, w.cfg.NotificationPolicy, func(ctx context.Context, beat func()) error {
			beat()
			return w.notifier.Notify(ctx, userID, message)
		})
		if err != nil {
			return "", err
		}
		return message, nil
	}
}
