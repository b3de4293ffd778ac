package orders

import (
	"context"
	"errors"
	"sync"
)

// PaymentClient charges and cancels payments for orders.
type PaymentClient interface {
	Charge(ctx context.Context, orderID string, amount float64) error
	Cancel(ctx context.Context, orderID string) error
}

// InventoryClient adjusts stock for a product.
type InventoryClient interface {
	Adjust(ctx context.Context, productID string, quantity int) error
}

// Notifier delivers a user-facing notification.
type Notifier interface {
	Notify(ctx context.Context, userID, message string) error
}

// NewInMemoryPaymentClient constructs an in-memory payment client.
func NewInMemoryPaymentClient() *InMemoryPaymentClient {
	return &InMemoryPaymentClient{
		charges:   make(map[string]float64),
		cancelled: make(map[string]bool),
	}
}

// InMemoryPaymentClient tracks charges and cancellations in memory.
type InMemoryPaymentClient struct {
	mu        sync.Mutex
	charges   map[string]float64
	cancelled map[string]bool
}

func (c *InMemoryPaymentClient) Charge(ctx context.Context, orderID string, amount float64) error {
	if amount < 0 {
		return &PaymentError{OrderID: orderID, Reason: "amount must not be negative"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.charges[orderID] = amount
	return nil
}

func (c *InMemoryPaymentClient) Cancel(ctx context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.charges[orderID]; !ok {
		return errors.New("cancel without charge")
	}
	c.cancelled[orderID] = true
	return nil
}

// WasCharged reports whether an order was charged (for testing/inspection).
func (c *InMemoryPaymentClient) WasCharged(orderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.charges[orderID]
	return ok
}

// WasCancelled reports whether an order's payment was cancelled.
func (c *InMemoryPaymentClient) WasCancelled(orderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled[orderID]
}

// NewInMemoryInventoryClient constructs an in-memory inventory client.
func NewInMemoryInventoryClient() *InMemoryInventoryClient {
	return &InMemoryInventoryClient{adjustments: make(map[string]int)}
}

// InMemoryInventoryClient tracks stock adjustments in memory.
type InMemoryInventoryClient struct {
	mu          sync.Mutex
	adjustments map[string]int
}

func (c *InMemoryInventoryClient) Adjust(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return &InventoryError{ProductID: productID, Reason: "quantity must be positive"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adjustments[productID] += quantity
	return nil
}

// Adjustment returns the total adjusted quantity for a product.
func (c *InMemoryInventoryClient) Adjustment(productID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adjustments[productID]
}

// NoopNotifier is a stub Notifier that always succeeds.
type NoopNotifier struct{}

func (NoopNotifier) Notify(ctx context.Context, userID, message string) error { return nil }

// LogNotifier writes notifications through a log function.
type LogNotifier struct {
	Logf func(format string, args ...any)
}

func (n LogNotifier) Notify(ctx context.Context, userID, message string) error {
	if n.Logf != nil {
		n.Logf("notify %s: %s", userID, message)
	}
	return nil
}
