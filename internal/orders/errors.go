package orders

import "fmt"

// Error classes used by activity policies to mark failures non-retryable.
const (
	PaymentErrorClass   = "PAYMENT_ERROR"
	InventoryErrorClass = "INVENTORY_ERROR"
)

// PaymentError is a non-retryable payment domain failure.
type PaymentError struct {
	OrderID string
	Reason  string
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment failed for order %s: %s", e.OrderID, e.Reason)
}

func (e *PaymentError) Class() string { return PaymentErrorClass }

// InventoryError is a non-retryable inventory domain failure.
type InventoryError struct {
	ProductID string
	Reason    string
}

func (e *InventoryError) Error() string {
	return fmt.Sprintf("inventory error for product %s: %s", e.ProductID, e.Reason)
}

func (e *InventoryError) Class() string { return InventoryErrorClass }
