package orders

import "time"

// Status of an order saga. Transitions are monotonic except that CANCELLED
// may be entered from any non-terminal state.
type Status string

const (
	StatusProcessing        Status = "PROCESSING"
	StatusProcessingPayment Status = "PROCESSING_PAYMENT"
	StatusPaymentFailed     Status = "PAYMENT_FAILED"
	StatusUpdatingInventory Status = "UPDATING_INVENTORY"
	StatusInventoryFailed   Status = "INVENTORY_FAILED"
	StatusCompleted         Status = "COMPLETED"
	StatusCancelled         Status = "CANCELLED"
)

// Signal and query names exposed by the order workflow.
const (
	SignalAddOrderItem = "addOrderItem"
	SignalCancelOrder  = "cancelOrder"

	QueryOrderStatus   = "getOrderStatus"
	QueryOrderProgress = "getOrderProgress"
)

// Item is one order line.
type Item struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Progress tracks phase completion percentages. Values are monotonically
// non-decreasing within a single attempt.
type Progress struct {
	Payment   int `json:"payment"`
	Inventory int `json:"inventory"`
	Overall   int `json:"overall"`
}

// State is the order workflow's mutable state. It is owned exclusively by one
// running workflow instance and mutated only through its signal handlers and
// internal transitions.
type State struct {
	Status      Status    `json:"status"`
	Items       []Item    `json:"items"`
	TotalAmount float64   `json:"totalAmount"`
	Progress    Progress  `json:"progress"`
	LastUpdated time.Time `json:"lastUpdated"`
	Cancelled   bool      `json:"cancelled"`
}

// snapshot returns a copy safe to hand out of a query handler.
func (s *State) snapshot() State {
	out := *s
	out.Items = make([]Item, len(s.Items))
	copy(out.Items, s.Items)
	return out
}
