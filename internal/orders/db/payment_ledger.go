package ordersdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotCharged signals a cancellation for an order with no recorded charge.
var ErrNotCharged = errors.New("order not charged")

// PaymentError is a non-retryable payment domain failure recorded by the
// ledger. Its class marks it non-retryable under the payment activity policy.
type PaymentError struct {
	OrderID string
	Reason  string
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment failed for order %s: %s", e.OrderID, e.Reason)
}

func (e *PaymentError) Class() string { return "PAYMENT_ERROR" }

// PaymentLedger persists charges and cancellations in Postgres. Both
// operations are idempotent so activity retries see a stable outcome.
type PaymentLedger struct {
	db *sql.DB
}

// NewPaymentLedger constructs a PaymentLedger.
func NewPaymentLedger(db *sql.DB) *PaymentLedger {
	return &PaymentLedger{db: db}
}

// NewPaymentLedgerWithSchema initializes the schema then returns the ledger.
func NewPaymentLedgerWithSchema(ctx context.Context, db *sql.DB) (*PaymentLedger, error) {
	ledger := NewPaymentLedger(db)
	if err := ledger.InitSchema(ctx); err != nil {
		return nil, err
	}
	return ledger, nil
}

// InitSchema creates the payments table if it does not exist.
func (l *PaymentLedger) InitSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS payments (
			order_id TEXT PRIMARY KEY,
			amount DOUBLE PRECISION NOT NULL,
			charged_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			cancelled_at TIMESTAMPTZ
		)
	`)
	return err
}

// Charge records the charge. Re-charging the same order with the same amount
// is a no-op; a different amount is a payment domain failure.
func (l *PaymentLedger) Charge(ctx context.Context, orderID string, amount float64) error {
	if orderID == "" {
		return &PaymentError{OrderID: orderID, Reason: "order id required"}
	}
	if amount < 0 {
		return &PaymentError{OrderID: orderID, Reason: "amount must not be negative"}
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO payments (order_id, amount)
		VALUES ($1, $2)
		ON CONFLICT (order_id) DO NOTHING`,
		orderID, amount,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var existing float64
	row := l.db.QueryRowContext(ctx, `SELECT amount FROM payments WHERE order_id = $1`, orderID)
	if err := row.Scan(&existing); err != nil {
		return err
	}
	if existing != amount {
		return &PaymentError{OrderID: orderID, Reason: "order already charged with a different amount"}
	}
	return nil
}

// Cancel marks the charge cancelled. Cancelling an already-cancelled order is
// a no-op; cancelling an uncharged order is an error.
func (l *PaymentLedger) Cancel(ctx context.Context, orderID string) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE payments SET cancelled_at = NOW()
		WHERE order_id = $1 AND cancelled_at IS NULL`,
		orderID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var cancelled bool
	row := l.db.QueryRowContext(ctx, `SELECT cancelled_at IS NOT NULL FROM payments WHERE order_id = $1`, orderID)
	switch scanErr := row.Scan(&cancelled); {
	case scanErr == nil:
		if cancelled {
			return nil
		}
		return ErrNotCharged
	case errors.Is(scanErr, sql.ErrNoRows):
		return ErrNotCharged
	default:
		return scanErr
	}
}
