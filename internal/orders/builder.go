package orders

import (
	"context"
	"database/sql"
	"log"
	"time"

	ordersdb "github.com/jeremy-jemverse/flownodes/internal/orders/db"
)

// BuildClients wires the saga's activity clients from config (Postgres DSN).
// If the DSN is empty or initialization fails, payments fall back to the
// in-memory client. The returned cleanup closes any external resources.
func BuildClients(ctx context.Context, dsn string, logf func(format string, args ...any)) (PaymentClient, InventoryClient, func()) {
	if logf == nil {
		logf = log.Printf
	}

	cleanup := func() {}
	var payments PaymentClient = NewInMemoryPaymentClient()

	if dsn != "" {
		sqlDB, err := sql.Open("pgx", dsn)
		if err != nil {
			logf("postgres open failed, falling back to in-memory payments: %v", err)
		} else {
			setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			ledger, err := ordersdb.NewPaymentLedgerWithSchema(setupCtx, sqlDB)
			if err != nil {
				logf("postgres init failed, falling back to in-memory payments: %v", err)
				_ = sqlDB.Close()
			} else {
				logf("postgres payment ledger enabled")
				payments = ledger
				cleanup = func() {
					if err := sqlDB.Close(); err != nil {
						logf("close postgres: %v", err)
					}
				}
			}
		}
	}

	return payments, NewInMemoryInventoryClient(), cleanup
}
