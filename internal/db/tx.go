package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"membergate/internal/types"
)

// txBeginner is satisfied by *pgxpool.Pool.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Stores groups the repositories bound to one transaction.
type Stores struct {
	Billing *BillingRepository
	Events  *EventRepository
}

// TxManager runs a unit of work in a single transaction.
type TxManager struct {
	pool txBeginner
}

// NewTxManager creates a TxManager over pool.
func NewTxManager(pool txBeginner) *TxManager {
	return &TxManager{pool: pool}
}

// RunInTx begins a transaction, hands fn repositories bound to it, and
// commits if fn returns nil. Any error from fn rolls everything back.
func (m *TxManager) RunInTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stores := Stores{
		Billing: NewBillingRepository(tx),
		Events:  NewEventRepository(tx),
	}
	if err := fn(ctx, stores); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit transaction", err)
	}
	return nil
}
