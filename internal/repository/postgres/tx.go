package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"medride/internal/repository"
)

// TxManager runs units of work in a PostgreSQL transaction using
// transaction-scoped repositories.
type TxManager struct {
	db *sql.DB
}

// NewTxManager creates a new TxManager.
func NewTxManager(db *sql.DB) *TxManager {
	return &TxManager{db: db}
}

var _ repository.TxManager = (*TxManager)(nil)

// WithinTx begins a transaction, hands fn repositories bound to it, and
// commits if fn succeeds. Any error or panic rolls the transaction back.
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	repos := repository.Repositories{
		Rides:    NewRideRepositoryWithTx(tx),
		Bids:     NewBidRepositoryWithTx(tx),
		Payments: NewPaymentRepositoryWithTx(tx),
		Payouts:  NewPayoutRepositoryWithTx(tx),
	}

	if err = fn(ctx, repos); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
