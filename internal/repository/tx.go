package repository

import "context"

// Repositories groups the repositories that take part in one unit of work.
type Repositories struct {
	Rides    RideRepository
	Bids     BidRepository
	Payments PaymentRepository
	Payouts  PayoutRepository
}

// TxManager runs a function inside a single database transaction.
// The transaction commits if fn returns nil and rolls back otherwise.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
