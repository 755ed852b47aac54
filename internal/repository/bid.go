package repository

import (
	"context"

	"medride/internal/domain"
)

// BidRepository defines the persistence operations for bids.
type BidRepository interface {
	// Create persists a new bid. Returns ErrDuplicate if the driver already
	// holds an active root bid on the ride.
	Create(ctx context.Context, bid *domain.Bid) error

	// GetByID retrieves a bid by ID.
	GetByID(ctx context.Context, id string) (*domain.Bid, error)

	// GetByIDForUpdate retrieves a bid and locks its row for the current transaction.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Bid, error)

	// ListByRide retrieves all bids on a ride, oldest first.
	ListByRide(ctx context.Context, rideID string) ([]*domain.Bid, error)

	// GetActiveByDriver returns the driver's active bid on a ride.
	// Returns nil if none exists.
	GetActiveByDriver(ctx context.Context, rideID, driverID string) (*domain.Bid, error)

	// ListChain returns the root bid and all of its descendants ordered by bid count.
	ListChain(ctx context.Context, rootID string) ([]*domain.Bid, error)

	// UpdateStatusIf sets the bid status only while its current status is one of from.
	UpdateStatusIf(ctx context.Context, id string, to domain.BidStatus, from ...domain.BidStatus) (bool, error)

	// UpdateStatusByRide sets the status of every bid on the ride, other than
	// exceptID, whose current status is one of from. Returns the rows changed.
	UpdateStatusByRide(ctx context.Context, rideID, exceptID string, to domain.BidStatus, from ...domain.BidStatus) (int64, error)
}
