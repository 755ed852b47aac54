package repository

import (
	"context"

	"medride/internal/domain"
)

// PayoutRepository defines the persistence operations for driver payouts.
type PayoutRepository interface {
	// Create persists a new payout. Returns ErrDuplicate if the ride already has one.
	Create(ctx context.Context, payout *domain.DriverPayout) error

	// GetByID retrieves a payout by ID.
	GetByID(ctx context.Context, id string) (*domain.DriverPayout, error)

	// GetByRide retrieves the payout for a ride.
	// Returns nil if the ride has not been paid out.
	GetByRide(ctx context.Context, rideID string) (*domain.DriverPayout, error)

	// GetByTransferID retrieves a payout by gateway transfer id.
	// Returns nil if none matches.
	GetByTransferID(ctx context.Context, transferID string) (*domain.DriverPayout, error)

	// Update updates an existing payout.
	Update(ctx context.Context, payout *domain.DriverPayout) error

	// UpdateStatusIf sets the payout status only while its current status is one of from.
	UpdateStatusIf(ctx context.Context, id string, to domain.PayoutStatus, from ...domain.PayoutStatus) (bool, error)
}
