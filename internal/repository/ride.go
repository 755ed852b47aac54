package repository

import (
	"context"
	"time"

	"medride/internal/domain"
)

// RideRepository defines the persistence operations for rides.
type RideRepository interface {
	// Create persists a new ride.
	Create(ctx context.Context, ride *domain.Ride) error

	// GetByID retrieves a ride by ID.
	GetByID(ctx context.Context, id string) (*domain.Ride, error)

	// GetAll retrieves the most recent rides.
	GetAll(ctx context.Context) ([]*domain.Ride, error)

	// ListByParticipant retrieves the most recent rides where the user is the rider or the driver.
	ListByParticipant(ctx context.Context, userID string) ([]*domain.Ride, error)

	// Update updates an existing ride.
	Update(ctx context.Context, ride *domain.Ride) error

	// UpdateIfStatus updates the ride only while its stored status is one of
	// expected. It reports whether a row was written.
	UpdateIfStatus(ctx context.Context, ride *domain.Ride, expected ...domain.RideStatus) (bool, error)

	// ListExpiredRequested returns rides still requested whose expiry is before now.
	ListExpiredRequested(ctx context.Context, now time.Time, limit int) ([]*domain.Ride, error)
}
