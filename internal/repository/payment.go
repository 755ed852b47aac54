package repository

import (
	"context"

	"medride/internal/domain"
)

// PaymentRepository defines the persistence operations for payment transactions.
type PaymentRepository interface {
	// Create persists a new transaction.
	Create(ctx context.Context, txn *domain.PaymentTransaction) error

	// GetByID retrieves a transaction by ID.
	GetByID(ctx context.Context, id string) (*domain.PaymentTransaction, error)

	// GetByGatewayChargeID retrieves a transaction by the gateway's charge id.
	// Returns nil if no transaction exists for the charge.
	GetByGatewayChargeID(ctx context.Context, chargeID string) (*domain.PaymentTransaction, error)

	// GetLatestByRide retrieves the most recent payment attempt for a ride.
	// Returns nil if the ride has never been charged.
	GetLatestByRide(ctx context.Context, rideID string) (*domain.PaymentTransaction, error)

	// CountByRide returns the number of payment attempts recorded for a ride.
	CountByRide(ctx context.Context, rideID string) (int, error)

	// Update updates an existing transaction.
	Update(ctx context.Context, txn *domain.PaymentTransaction) error
}

// PaymentMethodRepository defines the persistence operations for saved payment methods.
type PaymentMethodRepository interface {
	// Create persists a new payment method.
	Create(ctx context.Context, method *domain.PaymentMethod) error

	// GetDefaultByUser returns the user's default payment method.
	// Returns nil if the user has none.
	GetDefaultByUser(ctx context.Context, userID string) (*domain.PaymentMethod, error)

	// ListByUser returns all saved methods for a user.
	ListByUser(ctx context.Context, userID string) ([]*domain.PaymentMethod, error)

	// SetDefault makes the given method the user's only default.
	SetDefault(ctx context.Context, userID, methodID string) error
}
