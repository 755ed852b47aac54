package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"medride/internal/domain"
	"medride/internal/repository"
)

// RideRepository is a PostgreSQL implementation of repository.RideRepository.
type RideRepository struct {
	q Querier
}

// NewRideRepository creates a new PostgreSQL ride repository.
func NewRideRepository(db *sql.DB) *RideRepository {
	return &RideRepository{q: db}
}

// NewRideRepositoryWithTx creates a ride repository using a transaction.
func NewRideRepositoryWithTx(tx *sql.Tx) *RideRepository {
	return &RideRepository{q: tx}
}

const rideColumns = `id, rider_id, driver_id, status, pickup_lat, pickup_lng, pickup_address,
	dropoff_lat, dropoff_lng, dropoff_address, scheduled_time, vehicle_type, accessibility,
	estimated_distance, rider_bid, final_price, is_urgent, expires_at, promo_code,
	cancel_reason, cancelled_at, late_cancellation, edit_prev_status, pending_edit,
	created_at, updated_at`

// Create persists a new ride.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	query := `
		INSERT INTO rides (` + rideColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
	`

	args, err := rideArgs(ride)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, query, append([]any{ride.ID}, args...)...)
	return err
}

// GetByID retrieves a ride by ID.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE id = $1`

	ride, err := scanRide(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return ride, nil
}

// GetAll retrieves the most recent rides.
func (r *RideRepository) GetAll(ctx context.Context) ([]*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides ORDER BY created_at DESC LIMIT 100`
	return r.list(ctx, query)
}

// ListByParticipant returns the most recent rides a user requested or drives.
func (r *RideRepository) ListByParticipant(ctx context.Context, userID string) ([]*domain.Ride, error) {
	query := `
		SELECT ` + rideColumns + ` FROM rides
		WHERE rider_id = $1 OR driver_id = $1
		ORDER BY created_at DESC
		LIMIT 100
	`
	return r.list(ctx, query, userID)
}

// ListExpiredRequested returns requested rides whose expiry has passed.
func (r *RideRepository) ListExpiredRequested(ctx context.Context, now time.Time, limit int) ([]*domain.Ride, error) {
	query := `
		SELECT ` + rideColumns + ` FROM rides
		WHERE status = $1 AND expires_at IS NOT NULL AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3
	`
	return r.list(ctx, query, domain.RideStatusRequested, now, limit)
}

func (r *RideRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Ride, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rides []*domain.Ride
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		rides = append(rides, ride)
	}
	return rides, rows.Err()
}

// Update updates an existing ride.
func (r *RideRepository) Update(ctx context.Context, ride *domain.Ride) error {
	query := `UPDATE rides SET ` + rideSetClause + ` WHERE id = $1`

	args, err := rideArgs(ride)
	if err != nil {
		return err
	}

	result, err := r.q.ExecContext(ctx, query, append([]any{ride.ID}, args...)...)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// UpdateIfStatus writes the ride only while its stored status is one of expected.
func (r *RideRepository) UpdateIfStatus(ctx context.Context, ride *domain.Ride, expected ...domain.RideStatus) (bool, error) {
	if len(expected) == 0 {
		return false, fmt.Errorf("update ride %s: no expected status", ride.ID)
	}

	query := `UPDATE rides SET ` + rideSetClause + ` WHERE id = $1 AND status = ANY($27)`

	args, err := rideArgs(ride)
	if err != nil {
		return false, err
	}
	args = append([]any{ride.ID}, args...)
	args = append(args, pq.Array(rideStatusStrings(expected)))

	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return affected(result)
}

const rideSetClause = `rider_id = $2, driver_id = $3, status = $4, pickup_lat = $5, pickup_lng = $6,
	pickup_address = $7, dropoff_lat = $8, dropoff_lng = $9, dropoff_address = $10,
	scheduled_time = $11, vehicle_type = $12, accessibility = $13, estimated_distance = $14,
	rider_bid = $15, final_price = $16, is_urgent = $17, expires_at = $18, promo_code = $19,
	cancel_reason = $20, cancelled_at = $21, late_cancellation = $22, edit_prev_status = $23,
	pending_edit = $24, created_at = $25, updated_at = $26`

// rideArgs returns the column values from rider_id onward, in rideColumns order.
func rideArgs(ride *domain.Ride) ([]any, error) {
	if !ride.HasConsistentDriver() {
		return nil, fmt.Errorf("ride %s is %s with driver %q: %w", ride.ID, ride.Status, ride.DriverID, repository.ErrDriverAssignment)
	}

	accessibility, err := json.Marshal(ride.Accessibility)
	if err != nil {
		return nil, fmt.Errorf("encode accessibility: %w", err)
	}

	var pendingEdit []byte
	if ride.PendingEdit != nil {
		pendingEdit, err = json.Marshal(ride.PendingEdit)
		if err != nil {
			return nil, fmt.Errorf("encode pending edit: %w", err)
		}
	}

	var finalPrice sql.NullFloat64
	if ride.FinalPrice > 0 {
		finalPrice = sql.NullFloat64{Float64: ride.FinalPrice, Valid: true}
	}

	return []any{
		ride.RiderID,
		nullString(ride.DriverID),
		ride.Status,
		ride.PickupLat,
		ride.PickupLng,
		ride.PickupAddress,
		ride.DropoffLat,
		ride.DropoffLng,
		ride.DropoffAddress,
		ride.ScheduledTime,
		ride.VehicleType,
		accessibility,
		ride.EstimatedDistance,
		ride.RiderBid,
		finalPrice,
		ride.IsUrgent,
		nullTime(ride.ExpiresAt),
		nullString(ride.PromoCode),
		nullString(ride.CancelReason),
		nullTime(ride.CancelledAt),
		ride.LateCancellation,
		nullString(string(ride.EditPrevStatus)),
		pendingEdit,
		ride.CreatedAt,
		ride.UpdatedAt,
	}, nil
}

func scanRide(s rowScanner) (*domain.Ride, error) {
	var ride domain.Ride
	var (
		driverID, promoCode, cancelReason, editPrev sql.NullString
		expiresAt, cancelledAt                      sql.NullTime
		finalPrice                                  sql.NullFloat64
		accessibility, pendingEdit                  []byte
	)

	err := s.Scan(
		&ride.ID,
		&ride.RiderID,
		&driverID,
		&ride.Status,
		&ride.PickupLat,
		&ride.PickupLng,
		&ride.PickupAddress,
		&ride.DropoffLat,
		&ride.DropoffLng,
		&ride.DropoffAddress,
		&ride.ScheduledTime,
		&ride.VehicleType,
		&accessibility,
		&ride.EstimatedDistance,
		&ride.RiderBid,
		&finalPrice,
		&ride.IsUrgent,
		&expiresAt,
		&promoCode,
		&cancelReason,
		&cancelledAt,
		&ride.LateCancellation,
		&editPrev,
		&pendingEdit,
		&ride.CreatedAt,
		&ride.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	ride.DriverID = driverID.String
	ride.PromoCode = promoCode.String
	ride.CancelReason = cancelReason.String
	ride.EditPrevStatus = domain.RideStatus(editPrev.String)
	ride.FinalPrice = finalPrice.Float64
	if expiresAt.Valid {
		ride.ExpiresAt = expiresAt.Time
	}
	if cancelledAt.Valid {
		ride.CancelledAt = cancelledAt.Time
	}
	if len(accessibility) > 0 {
		if err := json.Unmarshal(accessibility, &ride.Accessibility); err != nil {
			return nil, fmt.Errorf("decode accessibility: %w", err)
		}
	}
	if len(pendingEdit) > 0 {
		ride.PendingEdit = &domain.RideEdit{}
		if err := json.Unmarshal(pendingEdit, ride.PendingEdit); err != nil {
			return nil, fmt.Errorf("decode pending edit: %w", err)
		}
	}

	return &ride, nil
}

func rideStatusStrings(statuses []domain.RideStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
