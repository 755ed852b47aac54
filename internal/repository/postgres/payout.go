package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"medride/internal/domain"
	"medride/internal/repository"
)

// PayoutRepository is a PostgreSQL implementation of repository.PayoutRepository.
type PayoutRepository struct {
	q Querier
}

// NewPayoutRepository creates a new PostgreSQL payout repository.
func NewPayoutRepository(db *sql.DB) *PayoutRepository {
	return &PayoutRepository{q: db}
}

// NewPayoutRepositoryWithTx creates a payout repository using a transaction.
func NewPayoutRepositoryWithTx(tx *sql.Tx) *PayoutRepository {
	return &PayoutRepository{q: tx}
}

const payoutColumns = `id, ride_id, driver_id, total_amount, driver_amount, platform_fee, processing_fee,
	gateway_transfer_id, status, failure_reason, attempts, created_at, updated_at`

// Create persists a new payout. The unique index on ride_id turns a second
// payout for the same ride into ErrDuplicate.
func (r *PayoutRepository) Create(ctx context.Context, p *domain.DriverPayout) error {
	query := `
		INSERT INTO driver_payouts (` + payoutColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.q.ExecContext(ctx, query,
		p.ID,
		p.RideID,
		p.DriverID,
		p.TotalAmount,
		p.DriverAmount,
		p.PlatformFee,
		p.ProcessingFee,
		nullString(p.GatewayTransferID),
		p.Status,
		nullString(p.FailureReason),
		p.Attempts,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

// GetByID retrieves a payout by ID.
func (r *PayoutRepository) GetByID(ctx context.Context, id string) (*domain.DriverPayout, error) {
	query := `SELECT ` + payoutColumns + ` FROM driver_payouts WHERE id = $1`

	p, err := scanPayout(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// GetByRide retrieves the payout for a ride, or nil if there is none.
func (r *PayoutRepository) GetByRide(ctx context.Context, rideID string) (*domain.DriverPayout, error) {
	query := `SELECT ` + payoutColumns + ` FROM driver_payouts WHERE ride_id = $1`
	return r.getOptional(ctx, query, rideID)
}

// GetByTransferID retrieves a payout by gateway transfer id, or nil.
func (r *PayoutRepository) GetByTransferID(ctx context.Context, transferID string) (*domain.DriverPayout, error) {
	query := `SELECT ` + payoutColumns + ` FROM driver_payouts WHERE gateway_transfer_id = $1`
	return r.getOptional(ctx, query, transferID)
}

func (r *PayoutRepository) getOptional(ctx context.Context, query, arg string) (*domain.DriverPayout, error) {
	p, err := scanPayout(r.q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// Update updates an existing payout.
func (r *PayoutRepository) Update(ctx context.Context, p *domain.DriverPayout) error {
	query := `
		UPDATE driver_payouts
		SET gateway_transfer_id = $1, status = $2, failure_reason = $3, attempts = $4, updated_at = $5
		WHERE id = $6
	`

	result, err := r.q.ExecContext(ctx, query,
		nullString(p.GatewayTransferID),
		p.Status,
		nullString(p.FailureReason),
		p.Attempts,
		p.UpdatedAt,
		p.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// UpdateStatusIf sets the payout status only while its current status is one of from.
func (r *PayoutRepository) UpdateStatusIf(ctx context.Context, id string, to domain.PayoutStatus, from ...domain.PayoutStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("update payout %s: no expected status", id)
	}

	expected := make([]string, len(from))
	for i, s := range from {
		expected[i] = string(s)
	}

	query := `UPDATE driver_payouts SET status = $1, updated_at = NOW() WHERE id = $2 AND status = ANY($3)`

	result, err := r.q.ExecContext(ctx, query, to, id, pq.Array(expected))
	if err != nil {
		return false, err
	}
	return affected(result)
}

func scanPayout(s rowScanner) (*domain.DriverPayout, error) {
	var p domain.DriverPayout
	var transferID, failureReason sql.NullString

	err := s.Scan(
		&p.ID,
		&p.RideID,
		&p.DriverID,
		&p.TotalAmount,
		&p.DriverAmount,
		&p.PlatformFee,
		&p.ProcessingFee,
		&transferID,
		&p.Status,
		&failureReason,
		&p.Attempts,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.GatewayTransferID = transferID.String
	p.FailureReason = failureReason.String
	return &p, nil
}
