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

// BidRepository is a PostgreSQL implementation of repository.BidRepository.
type BidRepository struct {
	q Querier
}

// NewBidRepository creates a new PostgreSQL bid repository.
func NewBidRepository(db *sql.DB) *BidRepository {
	return &BidRepository{q: db}
}

// NewBidRepositoryWithTx creates a bid repository using a transaction.
func NewBidRepositoryWithTx(tx *sql.Tx) *BidRepository {
	return &BidRepository{q: tx}
}

const bidColumns = `id, ride_id, driver_id, amount, status, parent_bid_id, counter_party, bid_count, message, created_at, updated_at`

// Create persists a new bid.
func (r *BidRepository) Create(ctx context.Context, bid *domain.Bid) error {
	query := `
		INSERT INTO bids (` + bidColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.q.ExecContext(ctx, query,
		bid.ID,
		bid.RideID,
		bid.DriverID,
		bid.Amount,
		bid.Status,
		nullString(bid.ParentBidID),
		nullString(string(bid.CounterParty)),
		bid.BidCount,
		nullString(bid.Message),
		bid.CreatedAt,
		bid.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

// GetByID retrieves a bid by ID.
func (r *BidRepository) GetByID(ctx context.Context, id string) (*domain.Bid, error) {
	return r.get(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id)
}

// GetByIDForUpdate retrieves a bid and locks its row until the transaction ends.
func (r *BidRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Bid, error) {
	return r.get(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1 FOR UPDATE`, id)
}

func (r *BidRepository) get(ctx context.Context, query, id string) (*domain.Bid, error) {
	bid, err := scanBid(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return bid, nil
}

// ListByRide retrieves all bids on a ride, oldest first.
func (r *BidRepository) ListByRide(ctx context.Context, rideID string) ([]*domain.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE ride_id = $1 ORDER BY created_at, bid_count`
	return r.list(ctx, query, rideID)
}

// GetActiveByDriver returns a bid that keeps the driver from bidding on the
// ride again, or nil: a live opening bid or any offer still pending or selected.
func (r *BidRepository) GetActiveByDriver(ctx context.Context, rideID, driverID string) (*domain.Bid, error) {
	query := `
		SELECT ` + bidColumns + ` FROM bids
		WHERE ride_id = $1 AND driver_id = $2
		  AND ((parent_bid_id IS NULL AND status NOT IN ('withdrawn', 'rejected'))
		       OR status IN ('pending', 'selected'))
		ORDER BY created_at
		LIMIT 1
	`

	bid, err := scanBid(r.q.QueryRowContext(ctx, query, rideID, driverID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return bid, nil
}

// ListChain returns the root bid and its descendants ordered by bid count.
func (r *BidRepository) ListChain(ctx context.Context, rootID string) ([]*domain.Bid, error) {
	query := `
		WITH RECURSIVE chain AS (
			SELECT ` + bidColumns + ` FROM bids WHERE id = $1
			UNION ALL
			SELECT b.id, b.ride_id, b.driver_id, b.amount, b.status, b.parent_bid_id, b.counter_party,
			       b.bid_count, b.message, b.created_at, b.updated_at
			FROM bids b JOIN chain c ON b.parent_bid_id = c.id
		)
		SELECT ` + bidColumns + ` FROM chain ORDER BY bid_count
	`
	return r.list(ctx, query, rootID)
}

func (r *BidRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Bid, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []*domain.Bid
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, bid)
	}
	return bids, rows.Err()
}

// UpdateStatusIf sets the bid status only while its current status is one of from.
func (r *BidRepository) UpdateStatusIf(ctx context.Context, id string, to domain.BidStatus, from ...domain.BidStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("update bid %s: no expected status", id)
	}

	query := `UPDATE bids SET status = $1, updated_at = NOW() WHERE id = $2 AND status = ANY($3)`

	result, err := r.q.ExecContext(ctx, query, to, id, pq.Array(bidStatusStrings(from)))
	if err != nil {
		return false, err
	}
	return affected(result)
}

// UpdateStatusByRide moves every other bid on the ride in one of from to status to.
func (r *BidRepository) UpdateStatusByRide(ctx context.Context, rideID, exceptID string, to domain.BidStatus, from ...domain.BidStatus) (int64, error) {
	if len(from) == 0 {
		return 0, fmt.Errorf("update bids for ride %s: no expected status", rideID)
	}

	query := `
		UPDATE bids SET status = $1, updated_at = NOW()
		WHERE ride_id = $2 AND id <> $3 AND status = ANY($4)
	`

	result, err := r.q.ExecContext(ctx, query, to, rideID, exceptID, pq.Array(bidStatusStrings(from)))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanBid(s rowScanner) (*domain.Bid, error) {
	var bid domain.Bid
	var parentID, counterParty, message sql.NullString

	err := s.Scan(
		&bid.ID,
		&bid.RideID,
		&bid.DriverID,
		&bid.Amount,
		&bid.Status,
		&parentID,
		&counterParty,
		&bid.BidCount,
		&message,
		&bid.CreatedAt,
		&bid.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	bid.ParentBidID = parentID.String
	bid.CounterParty = domain.Party(counterParty.String)
	bid.Message = message.String
	return &bid, nil
}

func bidStatusStrings(statuses []domain.BidStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
