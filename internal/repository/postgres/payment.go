package postgres

import (
	"context"
	"database/sql"
	"errors"

	"medride/internal/domain"
	"medride/internal/repository"
)

// PaymentRepository is a PostgreSQL implementation of repository.PaymentRepository.
type PaymentRepository struct {
	q Querier
}

// NewPaymentRepository creates a new PostgreSQL payment repository.
func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{q: db}
}

// NewPaymentRepositoryWithTx creates a payment repository using a transaction.
func NewPaymentRepositoryWithTx(tx *sql.Tx) *PaymentRepository {
	return &PaymentRepository{q: tx}
}

const paymentColumns = `id, ride_id, user_id, payment_method_id, gateway_charge_id, idempotency_key,
	amount, currency, type, status, platform_fee, processing_fee, net_amount, admin_override,
	admin_notes, failure_code, failure_message, client_secret, created_at, updated_at`

// Create persists a new payment transaction.
func (r *PaymentRepository) Create(ctx context.Context, txn *domain.PaymentTransaction) error {
	query := `
		INSERT INTO payment_transactions (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	_, err := r.q.ExecContext(ctx, query, append([]any{txn.ID}, paymentArgs(txn)...)...)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

// GetByID retrieves a transaction by ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions WHERE id = $1`

	txn, err := scanPayment(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return txn, nil
}

// GetByGatewayChargeID retrieves a transaction by gateway charge id.
// Returns nil if no transaction exists for the charge.
func (r *PaymentRepository) GetByGatewayChargeID(ctx context.Context, chargeID string) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions WHERE gateway_charge_id = $1`
	return r.getOptional(ctx, query, chargeID)
}

// GetLatestByRide retrieves the most recent payment attempt for a ride, or nil.
func (r *PaymentRepository) GetLatestByRide(ctx context.Context, rideID string) (*domain.PaymentTransaction, error) {
	query := `
		SELECT ` + paymentColumns + ` FROM payment_transactions
		WHERE ride_id = $1 AND type = 'payment'
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.getOptional(ctx, query, rideID)
}

func (r *PaymentRepository) getOptional(ctx context.Context, query, arg string) (*domain.PaymentTransaction, error) {
	txn, err := scanPayment(r.q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return txn, nil
}

// CountByRide returns the number of payment attempts for a ride.
func (r *PaymentRepository) CountByRide(ctx context.Context, rideID string) (int, error) {
	query := `SELECT COUNT(*) FROM payment_transactions WHERE ride_id = $1 AND type = 'payment'`

	var n int
	if err := r.q.QueryRowContext(ctx, query, rideID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Update updates an existing transaction.
func (r *PaymentRepository) Update(ctx context.Context, txn *domain.PaymentTransaction) error {
	query := `
		UPDATE payment_transactions
		SET ride_id = $2, user_id = $3, payment_method_id = $4, gateway_charge_id = $5,
		    idempotency_key = $6, amount = $7, currency = $8, type = $9, status = $10,
		    platform_fee = $11, processing_fee = $12, net_amount = $13, admin_override = $14,
		    admin_notes = $15, failure_code = $16, failure_message = $17, client_secret = $18,
		    created_at = $19, updated_at = $20
		WHERE id = $1
	`

	result, err := r.q.ExecContext(ctx, query, append([]any{txn.ID}, paymentArgs(txn)...)...)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return err
	}
	return requireAffected(result)
}

func paymentArgs(txn *domain.PaymentTransaction) []any {
	return []any{
		txn.RideID,
		txn.UserID,
		nullString(txn.PaymentMethodID),
		nullString(txn.GatewayChargeID),
		txn.IdempotencyKey,
		txn.Amount,
		txn.Currency,
		txn.Type,
		txn.Status,
		txn.PlatformFee,
		txn.ProcessingFee,
		txn.NetAmount,
		txn.AdminOverride,
		nullString(txn.AdminNotes),
		nullString(txn.FailureCode),
		nullString(txn.FailureMessage),
		nullString(txn.ClientSecret),
		txn.CreatedAt,
		txn.UpdatedAt,
	}
}

func scanPayment(s rowScanner) (*domain.PaymentTransaction, error) {
	var txn domain.PaymentTransaction
	var methodID, chargeID, notes, failureCode, failureMessage, clientSecret sql.NullString

	err := s.Scan(
		&txn.ID,
		&txn.RideID,
		&txn.UserID,
		&methodID,
		&chargeID,
		&txn.IdempotencyKey,
		&txn.Amount,
		&txn.Currency,
		&txn.Type,
		&txn.Status,
		&txn.PlatformFee,
		&txn.ProcessingFee,
		&txn.NetAmount,
		&txn.AdminOverride,
		&notes,
		&failureCode,
		&failureMessage,
		&clientSecret,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	txn.PaymentMethodID = methodID.String
	txn.GatewayChargeID = chargeID.String
	txn.AdminNotes = notes.String
	txn.FailureCode = failureCode.String
	txn.FailureMessage = failureMessage.String
	txn.ClientSecret = clientSecret.String
	return &txn, nil
}

// PaymentMethodRepository is a PostgreSQL implementation of repository.PaymentMethodRepository.
type PaymentMethodRepository struct {
	q Querier
}

// NewPaymentMethodRepository creates a new PostgreSQL payment method repository.
func NewPaymentMethodRepository(db *sql.DB) *PaymentMethodRepository {
	return &PaymentMethodRepository{q: db}
}

const paymentMethodColumns = `id, user_id, gateway_method_ref, brand, last4, is_default, created_at`

// Create persists a new payment method.
func (r *PaymentMethodRepository) Create(ctx context.Context, m *domain.PaymentMethod) error {
	query := `INSERT INTO payment_methods (` + paymentMethodColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.q.ExecContext(ctx, query, m.ID, m.UserID, m.GatewayMethodRef, m.Brand, m.Last4, m.IsDefault, m.CreatedAt)
	return err
}

// GetDefaultByUser returns the user's default method, or nil if none is saved.
func (r *PaymentMethodRepository) GetDefaultByUser(ctx context.Context, userID string) (*domain.PaymentMethod, error) {
	query := `SELECT ` + paymentMethodColumns + ` FROM payment_methods WHERE user_id = $1 AND is_default LIMIT 1`

	var m domain.PaymentMethod
	err := r.q.QueryRowContext(ctx, query, userID).Scan(
		&m.ID, &m.UserID, &m.GatewayMethodRef, &m.Brand, &m.Last4, &m.IsDefault, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// ListByUser returns all saved methods for a user.
func (r *PaymentMethodRepository) ListByUser(ctx context.Context, userID string) ([]*domain.PaymentMethod, error) {
	query := `SELECT ` + paymentMethodColumns + ` FROM payment_methods WHERE user_id = $1 ORDER BY created_at`
	rows, err := r.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var methods []*domain.PaymentMethod
	for rows.Next() {
		var m domain.PaymentMethod
		if err := rows.Scan(&m.ID, &m.UserID, &m.GatewayMethodRef, &m.Brand, &m.Last4, &m.IsDefault, &m.CreatedAt); err != nil {
			return nil, err
		}
		methods = append(methods, &m)
	}
	return methods, rows.Err()
}

// SetDefault makes methodID the user's only default method.
func (r *PaymentMethodRepository) SetDefault(ctx context.Context, userID, methodID string) error {
	var exists bool
	check := `SELECT EXISTS (SELECT 1 FROM payment_methods WHERE id = $1 AND user_id = $2)`
	if err := r.q.QueryRowContext(ctx, check, methodID, userID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}

	query := `UPDATE payment_methods SET is_default = (id = $2) WHERE user_id = $1`
	_, err := r.q.ExecContext(ctx, query, userID, methodID)
	return err
}
