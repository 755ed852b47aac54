package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"medride/internal/domain"
	"medride/internal/metrics"
	"medride/internal/repository"
)

// PayoutTrigger starts a driver payout without waiting for it.
type PayoutTrigger interface {
	Dispatch(rideID, driverID string, total float64)
}

// PaymentConfig holds charge settings.
type PaymentConfig struct {
	Currency       string
	GatewayTimeout time.Duration
}

// PaymentService charges riders for scheduled rides.
type PaymentService struct {
	tx          repository.TxManager
	rideRepo    repository.RideRepository
	paymentRepo repository.PaymentRepository
	methodRepo  repository.PaymentMethodRepository
	userRepo    repository.UserRepository
	gateway     PaymentGateway
	fees        PlatformFeeSource
	payouts     PayoutTrigger
	notifier    *NotificationService
	cfg         PaymentConfig
	log         logrus.FieldLogger
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(
	tx repository.TxManager,
	rideRepo repository.RideRepository,
	paymentRepo repository.PaymentRepository,
	methodRepo repository.PaymentMethodRepository,
	userRepo repository.UserRepository,
	gateway PaymentGateway,
	fees PlatformFeeSource,
	payouts PayoutTrigger,
	notifier *NotificationService,
	cfg PaymentConfig,
	log logrus.FieldLogger,
) *PaymentService {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	return &PaymentService{
		tx:          tx,
		rideRepo:    rideRepo,
		paymentRepo: paymentRepo,
		methodRepo:  methodRepo,
		userRepo:    userRepo,
		gateway:     gateway,
		fees:        fees,
		payouts:     payouts,
		notifier:    notifier,
		cfg:         cfg,
		log:         log,
	}
}

// PaymentResult is the outcome of a payment attempt.
type PaymentResult struct {
	Ride        *domain.Ride
	Transaction *domain.PaymentTransaction
	// ClientSecret is set when the rider must complete an extra step, such as
	// card authentication, before the charge can succeed.
	ClientSecret string
}

// RequiresAction reports whether the rider still has to act on the charge.
func (r *PaymentResult) RequiresAction() bool {
	return r.Transaction != nil && r.Transaction.Status == domain.PaymentStatusRequiresAction
}

// ProcessRidePayment charges the rider's default payment method for a
// scheduled ride. An earlier attempt whose outcome was never observed is
// reconciled with the gateway instead of charging again.
func (s *PaymentService) ProcessRidePayment(ctx context.Context, actor domain.Actor, rideID string) (*PaymentResult, error) {
	return s.pay(ctx, actor, rideID, "process")
}

// RetryPayment runs the payment flow again after a failed or unresolved attempt.
func (s *PaymentService) RetryPayment(ctx context.Context, actor domain.Actor, rideID string) (*PaymentResult, error) {
	return s.pay(ctx, actor, rideID, "retry")
}

func (s *PaymentService) pay(ctx context.Context, actor domain.Actor, rideID, op string) (*PaymentResult, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}

	ride, err := getRide(ctx, s.rideRepo, rideID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.ID != ride.RiderID && actor.ID != ride.DriverID {
		return nil, ErrForbidden
	}

	latest, err := s.paymentRepo.GetLatestByRide(ctx, ride.ID)
	if err != nil {
		return nil, fmt.Errorf("load latest payment: %w", err)
	}

	if ride.Status == domain.RideStatusPaid {
		return &PaymentResult{Ride: ride, Transaction: latest}, nil
	}
	if ride.Status != domain.RideStatusScheduled && ride.Status != domain.RideStatusPaymentPending {
		return nil, fmt.Errorf("%w: cannot charge a ride that is %s", ErrInvalidTransition, ride.Status)
	}

	if latest != nil {
		switch latest.Status {
		case domain.PaymentStatusUnknown, domain.PaymentStatusProcessing, domain.PaymentStatusPending:
			s.log.WithFields(logrus.Fields{"ride_id": ride.ID, "transaction_id": latest.ID}).Info("reconciling unresolved payment")
			return s.reconcile(ctx, ride, latest)
		case domain.PaymentStatusRequiresAction:
			return &PaymentResult{Ride: ride, Transaction: latest, ClientSecret: latest.ClientSecret}, nil
		case domain.PaymentStatusSucceeded:
			return s.applyCharge(ctx, latest, &Charge{ID: latest.GatewayChargeID, Status: ChargeSucceeded, Amount: latest.Amount, Fee: latest.ProcessingFee})
		}
	}

	method, err := s.methodRepo.GetDefaultByUser(ctx, ride.RiderID)
	if err != nil {
		return nil, fmt.Errorf("load payment method: %w", err)
	}
	if method == nil {
		return nil, ErrNoPaymentMethod
	}

	customerRef := ""
	if rider, err := s.userRepo.GetByID(ctx, ride.RiderID); err == nil {
		customerRef = rider.GatewayCustomerID
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load rider: %w", err)
	}

	feePct, err := s.fees.PlatformFeePercent(ctx)
	if err != nil {
		return nil, err
	}

	txn, err := s.startAttempt(ctx, ride, method, feePct)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"ride_id":         ride.ID,
		"transaction_id":  txn.ID,
		"amount":          txn.Amount,
		"idempotency_key": txn.IdempotencyKey,
		"op":              op,
	}).Info("charging rider")

	charge, err := s.createCharge(ctx, ChargeRequest{
		Amount:           txn.Amount,
		Currency:         txn.Currency,
		CustomerRef:      customerRef,
		PaymentMethodRef: method.GatewayMethodRef,
		IdempotencyKey:   txn.IdempotencyKey,
		Metadata:         map[string]string{"ride_id": ride.ID, "transaction_id": txn.ID},
	})
	if err != nil {
		return nil, s.chargeError(ctx, ride, txn, err)
	}
	return s.applyCharge(ctx, txn, charge)
}

// startAttempt moves the ride to payment_pending and records a new charge
// attempt with its own idempotency key.
func (s *PaymentService) startAttempt(ctx context.Context, ride *domain.Ride, method *domain.PaymentMethod, feePct float64) (*domain.PaymentTransaction, error) {
	var txn *domain.PaymentTransaction
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		from := ride.Status
		ride.Status = domain.RideStatusPaymentPending
		ride.UpdatedAt = time.Now()
		ok, err := repos.Rides.UpdateIfStatus(ctx, ride, domain.RideStatusScheduled, domain.RideStatusPaymentPending)
		if err != nil {
			return err
		}
		if !ok {
			ride.Status = from
			return fmt.Errorf("%w: ride is no longer %s", ErrInvalidTransition, from)
		}

		attempts, err := repos.Payments.CountByRide(ctx, ride.ID)
		if err != nil {
			return err
		}

		amount := roundCents(ride.ChargeAmount())
		now := time.Now()
		txn = &domain.PaymentTransaction{
			ID:              uuid.New().String(),
			RideID:          ride.ID,
			UserID:          ride.RiderID,
			PaymentMethodID: method.ID,
			IdempotencyKey:  chargeIdempotencyKey(ride.ID, attempts+1),
			Amount:          amount,
			Currency:        s.cfg.Currency,
			Type:            domain.TransactionTypePayment,
			Status:          domain.PaymentStatusProcessing,
			PlatformFee:     roundCents(amount * feePct / 100),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return repos.Payments.Create(ctx, txn)
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func chargeIdempotencyKey(rideID string, attempt int) string {
	return fmt.Sprintf("ride:%s:attempt:%d", rideID, attempt)
}

// createCharge calls the gateway with a bounded timeout.
func (s *PaymentService) createCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	return s.gateway.CreateCharge(ctx, req)
}

// chargeError records a gateway call that returned no charge. A transient
// failure leaves the attempt unknown so it is reconciled later under the
// same idempotency key. Anything else fails the attempt; card problems are
// reported as a decline the rider can act on.
func (s *PaymentService) chargeError(ctx context.Context, ride *domain.Ride, txn *domain.PaymentTransaction, err error) error {
	entry := s.log.WithError(err).WithFields(logrus.Fields{"ride_id": ride.ID, "transaction_id": txn.ID})

	if IsTransientGatewayError(err) {
		txn.Status = domain.PaymentStatusUnknown
		txn.UpdatedAt = time.Now()
		if uerr := s.paymentRepo.Update(ctx, txn); uerr != nil {
			entry.WithField("update_error", uerr.Error()).Error("failed to record unknown payment outcome")
		}
		entry.Warn("payment outcome unknown")
		metrics.PaymentsTotal.WithLabelValues(string(domain.PaymentStatusUnknown)).Inc()
		return ErrPaymentOutcomeUnknown
	}

	code := "gateway_error"
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		code = gwErr.Code
	}
	cardError := IsCardError(err)
	message := "payment could not be processed"
	if cardError {
		message = "card was declined"
	}
	if _, aerr := s.applyCharge(ctx, txn, &Charge{
		ID:             txn.GatewayChargeID,
		Status:         ChargeFailed,
		Amount:         txn.Amount,
		FailureCode:    code,
		FailureMessage: message,
	}); aerr != nil && !errors.Is(aerr, ErrCardDeclined) {
		entry.WithField("apply_error", aerr.Error()).Error("failed to record failed payment")
	}
	if cardError {
		entry.Warn("charge declined by gateway")
		return fmt.Errorf("%w: %s", ErrCardDeclined, code)
	}
	entry.Error("charge request failed")
	return ErrGatewayUnavailable
}

// reconcile resolves an attempt whose outcome was not observed. It asks the
// gateway for the charge if its id is known, and otherwise repeats the
// original request with the original idempotency key.
func (s *PaymentService) reconcile(ctx context.Context, ride *domain.Ride, txn *domain.PaymentTransaction) (*PaymentResult, error) {
	var (
		charge *Charge
		err    error
	)
	if txn.GatewayChargeID != "" {
		gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
		charge, err = s.gateway.GetCharge(gctx, txn.GatewayChargeID)
		cancel()
	} else {
		method, merr := s.methodForTransaction(ctx, txn)
		if merr != nil {
			return nil, merr
		}
		customerRef := ""
		if rider, uerr := s.userRepo.GetByID(ctx, ride.RiderID); uerr == nil {
			customerRef = rider.GatewayCustomerID
		}
		charge, err = s.createCharge(ctx, ChargeRequest{
			Amount:           txn.Amount,
			Currency:         txn.Currency,
			CustomerRef:      customerRef,
			PaymentMethodRef: method.GatewayMethodRef,
			IdempotencyKey:   txn.IdempotencyKey,
			Metadata:         map[string]string{"ride_id": ride.ID, "transaction_id": txn.ID},
		})
	}
	if err != nil {
		if IsTransientGatewayError(err) {
			s.log.WithError(err).WithField("transaction_id", txn.ID).Warn("payment still unresolved")
			return nil, ErrPaymentOutcomeUnknown
		}
		return nil, s.chargeError(ctx, ride, txn, err)
	}
	return s.applyCharge(ctx, txn, charge)
}

// methodForTransaction finds the saved method an attempt was made with.
func (s *PaymentService) methodForTransaction(ctx context.Context, txn *domain.PaymentTransaction) (*domain.PaymentMethod, error) {
	methods, err := s.methodRepo.ListByUser(ctx, txn.UserID)
	if err != nil {
		return nil, fmt.Errorf("load payment methods: %w", err)
	}
	for _, m := range methods {
		if m.ID == txn.PaymentMethodID {
			return m, nil
		}
	}
	return nil, ErrNoPaymentMethod
}

// ConfirmPayment completes a charge after the rider finished the extra step
// the gateway asked for.
func (s *PaymentService) ConfirmPayment(ctx context.Context, actor domain.Actor, chargeID string) (*PaymentResult, error) {
	if chargeID == "" {
		return nil, ErrPaymentNotFound
	}

	txn, err := s.paymentRepo.GetByGatewayChargeID(ctx, chargeID)
	if err != nil {
		return nil, fmt.Errorf("load payment: %w", err)
	}
	if txn == nil {
		return nil, ErrPaymentNotFound
	}
	if !actor.IsAdmin() && actor.ID != txn.UserID {
		return nil, ErrForbidden
	}
	if txn.IsFinal() {
		ride, err := getRide(ctx, s.rideRepo, txn.RideID)
		if err != nil {
			return nil, err
		}
		return &PaymentResult{Ride: ride, Transaction: txn}, nil
	}

	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	charge, err := s.gateway.ConfirmCharge(gctx, chargeID)
	cancel()
	if err != nil {
		if IsTransientGatewayError(err) {
			return nil, ErrPaymentOutcomeUnknown
		}
		s.log.WithError(err).WithField("charge_id", chargeID).Error("charge confirmation failed")
		return nil, ErrGatewayUnavailable
	}
	return s.applyCharge(ctx, txn, charge)
}

// ApplyChargeEvent records a charge status reported asynchronously by the
// gateway. Events for unknown charges return ErrPaymentNotFound and events
// for settled transactions are ignored.
func (s *PaymentService) ApplyChargeEvent(ctx context.Context, charge *Charge) (*PaymentResult, error) {
	txn, err := s.paymentRepo.GetByGatewayChargeID(ctx, charge.ID)
	if err != nil {
		return nil, fmt.Errorf("load payment: %w", err)
	}
	if txn == nil {
		return nil, ErrPaymentNotFound
	}
	if txn.IsFinal() {
		return &PaymentResult{Transaction: txn}, nil
	}
	if charge.Amount == 0 {
		charge.Amount = txn.Amount
	}
	result, err := s.applyCharge(ctx, txn, charge)
	if errors.Is(err, ErrCardDeclined) {
		return result, nil
	}
	return result, err
}

// applyCharge moves the attempt and its ride to match the gateway's charge.
func (s *PaymentService) applyCharge(ctx context.Context, txn *domain.PaymentTransaction, charge *Charge) (*PaymentResult, error) {
	if charge.ID != "" && charge.ID != txn.GatewayChargeID {
		existing, err := s.paymentRepo.GetByGatewayChargeID(ctx, charge.ID)
		if err != nil {
			return nil, fmt.Errorf("load payment by charge: %w", err)
		}
		if existing != nil && existing.ID != txn.ID {
			txn = existing
			if txn.IsFinal() {
				ride, err := getRide(ctx, s.rideRepo, txn.RideID)
				if err != nil {
					return nil, err
				}
				return &PaymentResult{Ride: ride, Transaction: txn}, nil
			}
		}
		txn.GatewayChargeID = charge.ID
	}

	txn.ProcessingFee = charge.Fee
	txn.NetAmount = roundCents(txn.Amount - txn.ProcessingFee)
	txn.UpdatedAt = time.Now()

	var (
		ride     *domain.Ride
		nowPaid  bool
		declined bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		r, err := getRide(ctx, repos.Rides, txn.RideID)
		if err != nil {
			return err
		}
		ride = r

		switch charge.Status {
		case ChargeSucceeded:
			txn.Status = domain.PaymentStatusSucceeded
			txn.ClientSecret = ""
			if err := repos.Payments.Update(ctx, txn); err != nil {
				return err
			}
			ride.Status = domain.RideStatusPaid
			ride.UpdatedAt = txn.UpdatedAt
			nowPaid, err = repos.Rides.UpdateIfStatus(ctx, ride, domain.RideStatusPaymentPending, domain.RideStatusScheduled)
			if err != nil {
				return err
			}
			if !nowPaid {
				r, err := getRide(ctx, repos.Rides, txn.RideID)
				if err != nil {
					return err
				}
				ride = r
				return nil
			}
			_, err = repos.Bids.UpdateStatusByRide(ctx, ride.ID, "", domain.BidStatusRejected,
				domain.BidStatusPending, domain.BidStatusSelected)
			return err

		case ChargeRequiresAction:
			txn.Status = domain.PaymentStatusRequiresAction
			txn.ClientSecret = charge.ClientSecret
			return repos.Payments.Update(ctx, txn)

		case ChargeProcessing:
			txn.Status = domain.PaymentStatusProcessing
			return repos.Payments.Update(ctx, txn)

		default:
			declined = true
			txn.Status = domain.PaymentStatusFailed
			txn.FailureCode = charge.FailureCode
			txn.FailureMessage = charge.FailureMessage
			txn.ClientSecret = ""
			if err := repos.Payments.Update(ctx, txn); err != nil {
				return err
			}
			if ride.Status == domain.RideStatusPaymentPending {
				ride.Status = domain.RideStatusScheduled
				ride.UpdatedAt = txn.UpdatedAt
				if _, err := repos.Rides.UpdateIfStatus(ctx, ride, domain.RideStatusPaymentPending); err != nil {
					return err
				}
			}
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	metrics.PaymentsTotal.WithLabelValues(string(txn.Status)).Inc()
	entry := s.log.WithFields(logrus.Fields{
		"ride_id":           txn.RideID,
		"transaction_id":    txn.ID,
		"gateway_charge_id": txn.GatewayChargeID,
		"status":            txn.Status,
	})

	result := &PaymentResult{Ride: ride, Transaction: txn, ClientSecret: txn.ClientSecret}
	switch {
	case declined:
		entry.WithField("failure_code", txn.FailureCode).Warn("payment failed")
		s.notifier.NotifyPaymentFailed(ctx, txn)
		return result, ErrCardDeclined
	case txn.Status == domain.PaymentStatusRequiresAction:
		entry.Info("payment requires customer action")
		s.notifier.NotifyPaymentActionRequired(ctx, txn)
	case nowPaid:
		entry.Info("payment succeeded")
		s.notifier.NotifyPaymentSuccess(ctx, txn)
		if s.payouts != nil && ride.DriverID != "" {
			s.payouts.Dispatch(ride.ID, ride.DriverID, txn.Amount)
		}
	}
	return result, nil
}
