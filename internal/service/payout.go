package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"medride/internal/domain"
	"medride/internal/metrics"
	"medride/internal/repository"
	"medride/internal/retry"
)

// PayoutConfig holds transfer settings.
type PayoutConfig struct {
	Currency       string
	GatewayTimeout time.Duration
	// StaleAfter is how long a payout may stay pending or processing before
	// RetryFailedPayout treats it as abandoned.
	StaleAfter time.Duration
}

// PayoutService splits a ride's fare between the platform and the driver
// and transfers the driver's share. A ride is paid out at most once.
type PayoutService struct {
	payoutRepo repository.PayoutRepository
	driverRepo repository.DriverRepository
	gateway    PaymentGateway
	fees       PlatformFeeSource
	retrier    *retry.Retrier
	notifier   *NotificationService
	cfg        PayoutConfig
	log        logrus.FieldLogger
}

// NewPayoutService creates a new PayoutService. Transfers are retried by
// retrier, which should only retry transient gateway errors.
func NewPayoutService(
	payoutRepo repository.PayoutRepository,
	driverRepo repository.DriverRepository,
	gateway PaymentGateway,
	fees PlatformFeeSource,
	retrier *retry.Retrier,
	notifier *NotificationService,
	cfg PayoutConfig,
	log logrus.FieldLogger,
) *PayoutService {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	return &PayoutService{
		payoutRepo: payoutRepo,
		driverRepo: driverRepo,
		gateway:    gateway,
		fees:       fees,
		retrier:    retrier,
		notifier:   notifier,
		cfg:        cfg,
		log:        log,
	}
}

// TransferRetryConfig returns the retry settings for payout transfers.
func TransferRetryConfig(maxAttempts int, baseDelay, maxDelay time.Duration) retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = maxAttempts
	cfg.BaseDelay = baseDelay
	cfg.MaxDelay = maxDelay
	cfg.Retryable = IsTransientGatewayError
	return cfg
}

// SplitFare divides a charged total into the platform fee and the driver's
// share. The two parts always add up to the total.
func SplitFare(total, feePercent float64) (driverAmount, platformFee float64) {
	platformFee = roundCents(total * feePercent / 100)
	driverAmount = roundCents(total - platformFee)
	return driverAmount, platformFee
}

// ProcessDriverPayout pays the driver for a ride. If the ride already has a
// payout it is returned unchanged. A failed transfer leaves the payout
// failed for RetryFailedPayout and is not reported as an error.
func (s *PayoutService) ProcessDriverPayout(ctx context.Context, rideID, driverID string, total float64) (*domain.DriverPayout, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	if total <= 0 {
		return nil, ErrInvalidAmount
	}

	existing, err := s.payoutRepo.GetByRide(ctx, rideID)
	if err != nil {
		return nil, fmt.Errorf("load payout: %w", err)
	}
	if existing != nil {
		s.log.WithFields(logrus.Fields{"ride_id": rideID, "payout_id": existing.ID}).Info("payout already exists")
		return existing, nil
	}

	feePct, err := s.fees.PlatformFeePercent(ctx)
	if err != nil {
		return nil, err
	}
	driverAmount, platformFee := SplitFare(total, feePct)

	now := time.Now()
	payout := &domain.DriverPayout{
		ID:           uuid.New().String(),
		RideID:       rideID,
		DriverID:     driverID,
		TotalAmount:  roundCents(total),
		DriverAmount: driverAmount,
		PlatformFee:  platformFee,
		Status:       domain.PayoutStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.payoutRepo.Create(ctx, payout); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return s.payoutRepo.GetByRide(ctx, rideID)
		}
		return nil, fmt.Errorf("create payout: %w", err)
	}

	ok, err := s.payoutRepo.UpdateStatusIf(ctx, payout.ID, domain.PayoutStatusProcessing, domain.PayoutStatusPending)
	if err != nil {
		return nil, fmt.Errorf("start payout %s: %w", payout.ID, err)
	}
	if !ok {
		return s.getPayout(ctx, payout.ID)
	}
	payout.Status = domain.PayoutStatusProcessing

	return s.transfer(ctx, payout)
}

// RetryFailedPayout attempts the transfer of a failed payout again. A payout
// left pending or processing for longer than StaleAfter, for example after
// its outcome could not be recorded, is marked failed and retried too. The
// transfer reuses the payout's idempotency key, so a transfer the gateway
// already made is not repeated.
func (s *PayoutService) RetryFailedPayout(ctx context.Context, payoutID string) (*domain.DriverPayout, error) {
	if payoutID == "" {
		return nil, ErrPayoutNotFound
	}

	payout, err := s.getPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	entry := s.log.WithFields(logrus.Fields{"payout_id": payout.ID, "ride_id": payout.RideID})

	switch {
	case payout.Status == domain.PayoutStatusFailed:
	case s.isStale(payout):
		ok, err := s.payoutRepo.UpdateStatusIf(ctx, payout.ID, domain.PayoutStatusFailed, domain.PayoutStatusPending, domain.PayoutStatusProcessing)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrInvalidRetryState
		}
		entry.WithFields(logrus.Fields{"status": payout.Status, "updated_at": payout.UpdatedAt}).Warn("recovering stale payout")
	default:
		return nil, fmt.Errorf("%w: payout is %s", ErrInvalidRetryState, payout.Status)
	}

	ok, err := s.payoutRepo.UpdateStatusIf(ctx, payout.ID, domain.PayoutStatusProcessing, domain.PayoutStatusFailed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidRetryState
	}
	payout.Status = domain.PayoutStatusProcessing
	payout.FailureReason = ""

	entry.Info("retrying payout")
	return s.transfer(ctx, payout)
}

func (s *PayoutService) isStale(payout *domain.DriverPayout) bool {
	switch payout.Status {
	case domain.PayoutStatusPending, domain.PayoutStatusProcessing:
		return time.Since(payout.UpdatedAt) > s.cfg.StaleAfter
	}
	return false
}

// GetPayoutByRide returns the payout for a ride to its driver or an admin.
func (s *PayoutService) GetPayoutByRide(ctx context.Context, actor domain.Actor, rideID string) (*domain.DriverPayout, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	payout, err := s.payoutRepo.GetByRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if payout == nil {
		return nil, ErrPayoutNotFound
	}
	if !actor.IsAdmin() && actor.ID != payout.DriverID {
		return nil, ErrForbidden
	}
	return payout, nil
}

// ApplyTransferEvent records a transfer status reported asynchronously by
// the gateway. Completed payouts are left as they are.
func (s *PayoutService) ApplyTransferEvent(ctx context.Context, transfer *Transfer) (*domain.DriverPayout, error) {
	payout, err := s.payoutRepo.GetByTransferID(ctx, transfer.ID)
	if err != nil {
		return nil, err
	}
	if payout == nil {
		return nil, ErrPayoutNotFound
	}
	if payout.Status == domain.PayoutStatusCompleted {
		return payout, nil
	}

	switch transfer.Status {
	case TransferPaid:
		payout.Status = domain.PayoutStatusCompleted
		payout.FailureReason = ""
	case TransferFailed:
		payout.Status = domain.PayoutStatusFailed
		payout.FailureReason = transferFailureReason(transfer.FailureMessage)
	default:
		return payout, nil
	}
	payout.UpdatedAt = time.Now()
	if err := s.payoutRepo.Update(ctx, payout); err != nil {
		return nil, err
	}
	s.recordOutcome(ctx, payout)
	return payout, nil
}

// transfer sends the driver's share and records the outcome on the payout.
func (s *PayoutService) transfer(ctx context.Context, payout *domain.DriverPayout) (*domain.DriverPayout, error) {
	entry := s.log.WithFields(logrus.Fields{
		"payout_id": payout.ID,
		"ride_id":   payout.RideID,
		"driver_id": payout.DriverID,
		"amount":    payout.DriverAmount,
	})

	account, err := s.connectedAccount(ctx, payout.DriverID)
	if err != nil {
		entry.WithError(err).Warn("cannot resolve payout destination")
		payout.Status = domain.PayoutStatusFailed
		payout.FailureReason = "destination_unavailable"
		payout.UpdatedAt = time.Now()
		if uerr := s.payoutRepo.Update(ctx, payout); uerr != nil {
			return nil, fmt.Errorf("record payout outcome: %w", uerr)
		}
		s.recordOutcome(ctx, payout)
		return payout, nil
	}

	var result *Transfer
	attempts, err := s.retrier.Do(ctx, func(ctx context.Context) error {
		tctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
		defer cancel()
		t, err := s.gateway.CreateTransfer(tctx, TransferRequest{
			Amount:             payout.DriverAmount,
			Currency:           s.cfg.Currency,
			DestinationAccount: account,
			IdempotencyKey:     "payout:" + payout.ID,
			Metadata:           map[string]string{"ride_id": payout.RideID, "payout_id": payout.ID},
		})
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	payout.Attempts += attempts
	payout.UpdatedAt = time.Now()

	switch {
	case err != nil:
		entry.WithError(err).WithField("attempts", attempts).Warn("payout transfer failed")
		payout.Status = domain.PayoutStatusFailed
		payout.FailureReason = transferErrorReason(err)
	case result.Status == TransferFailed:
		payout.GatewayTransferID = result.ID
		payout.Status = domain.PayoutStatusFailed
		payout.FailureReason = transferFailureReason(result.FailureMessage)
	case result.Status == TransferPending:
		payout.GatewayTransferID = result.ID
	default:
		payout.GatewayTransferID = result.ID
		payout.Status = domain.PayoutStatusCompleted
	}

	if err := s.payoutRepo.Update(ctx, payout); err != nil {
		return nil, fmt.Errorf("record payout outcome: %w", err)
	}
	entry.WithFields(logrus.Fields{"status": payout.Status, "attempts": payout.Attempts}).Info("payout processed")
	s.recordOutcome(ctx, payout)
	return payout, nil
}

func (s *PayoutService) recordOutcome(ctx context.Context, payout *domain.DriverPayout) {
	metrics.PayoutsTotal.WithLabelValues(string(payout.Status)).Inc()
	switch payout.Status {
	case domain.PayoutStatusCompleted:
		s.notifier.NotifyPayoutCompleted(ctx, payout)
	case domain.PayoutStatusFailed:
		s.notifier.NotifyPayoutFailed(ctx, payout)
	}
}

func (s *PayoutService) connectedAccount(ctx context.Context, driverID string) (string, error) {
	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrDriverNotFound
		}
		return "", fmt.Errorf("load driver: %w", err)
	}
	return driver.ConnectedAccountID, nil
}

func (s *PayoutService) getPayout(ctx context.Context, id string) (*domain.DriverPayout, error) {
	payout, err := s.payoutRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return payout, nil
}

// transferErrorReason turns a transfer error into a reason safe to show a driver.
func transferErrorReason(err error) string {
	var gwErr *GatewayError
	switch {
	case errors.As(err, &gwErr):
		return gwErr.Code
	case errors.Is(err, context.DeadlineExceeded):
		return "gateway_timeout"
	}
	return "transfer_error"
}

func transferFailureReason(msg string) string {
	if msg == "" {
		return "transfer_failed"
	}
	return msg
}

// PayoutDispatcher runs payouts in the background. Payouts run on the
// dispatcher's context rather than the request's so that they outlive it.
type PayoutDispatcher struct {
	ctx     context.Context
	payouts *PayoutService
	log     logrus.FieldLogger
	wg      sync.WaitGroup
}

// NewPayoutDispatcher creates a new PayoutDispatcher.
func NewPayoutDispatcher(ctx context.Context, payouts *PayoutService, log logrus.FieldLogger) *PayoutDispatcher {
	return &PayoutDispatcher{ctx: ctx, payouts: payouts, log: log}
}

// Dispatch starts a payout for the ride. Errors are logged. A payout that
// has started runs to completion even when the dispatcher's context ends.
func (d *PayoutDispatcher) Dispatch(rideID, driverID string, total float64) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx := context.WithoutCancel(d.ctx)
		if _, err := d.payouts.ProcessDriverPayout(ctx, rideID, driverID, total); err != nil {
			d.log.WithError(err).WithField("ride_id", rideID).Error("payout failed")
		}
	}()
}

// Wait blocks until every dispatched payout has finished.
func (d *PayoutDispatcher) Wait() {
	d.wg.Wait()
}
