package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"medride/internal/domain"
	"medride/internal/repository"
)

// ReceiptService builds receipts for paid rides.
type ReceiptService struct {
	rideRepo    repository.RideRepository
	paymentRepo repository.PaymentRepository
	payoutRepo  repository.PayoutRepository
}

// NewReceiptService creates a new ReceiptService.
func NewReceiptService(rideRepo repository.RideRepository, paymentRepo repository.PaymentRepository, payoutRepo repository.PayoutRepository) *ReceiptService {
	return &ReceiptService{
		rideRepo:    rideRepo,
		paymentRepo: paymentRepo,
		payoutRepo:  payoutRepo,
	}
}

// GetRideReceipt returns the receipt for a ride whose latest charge
// succeeded. The rider, the assigned driver and admins may read it.
func (s *ReceiptService) GetRideReceipt(ctx context.Context, actor domain.Actor, rideID string) (*domain.Receipt, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}

	ride, err := getRide(ctx, s.rideRepo, rideID)
	if err != nil {
		return nil, err
	}
	isDriver := ride.DriverID != "" && actor.ID == ride.DriverID
	if !actor.IsAdmin() && actor.ID != ride.RiderID && !isDriver {
		return nil, ErrForbidden
	}

	txn, err := s.paymentRepo.GetLatestByRide(ctx, ride.ID)
	if err != nil {
		return nil, fmt.Errorf("load payment: %w", err)
	}
	if txn == nil || txn.Status != domain.PaymentStatusSucceeded {
		return nil, ErrReceiptNotReady
	}

	receipt := &domain.Receipt{
		ID:             "rcpt_" + ride.ID,
		RideID:         ride.ID,
		RiderID:        ride.RiderID,
		DriverID:       ride.DriverID,
		RideStatus:     ride.Status,
		PickupAddress:  ride.PickupAddress,
		DropoffAddress: ride.DropoffAddress,
		ScheduledTime:  ride.ScheduledTime,
		VehicleType:    ride.VehicleType,
		Distance:       ride.EstimatedDistance,
		AmountCharged:  txn.Amount,
		Currency:       txn.Currency,
		PlatformFee:    txn.PlatformFee,
		ProcessingFee:  txn.ProcessingFee,
		ChargeID:       txn.GatewayChargeID,
		PaidAt:         txn.UpdatedAt,
		IssuedAt:       time.Now(),
	}

	if actor.IsAdmin() || isDriver {
		payout, err := s.payoutRepo.GetByRide(ctx, ride.ID)
		if err != nil {
			return nil, fmt.Errorf("load payout: %w", err)
		}
		if payout != nil {
			receipt.DriverEarnings = payout.DriverAmount
			receipt.PayoutStatus = payout.Status
		}
	}

	return receipt, nil
}

// FormatReceipt renders a receipt as plain text for email or print.
func FormatReceipt(r *domain.Receipt) string {
	currency := strings.ToUpper(r.Currency)
	if currency == "" {
		currency = "USD"
	}

	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	line("=====================================")
	line("        MEDICAL TRANSPORT RECEIPT")
	line("=====================================")
	line("Receipt:   %s", r.ID)
	line("Ride:      %s", r.RideID)
	line("Issued:    %s", r.IssuedAt.Format("Jan 02, 2006 3:04 PM"))
	line("")
	line("TRIP")
	line("-------------------------------------")
	line("Pickup:    %s", r.PickupAddress)
	line("Dropoff:   %s", r.DropoffAddress)
	line("Scheduled: %s", r.ScheduledTime.Format("Jan 02, 2006 3:04 PM"))
	line("Vehicle:   %s", r.VehicleType)
	line("Distance:  %.1f mi", r.Distance)
	line("")
	line("CHARGE")
	line("-------------------------------------")
	line("Total:        %s %.2f", currency, r.AmountCharged)
	line("Platform fee: %s %.2f", currency, r.PlatformFee)
	line("Charge:       %s", r.ChargeID)
	line("Paid:         %s", r.PaidAt.Format("Jan 02, 2006 3:04 PM"))
	if r.PayoutStatus != "" {
		line("")
		line("DRIVER PAYOUT")
		line("-------------------------------------")
		line("Earnings:     %s %.2f", currency, r.DriverEarnings)
		line("Status:       %s", r.PayoutStatus)
	}
	line("=====================================")
	return b.String()
}
