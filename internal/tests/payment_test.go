package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medride/internal/domain"
	"medride/internal/service"
)

// ──────────────────────────────────────────────
// 1. SUCCESSFUL CHARGES
// ──────────────────────────────────────────────

func TestProcessRidePayment_AcceptThenCharge(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ctx := context.Background()
	m.addDriver(t, "driver-a", "acct_driver_a")
	m.addCard(t, "rider-1", "pm_card_visa")
	ride := m.addRequestedRide("rider-1")

	bid, err := m.bidService.CreateBid(ctx, service.CreateBidRequest{RideID: ride.ID, DriverID: "driver-a", Amount: 100})
	require.NoError(t, err)
	_, err = m.bidService.AcceptBid(ctx, rider("rider-1"), bid.ID)
	require.NoError(t, err)

	result, err := m.paymentService.ProcessRidePayment(ctx, rider("rider-1"), ride.ID)
	require.NoError(t, err)
	m.waitForPayout()

	assert.Equal(t, domain.RideStatusPaid, result.Ride.Status)
	assert.Equal(t, domain.PaymentStatusSucceeded, result.Transaction.Status)
	assert.Equal(t, 100.0, result.Transaction.Amount)
	assert.Equal(t, 5.0, result.Transaction.PlatformFee)
	assert.Equal(t, 3.2, result.Transaction.ProcessingFee)
	assert.Equal(t, 96.8, result.Transaction.NetAmount)
	assert.Equal(t, "ride:"+ride.ID+":attempt:1", result.Transaction.IdempotencyKey)
	assert.NotEmpty(t, result.Transaction.GatewayChargeID)
	assert.False(t, result.RequiresAction())

	assert.Equal(t, domain.RideStatusPaid, m.rides.GetRide(ride.ID).Status)
	assert.Len(t, m.sink.OfType(service.NotificationPaymentSuccess), 1)

	payout, err := m.payoutService.GetPayoutByRide(ctx, driver("driver-a"), ride.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, payout.Status)
	assert.Equal(t, 95.0, payout.DriverAmount)
	assert.Equal(t, 5.0, payout.PlatformFee)
}

func TestProcessRidePayment_PaidRideIsNotChargedAgain(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ctx := context.Background()
	m.addDriver(t, "driver-a", "acct_driver_a")
	m.addCard(t, "rider-1", "pm_card_visa")
	ride := m.addScheduledRide("rider-1", "driver-a", 80, 48*time.Hour)

	first, err := m.paymentService.ProcessRidePayment(ctx, rider("rider-1"), ride.ID)
	require.NoError(t, err)
	second, err := m.paymentService.ProcessRidePayment(ctx, driver("driver-a"), ride.ID)
	require.NoError(t, err)
	m.waitForPayout()

	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, int32(1), m.gateway.ChargeCalls)
	assert.Len(t, m.payments.ForRide(ride.ID), 1)
	assert.Equal(t, 1, m.payouts.Count())
}

func TestProcessRidePayment_RiderBidUsedWithoutFinalPrice(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	m.addCard(t, "rider-1", "pm_card_visa")
	ride := m.addScheduledRide("rider-1", "driver-a", 0, 48*time.Hour)

	result, err := m.paymentService.ProcessRidePayment(context.Background(), admin, ride.ID)
	require.NoError(t, err)
	m.waitForPayout()

	assert.Equal(t, ride.RiderBid, result.Transaction.Amount)
}

// ──────────────────────────────────────────────
// 2. FAILED AND BLOCKED CHARGES
// ──────────────────────────────────────────────

func TestProcessRidePayment_NoPaymentMethod(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ride := m.addScheduledRide("rider-1", "driver-a", 100, 48*time.Hour)

	_, err := m.paymentService.ProcessRidePayment(context.Background(), rider("rider-1"), ride.ID)
	assert.ErrorIs(t, err, service.ErrNoPaymentMethod)

	assert.Equal(t, domain.RideStatusScheduled, m.rides.GetRide(ride.ID).Status)
	assert.Empty(t, m.payments.ForRide(ride.ID))
	assert.Equal(t, int32(0), m.gateway.ChargeCalls)
}

func TestProcessRidePayment_DeclinedThenRetried(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ctx := context.Background()
	m.addDriver(t, "driver-a", "acct_driver_a")
	m.addCard(t, "rider-1", service.SimulatedDeclinedMethod)
	ride := m.addScheduledRide("rider-1", "driver-a", 100, 48*time.Hour)

	result, err := m.paymentService.ProcessRidePayment(ctx, rider("rider-1"), ride.ID)
	assert.ErrorIs(t, err, service.ErrCardDeclined)
	require.NotNil(t, result)
	assert.Equal(t, domain.PaymentStatusFailed, result.Transaction.Status)
	assert.Equal(t, "card_declined", result.Transaction.FailureCode)
	assert.Equal(t, domain.RideStatusScheduled, m.rides.GetRide(ride.ID).Status)
	assert.Len(t, m.sink.OfType(service.NotificationPaymentFailed), 1)

	good := m.addCard(t, "rider-1", "pm_card_visa")
	require.NoError(t, m.methods.SetDefault(ctx, "rider-1", good.ID))

	retried, err := m.paymentService.RetryPayment(ctx, rider("rider-1"), ride.ID)
	require.NoError(t, err)
	m.waitForPayout()

	assert.Equal(t, domain.PaymentStatusSucceeded, retried.Transaction.Status)
	assert.Equal(t, "ride:"+ride.ID+":attempt:2", retried.Transaction.IdempotencyKey)
	assert.Equal(t, domain.RideStatusPaid, m.rides.GetRide(ride.ID).Status)
	assert.Len(t, m.payments.ForRide(ride.ID), 2)
}

func TestProcessRidePayment_Forbidden(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	m.addCard(t, "rider-1", "pm_card_visa")
	ride := m.addScheduledRide("rider-1", "driver-a", 100, 48*time.Hour)

	_, err := m.paymentService.ProcessRidePayment(context.Background(), rider("rider-2"), ride.ID)
	assert.ErrorIs(t, err, service.ErrForbidden)
}

func TestProcessRidePayment_WrongRideStatus(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	m.addCard(t, "rider-1", "pm_card_visa")
	ride := m.addRequestedRide("rider-1")

	_, err := m.paymentService.ProcessRidePayment(context.Background(), rider("rider-1"), ride.ID)
	assert.ErrorIs(t, err, service.ErrInvalidTransition)

	_, err = m.paymentService.ProcessRidePayment(context.Background(), rider("rider-1"), "missing")
	assert.ErrorIs(t, err, service.ErrRideNotFound)
}

func TestProcessRidePayment_PermanentGatewayError(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	m.addCard(t, "rider-1", "pm_card_visa")
	ride := m.addScheduledRide("rider-1", "driver-a", 100, 48*time.Hour)
	m.gateway.FailCharges(&service.GatewayError{Code: "invalid_request", Message: "bad request"})

	_, err := m.paymentService.ProcessRidePayment(context.Background(), rider("rider-1"), ride.ID)
	assert.ErrorIs(t, err, service.ErrGatewayUnavailable)

	txns := m.payments.ForRide(ride.ID)
	require.Len(t, txns, 1)
	assert.Equal(t, domain.PaymentStatusFailed, txns[0].Status)
	assert.Equal(t, "invalid_request", txns[0].FailureCode)
	assert.Equal(t, domain.RideStatusScheduled, m.rides.GetRide(ride.ID).Status)
}

func TestProcessRidePayment_GatewayCardErrorIsDecline(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	m.addCard(t, "rider-1", "pm_card_visa")
	ride := m.addScheduledRide("rider-1", "driver-a", 100, 48*time.Hour)
	m.gateway.FailCharges(&service.GatewayError{Code: "insufficient_funds", Message: "Your card has insufficient funds."})

	_, err := m.paymentService.ProcessRidePayment(context.Background(), rider("rider-1"), ride.ID)
	assert.ErrorIs(t, err, service.ErrCardDeclined)
	assert.NotErrorIs(t, err, service.ErrGatewayUnavailable)

	txns := m.payments.ForRide(ride.ID)
	require.Len(t, txns, 1)
	assert.Equal(t, domain.PaymentStatusFailed, txns[0].Status)
	assert.Equal(t, "insufficient_funds", txns[0].FailureCode)
	assert.Equal(t, "card was declined", txns[0].FailureMessage)
	assert.Equal(t, domain.RideStatusScheduled, m.rides.GetRide(ride.ID).Status)
	assert.Len(t, m.sink.OfType(service.NotificationPaymentFailed), 1)
}

// ──────────────────────────────────────────────
// 3. CUSTOMER ACTION AND UNKNOWN OUTCOMES
// ──────────────────────────────────────────────

func TestProcessRidePayment_RequiresActionThenConfirm(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ctx := context.Background()
	m.addDriver(t, "driver-a", "acct_driver_a")
	m.addCard(t, "rider-1", service.SimulatedRequiresActionMethod)
	ride := m.addScheduledRide("rider-1", "driver-a", 120, 48*time.Hour)

	result, err := m.paymentService.ProcessRidePayment(ctx, rider("rider-1"), ride.ID)
	require.NoError(t, err)
	assert.True(t, result.RequiresAction())
	assert.NotEmpty(t, result.ClientSecret)
	assert.Equal(t, domain.RideStatusPaymentPending, m.rides.GetRide(ride.ID).Status)
	assert.Len(t, m.sink.OfType(service.NotificationPaymentActionRequired), 1)

	// Asking again returns the same pending charge.
	again, err := m.paymentService.ProcessRidePayment(ctx, rider("rider-1"), ride.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Transaction.ID, again.Transaction.ID)
	assert.Equal(t, int32(1), m.gateway.ChargeCalls)

	_, err = m.paymentService.ConfirmPayment(ctx, rider("rider-2"), result.Transaction.GatewayChargeID)
	assert.ErrorIs(t, err, service.ErrForbidden)

	confirmed, err := m.paymentService.ConfirmPayment(ctx, rider("rider-1"), result.Transaction.GatewayChargeID)
	require.NoError(t, err)
	m.waitForPayout()

	assert.Equal(t, domain.PaymentStatusSucceeded, confirmed.Transaction.Status)
	assert.Empty(t, confirmed.Transaction.ClientSecret)
	assert.Equal(t, domain.RideStatusPaid, m.rides.GetRide(ride.ID).Status)
	assert.Equal(t, 1, m.payouts.Count())

	_, err = m.paymentService.ConfirmPayment(ctx, rider("rider-1"), "ch_unknown")
	assert.ErrorIs(t, err, service.ErrPaymentNotFound)
}

func TestProcessRidePayment_TimeoutReconciledWithoutDoubleCharge(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ctx := context.Background()
	m.addDriver(t, "driver-a", "acct_driver_a")
	m.addCard(t, "rider-1", "pm_card_visa")
	ride := m.addScheduledRide("rider-1", "driver-a", 100, 48*time.Hour)

	// The gateway charges the card but the reply never arrives.
	m.gateway.LoseChargeReply = true
	m.gateway.FailCharges(context.DeadlineExceeded)

	_, err := m.paymentService.ProcessRidePayment(ctx, rider("rider-1"), ride.ID)
	assert.ErrorIs(t, err, service.ErrPaymentOutcomeUnknown)

	txns := m.payments.ForRide(ride.ID)
	require.Len(t, txns, 1)
	assert.Equal(t, domain.PaymentStatusUnknown, txns[0].Status)
	assert.Equal(t, domain.RideStatusPaymentPending, m.rides.GetRide(ride.ID).Status)

	result, err := m.paymentService.RetryPayment(ctx, rider("rider-1"), ride.ID)
	require.NoError(t, err)
	m.waitForPayout()

	assert.Equal(t, txns[0].ID, result.Transaction.ID)
	assert.Equal(t, domain.PaymentStatusSucceeded, result.Transaction.Status)
	assert.Equal(t, domain.RideStatusPaid, m.rides.GetRide(ride.ID).Status)
	assert.Len(t, m.payments.ForRide(ride.ID), 1)

	require.Len(t, m.gateway.ChargeKeys, 2)
	assert.Equal(t, m.gateway.ChargeKeys[0], m.gateway.ChargeKeys[1])
}

func TestProcessRidePayment_StillUnresolved(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ctx := context.Background()
	m.addCard(t, "rider-1", "pm_card_visa")
	ride := m.addScheduledRide("rider-1", "driver-a", 100, 48*time.Hour)

	m.gateway.FailCharges(context.DeadlineExceeded, &service.GatewayError{Code: "rate_limited", Temporary: true})

	_, err := m.paymentService.ProcessRidePayment(ctx, rider("rider-1"), ride.ID)
	assert.ErrorIs(t, err, service.ErrPaymentOutcomeUnknown)
	_, err = m.paymentService.RetryPayment(ctx, rider("rider-1"), ride.ID)
	assert.ErrorIs(t, err, service.ErrPaymentOutcomeUnknown)

	txns := m.payments.ForRide(ride.ID)
	require.Len(t, txns, 1)
	assert.Equal(t, domain.PaymentStatusUnknown, txns[0].Status)
}
