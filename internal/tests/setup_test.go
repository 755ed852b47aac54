package tests

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"medride/internal/domain"
	"medride/internal/retry"
	"medride/internal/service"
)

const testFeePercent = 5.0

// marketplace is a fully wired set of services over in-memory repositories.
type marketplace struct {
	rides    *MockRideRepository
	bids     *MockBidRepository
	payments *MockPaymentRepository
	methods  *MockPaymentMethodRepository
	payouts  *MockPayoutRepository
	users    *MockUserRepository
	drivers  *MockDriverRepository
	tx       *MockTxManager
	gateway  *FlakyGateway
	sink     *RecordingSink
	locks    *MockLockStore

	rideService    *service.RideService
	bidService     *service.BidService
	paymentService *service.PaymentService
	payoutService  *service.PayoutService
	dispatcher     *service.PayoutDispatcher
}

func newMarketplace(t *testing.T) *marketplace {
	t.Helper()
	log := NewTestLogger()

	m := &marketplace{
		rides:    NewMockRideRepository(),
		bids:     NewMockBidRepository(),
		payments: NewMockPaymentRepository(),
		methods:  NewMockPaymentMethodRepository(),
		payouts:  NewMockPayoutRepository(),
		users:    NewMockUserRepository(),
		drivers:  NewMockDriverRepository(),
		gateway:  NewFlakyGateway(service.NewSimulatedGateway()),
		sink:     &RecordingSink{},
		locks:    NewMockLockStore(),
	}
	m.tx = NewMockTxManager(m.rides, m.bids, m.payments, m.payouts)

	notifier := service.NewNotificationService(m.sink, log)
	fees := FixedFee(testFeePercent)
	fares := service.NewFareCalculator(fees)

	retrier := retry.New(service.TransferRetryConfig(3, time.Millisecond, 5*time.Millisecond), log)
	m.payoutService = service.NewPayoutService(m.payouts, m.drivers, m.gateway, fees, retrier, notifier, service.PayoutConfig{}, log)
	m.dispatcher = service.NewPayoutDispatcher(context.Background(), m.payoutService, log)

	m.paymentService = service.NewPaymentService(m.tx, m.rides, m.payments, m.methods, m.users, m.gateway, fees, m.dispatcher, notifier, service.PaymentConfig{
		GatewayTimeout: time.Second,
	}, log)
	m.bidService = service.NewBidService(m.tx, m.rides, m.bids, notifier, log)
	m.rideService = service.NewRideService(m.tx, m.rides, fares, nil, nil, notifier, service.RideConfig{
		RideTTL:   72 * time.Hour,
		UrgentTTL: 2 * time.Hour,
	}, log)
	return m
}

func rider(id string) domain.Actor  { return domain.Actor{ID: id, Role: domain.RoleRider} }
func driver(id string) domain.Actor { return domain.Actor{ID: id, Role: domain.RoleDriver} }

var admin = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}

// addRequestedRide stores a ride open for bids.
func (m *marketplace) addRequestedRide(riderID string) *domain.Ride {
	now := time.Now()
	ride := &domain.Ride{
		ID:                uuid.New().String(),
		RiderID:           riderID,
		Status:            domain.RideStatusRequested,
		PickupLat:         40.7128,
		PickupLng:         -74.0060,
		PickupAddress:     "1 Main St",
		DropoffLat:        40.7306,
		DropoffLng:        -73.9352,
		DropoffAddress:    "General Hospital",
		ScheduledTime:     now.Add(48 * time.Hour),
		VehicleType:       domain.VehicleWheelchair,
		EstimatedDistance: 10,
		RiderBid:          90,
		ExpiresAt:         now.Add(48 * time.Hour),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	m.rides.AddRide(ride)
	return ride
}

// addScheduledRide stores a ride that already has a driver and a price.
func (m *marketplace) addScheduledRide(riderID, driverID string, price float64, pickupIn time.Duration) *domain.Ride {
	ride := m.addRequestedRide(riderID)
	ride.Status = domain.RideStatusScheduled
	ride.DriverID = driverID
	ride.FinalPrice = price
	ride.ScheduledTime = time.Now().Add(pickupIn)
	m.rides.AddRide(ride)
	return ride
}

// addDriver registers a driver with a payout account.
func (m *marketplace) addDriver(t *testing.T, id, account string) {
	t.Helper()
	require.NoError(t, m.drivers.Create(context.Background(), &domain.Driver{
		ID:                 id,
		Name:               "Driver " + id,
		Phone:              "+1555" + id,
		Status:             domain.DriverStatusOnline,
		VehicleType:        domain.VehicleWheelchair,
		ConnectedAccountID: account,
	}))
}

// addCard saves a default payment method for the rider.
func (m *marketplace) addCard(t *testing.T, userID, ref string) *domain.PaymentMethod {
	t.Helper()
	pm := &domain.PaymentMethod{
		ID:               uuid.New().String(),
		UserID:           userID,
		GatewayMethodRef: ref,
		Brand:            "visa",
		Last4:            "4242",
		IsDefault:        true,
		CreatedAt:        time.Now(),
	}
	require.NoError(t, m.methods.Create(context.Background(), pm))
	return pm
}

// waitForPayout waits for background payouts to finish.
func (m *marketplace) waitForPayout() {
	m.dispatcher.Wait()
}
