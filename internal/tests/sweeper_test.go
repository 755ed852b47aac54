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

// addExpiredRide stores a requested ride whose bidding window has closed.
func (m *marketplace) addExpiredRide(riderID string) *domain.Ride {
	ride := m.addRequestedRide(riderID)
	ride.ExpiresAt = time.Now().Add(-time.Minute)
	m.rides.AddRide(ride)
	return ride
}

func TestSweep_ExpiresOverdueRequests(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ctx := context.Background()

	expired := m.addExpiredRide("rider-1")
	open := m.addRequestedRide("rider-2")
	bid, err := m.bidService.CreateBid(ctx, service.CreateBidRequest{RideID: expired.ID, DriverID: "driver-a", Amount: 100})
	require.NoError(t, err)

	scheduled := m.addScheduledRide("rider-3", "driver-b", 100, time.Hour)
	scheduled.ExpiresAt = time.Now().Add(-time.Hour)
	m.rides.AddRide(scheduled)

	sweeper := service.NewExpirySweeper(m.rideService, m.locks, time.Minute, 10, NewTestLogger())
	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored := m.rides.GetRide(expired.ID)
	assert.Equal(t, domain.RideStatusCancelled, stored.Status)
	assert.Equal(t, "no bids received", stored.CancelReason)
	assert.Equal(t, domain.BidStatusExpired, m.bids.GetBid(bid.ID).Status)
	assert.Equal(t, domain.RideStatusRequested, m.rides.GetRide(open.ID).Status)
	assert.Equal(t, domain.RideStatusScheduled, m.rides.GetRide(scheduled.ID).Status)
	assert.Len(t, m.sink.OfType(service.NotificationRideExpired), 1)

	n, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweep_Batches(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	for i := 0; i < 5; i++ {
		m.addExpiredRide("rider-1")
	}

	sweeper := service.NewExpirySweeper(m.rideService, nil, time.Minute, 2, NewTestLogger())
	n, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestSweep_SkipsWhileLockHeldElsewhere(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ride := m.addExpiredRide("rider-1")
	m.locks.Hold("ride-expiry-sweep")

	sweeper := service.NewExpirySweeper(m.rideService, m.locks, time.Minute, 10, NewTestLogger())
	n, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, domain.RideStatusRequested, m.rides.GetRide(ride.ID).Status)
}

func TestSweep_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ride := m.addExpiredRide("rider-1")

	ctx, cancel := context.WithCancel(context.Background())
	sweeper := service.NewExpirySweeper(m.rideService, m.locks, time.Hour, 10, NewTestLogger())

	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	require.Eventually(t, func() bool {
		return m.rides.GetRide(ride.ID).Status == domain.RideStatusCancelled
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.Equal(t, 1, m.locks.Acquisitions())
}
