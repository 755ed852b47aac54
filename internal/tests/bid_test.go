package tests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medride/internal/domain"
	"medride/internal/service"
)

// ──────────────────────────────────────────────
// 1. PLACING BIDS
// ──────────────────────────────────────────────

func TestCreateBid_OneActiveBidPerDriver(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ctx := context.Background()
	ride := m.addRequestedRide("rider-1")

	first, err := m.bidService.CreateBid(ctx, service.CreateBidRequest{RideID: ride.ID, DriverID: "driver-a", Amount: 100})
	require.NoError(t, err)
	assert.Equal(t, domain.BidStatusPending, first.Status)
	assert.Equal(t, 1, first.BidCount)
	assert.Equal(t, domain.PartyDriver, first.CounterParty)

	_, err = m.bidService.CreateBid(ctx, service.CreateBidRequest{RideID: ride.ID, DriverID: "driver-a", Amount: 90})
	assert.ErrorIs(t, err, service.ErrDuplicateBid)

	_, err = m.bidService.CreateBid(ctx, service.CreateBidRequest{RideID: ride.ID, DriverID: "driver-b", Amount: 95})
	require.NoError(t, err)

	bids, err := m.bidService.ListBidsForRide(ctx, ride.ID)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	for _, b := range bids {
		assert.Equal(t, domain.BidStatusPending, b.Status)
	}
	assert.Len(t, m.sink.OfType(service.NotificationBidReceived), 2)
}

func TestCreateBid_ValidatesInput(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ctx := context.Background()
	ride := m.addRequestedRide("rider-1")

	tests := []struct {
		name string
		req  service.CreateBidRequest
		want error
	}{
		{"missing ride", service.CreateBidRequest{DriverID: "d", Amount: 10}, service.ErrInvalidRideID},
		{"missing driver", service.CreateBidRequest{RideID: ride.ID, Amount: 10}, service.ErrInvalidDriverID},
		{"zero amount", service.CreateBidRequest{RideID: ride.ID, DriverID: "d"}, service.ErrInvalidAmount},
		{"negative amount", service.CreateBidRequest{RideID: ride.ID, DriverID: "d", Amount: -5}, service.ErrInvalidAmount},
		{"unknown ride", service.CreateBidRequest{RideID: "nope", DriverID: "d", Amount: 10}, service.ErrRideNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.bidService.CreateBid(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateBid_RideNotRequested(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ride := m.addScheduledRide("rider-1", "driver-a", 100, 48*time.Hour)

	_, err := m.bidService.CreateBid(context.Background(), service.CreateBidRequest{RideID: ride.ID, DriverID: "driver-b", Amount: 80})
	assert.ErrorIs(t, err, service.ErrRideNotBiddable)
}

func TestCreateBid_AfterWithdrawDriverMayBidAgain(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ctx := context.Background()
	ride := m.addRequestedRide("rider-1")

	bid, err := m.bidService.CreateBid(ctx, service.CreateBidRequest{RideID: ride.ID, DriverID: "driver-a", Amount: 100})
	require.NoError(t, err)

	withdrawn, err := m.bidService.WithdrawBid(ctx, driver("driver-a"), bid.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BidStatusWithdrawn, withdrawn.Status)

	_, err = m.bidService.CreateBid(ctx, service.CreateBidRequest{RideID: ride.ID, DriverID: "driver-a", Amount: 92})
	assert.NoError(t, err)
}

func TestCreateBid_ConcurrentDuplicates(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ride := m.addRequestedRide("rider-1")

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.bidService.CreateBid(context.Background(), service.CreateBidRequest{RideID: ride.ID, DriverID: "driver-a", Amount: 100})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
}

// ──────────────────────────────────────────────
// 2. COUNTER-OFFERS
// ──────────────────────────────────────────────

func TestCounterOffer_ChainLimit(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ctx := context.Background()
	ride := m.addRequestedRide("rider-1")

	root, err := m.bidService.CreateBid(ctx, service.CreateBidRequest{RideID: ride.ID, DriverID: "driver-a", Amount: 100})
	require.NoError(t, err)

	riderCounter, err := m.bidService.CounterOffer(ctx, rider("rider-1"), service.CounterOfferRequest{
		BidID: root.ID, Party: domain.PartyRider, Amount: 90,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, riderCounter.BidCount)
	assert.Equal(t, root.ID, riderCounter.ParentBidID)
	assert.Equal(t, domain.BidStatusSelected, riderCounter.Status)
	assert.Equal(t, domain.BidStatusCountered, m.bids.GetBid(root.ID).Status)

	driverCounter, err := m.bidService.CounterOffer(ctx, driver("driver-a"), service.CounterOfferRequest{
		BidID: riderCounter.ID, Party: domain.PartyDriver, Amount: 95,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, driverCounter.BidCount)

	_, err = m.bidService.CounterOffer(ctx, rider("rider-1"), service.CounterOfferRequest{
		BidID: driverCounter.ID, Party: domain.PartyRider, Amount: 92,
	})
	assert.ErrorIs(t, err, service.ErrChainLimitReached)
	assert.Equal(t, domain.BidStatusMaxReached, m.bids.GetBid(root.ID).Status)

	history, err := m.bidService.GetBidHistory(ctx, driverCounter.ID)
	require.NoError(t, err)
	require.Len(t, history, domain.MaxChainLength)
	assert.Equal(t, []float64{100, 90, 95}, []float64{history[0].Amount, history[1].Amount, history[2].Amount})
}

func TestCounterOffer_WrongParty(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ctx := context.Background()
	ride := m.addRequestedRide("rider-1")

	root, err := m.bidService.CreateBid(ctx, service.CreateBidRequest{RideID: ride.ID, DriverID: "driver-a", Amount: 100})
	require.NoError(t, err)

	// The driver's opening bid waits on the rider.
	_, err = m.bidService.CounterOffer(ctx, driver("driver-a"), service.CounterOfferRequest{
		BidID: root.ID, Party: domain.PartyDriver, Amount: 110,
	})
	assert.ErrorIs(t, err, service.ErrNotAwaitingParty)

	_, err = m.bidService.CounterOffer(ctx, rider("someone-else"), service.CounterOfferRequest{
		BidID: root.ID, Party: domain.PartyRider, Amount: 80,
	})
	assert.ErrorIs(t, err, service.ErrForbidden)

	_, err = m.bidService.CounterOffer(ctx, rider("rider-1"), service.CounterOfferRequest{
		BidID: root.ID, Party: "broker", Amount: 80,
	})
	assert.ErrorIs(t, err, service.ErrInvalidCounterParty)

	assert.Equal(t, domain.BidStatusPending, m.bids.GetBid(root.ID).Status)
}

func TestCounterOffer_SupersededBidCannotBeCountered(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ctx := context.Background()
	ride := m.addRequestedRide("rider-1")

	root, err := m.bidService.CreateBid(ctx, service.CreateBidRequest{RideID: ride.ID, DriverID: "driver-a", Amount: 100})
	require.NoError(t, err)
	_, err = m.bidService.CounterOffer(ctx, rider("rider-1"), service.CounterOfferRequest{BidID: root.ID, Party: domain.PartyRider, Amount: 90})
	require.NoError(t, err)

	_, err = m.bidService.CounterOffer(ctx, rider("rider-1"), service.CounterOfferRequest{BidID: root.ID, Party: domain.PartyRider, Amount: 85})
	assert.ErrorIs(t, err, service.ErrBidNotPending)
}

// ──────────────────────────────────────────────
// 3. ACCEPTING AND REJECTING
// ──────────────────────────────────────────────

func TestAcceptBid_SettlesRide(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ctx := context.Background()
	ride := m.addRequestedRide("rider-1")

	bidA, err := m.bidService.CreateBid(ctx, service.CreateBidRequest{RideID: ride.ID, DriverID: "driver-a", Amount: 100})
	require.NoError(t, err)
	bidB, err := m.bidService.CreateBid(ctx, service.CreateBidRequest{RideID: ride.ID, DriverID: "driver-b", Amount: 95})
	require.NoError(t, err)

	result, err := m.bidService.AcceptBid(ctx, rider("rider-1"), bidA.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.BidStatusAccepted, result.Bid.Status)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, bidB.ID, result.Rejected[0].ID)

	stored := m.rides.GetRide(ride.ID)
	assert.Equal(t, domain.RideStatusScheduled, stored.Status)
	assert.Equal(t, "driver-a", stored.DriverID)
	assert.Equal(t, 100.0, stored.FinalPrice)
	assert.Equal(t, domain.BidStatusRejected, m.bids.GetBid(bidB.ID).Status)

	assert.Len(t, m.sink.OfType(service.NotificationBidAccepted), 1)
	assert.Len(t, m.sink.OfType(service.NotificationBidRejected), 1)
}

func TestAcceptBid_CounterOfferSetsFinalPrice(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ctx := context.Background()
	ride := m.addRequestedRide("rider-1")

	root, err := m.bidService.CreateBid(ctx, service.CreateBidRequest{RideID: ride.ID, DriverID: "driver-a", Amount: 100})
	require.NoError(t, err)
	counter, err := m.bidService.CounterOffer(ctx, rider("rider-1"), service.CounterOfferRequest{BidID: root.ID, Party: domain.PartyRider, Amount: 90})
	require.NoError(t, err)

	// A rider counter waits on the driver, so the rider cannot accept it.
	_, err = m.bidService.AcceptBid(ctx, rider("rider-1"), counter.ID)
	assert.ErrorIs(t, err, service.ErrForbidden)

	result, err := m.bidService.AcceptBid(ctx, driver("driver-a"), counter.ID)
	require.NoError(t, err)
	assert.Equal(t, 90.0, result.Ride.FinalPrice)
	assert.Equal(t, domain.BidStatusCountered, m.bids.GetBid(root.ID).Status)
}

func TestAcceptBid_ConcurrentAcceptsSettleOnce(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ctx := context.Background()
	ride := m.addRequestedRide("rider-1")

	var ids []string
	for _, d := range []string{"driver-a", "driver-b", "driver-c"} {
		b, err := m.bidService.CreateBid(ctx, service.CreateBidRequest{RideID: ride.ID, DriverID: d, Amount: 100})
		require.NoError(t, err)
		ids = append(ids, b.ID)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []string
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := m.bidService.AcceptBid(ctx, rider("rider-1"), id); err == nil {
				mu.Lock()
				accepted = append(accepted, id)
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	require.Len(t, accepted, 1)
	stored := m.rides.GetRide(ride.ID)
	assert.Equal(t, m.bids.GetBid(accepted[0]).DriverID, stored.DriverID)

	acceptedCount := 0
	for _, id := range ids {
		if m.bids.GetBid(id).Status == domain.BidStatusAccepted {
			acceptedCount++
		}
	}
	assert.Equal(t, 1, acceptedCount)
}

func TestAcceptBid_RejectedBidCannotBeAccepted(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ctx := context.Background()
	ride := m.addRequestedRide("rider-1")

	bid, err := m.bidService.CreateBid(ctx, service.CreateBidRequest{RideID: ride.ID, DriverID: "driver-a", Amount: 100})
	require.NoError(t, err)

	rejected, err := m.bidService.RejectBid(ctx, rider("rider-1"), bid.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BidStatusRejected, rejected.Status)

	_, err = m.bidService.AcceptBid(ctx, rider("rider-1"), bid.ID)
	assert.ErrorIs(t, err, service.ErrBidNotPending)
	assert.Equal(t, domain.RideStatusRequested, m.rides.GetRide(ride.ID).Status)
}

func TestWithdrawBid_OnlyOwnerWhilePending(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ctx := context.Background()
	ride := m.addRequestedRide("rider-1")

	bid, err := m.bidService.CreateBid(ctx, service.CreateBidRequest{RideID: ride.ID, DriverID: "driver-a", Amount: 100})
	require.NoError(t, err)

	_, err = m.bidService.WithdrawBid(ctx, driver("driver-b"), bid.ID)
	assert.ErrorIs(t, err, service.ErrForbidden)

	_, err = m.bidService.AcceptBid(ctx, rider("rider-1"), bid.ID)
	require.NoError(t, err)

	_, err = m.bidService.WithdrawBid(ctx, driver("driver-a"), bid.ID)
	assert.ErrorIs(t, err, service.ErrInvalidWithdraw)
}

func TestWithdrawBid_ClosesOpenCounterOffers(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ctx := context.Background()
	ride := m.addRequestedRide("rider-1")

	opening, err := m.bidService.CreateBid(ctx, service.CreateBidRequest{RideID: ride.ID, DriverID: "driver-a", Amount: 100})
	require.NoError(t, err)
	counter, err := m.bidService.CounterOffer(ctx, rider("rider-1"), service.CounterOfferRequest{BidID: opening.ID, Party: domain.PartyRider, Amount: 90})
	require.NoError(t, err)
	require.Equal(t, domain.BidStatusSelected, counter.Status)

	withdrawn, err := m.bidService.WithdrawBid(ctx, driver("driver-a"), opening.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BidStatusWithdrawn, withdrawn.Status)
	assert.Equal(t, domain.BidStatusWithdrawn, m.bids.GetBid(counter.ID).Status)

	_, err = m.bidService.AcceptBid(ctx, driver("driver-a"), counter.ID)
	assert.ErrorIs(t, err, service.ErrBidNotPending)
	assert.Equal(t, domain.RideStatusRequested, m.rides.GetRide(ride.ID).Status)

	again, err := m.bidService.CreateBid(ctx, service.CreateBidRequest{RideID: ride.ID, DriverID: "driver-a", Amount: 120})
	require.NoError(t, err)

	bids, err := m.bidService.ListBidsForRide(ctx, ride.ID)
	require.NoError(t, err)
	var open []string
	for _, b := range bids {
		if b.DriverID == "driver-a" && b.IsActionable() {
			open = append(open, b.ID)
		}
	}
	assert.Equal(t, []string{again.ID}, open)
}

func TestCreateBid_OpenCounterOfferBlocksNewBid(t *testing.T) {
	t.Parallel()
	m := newMarketplace(t)
	ctx := context.Background()
	ride := m.addRequestedRide("rider-1")

	// An opening bid closed out from under a counter that is still live.
	now := time.Now()
	require.NoError(t, m.bids.Create(ctx, &domain.Bid{
		ID: "bid-root", RideID: ride.ID, DriverID: "driver-a", Amount: 100,
		Status: domain.BidStatusWithdrawn, CounterParty: domain.PartyDriver, BidCount: 1, CreatedAt: now,
	}))
	require.NoError(t, m.bids.Create(ctx, &domain.Bid{
		ID: "bid-counter", RideID: ride.ID, DriverID: "driver-a", Amount: 90, ParentBidID: "bid-root",
		Status: domain.BidStatusSelected, CounterParty: domain.PartyRider, BidCount: 2, CreatedAt: now,
	}))

	_, err := m.bidService.CreateBid(ctx, service.CreateBidRequest{RideID: ride.ID, DriverID: "driver-a", Amount: 120})
	assert.ErrorIs(t, err, service.ErrDuplicateBid)

	_, err = m.bidService.CreateBid(ctx, service.CreateBidRequest{RideID: ride.ID, DriverID: "driver-b", Amount: 120})
	assert.NoError(t, err)
}
