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

// BidService is the bid ledger: it records offers and counter-offers on rides
// and settles a ride on the accepted one.
type BidService struct {
	tx       repository.TxManager
	rideRepo repository.RideRepository
	bidRepo  repository.BidRepository
	notifier *NotificationService
	log      logrus.FieldLogger
}

// NewBidService creates a new BidService.
func NewBidService(
	tx repository.TxManager,
	rideRepo repository.RideRepository,
	bidRepo repository.BidRepository,
	notifier *NotificationService,
	log logrus.FieldLogger,
) *BidService {
	return &BidService{
		tx:       tx,
		rideRepo: rideRepo,
		bidRepo:  bidRepo,
		notifier: notifier,
		log:      log,
	}
}

// CreateBidRequest contains the parameters for placing a bid.
type CreateBidRequest struct {
	RideID   string
	DriverID string
	Amount   float64
	Message  string
}

// CreateBid places a driver's opening bid on a requested ride.
func (s *BidService) CreateBid(ctx context.Context, req CreateBidRequest) (bid *domain.Bid, err error) {
	defer func() { metrics.RecordBid("create", err) }()

	if req.RideID == "" {
		return nil, ErrInvalidRideID
	}
	if req.DriverID == "" {
		return nil, ErrInvalidDriverID
	}
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var ride *domain.Ride
	err = s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		r, err := getRide(ctx, repos.Rides, req.RideID)
		if err != nil {
			return err
		}
		ride = r
		if ride.Status != domain.RideStatusRequested {
			return fmt.Errorf("%w: ride is %s", ErrRideNotBiddable, ride.Status)
		}

		existing, err := repos.Bids.GetActiveByDriver(ctx, req.RideID, req.DriverID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrDuplicateBid
		}

		now := time.Now()
		bid = &domain.Bid{
			ID:           uuid.New().String(),
			RideID:       req.RideID,
			DriverID:     req.DriverID,
			Amount:       roundCents(req.Amount),
			Status:       domain.BidStatusPending,
			CounterParty: domain.PartyDriver,
			BidCount:     1,
			Message:      req.Message,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := repos.Bids.Create(ctx, bid); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrDuplicateBid
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"ride_id":   bid.RideID,
		"bid_id":    bid.ID,
		"driver_id": bid.DriverID,
		"amount":    bid.Amount,
	}).Info("bid created")
	s.notifier.NotifyBidReceived(ctx, ride, bid)

	return bid, nil
}

// CounterOfferRequest contains the parameters for a counter-offer.
type CounterOfferRequest struct {
	BidID   string
	Party   domain.Party
	Amount  float64
	Message string
}

// CounterOffer answers an offer with a new amount. The new offer joins the
// original's chain as selected and waits on the other party. When the chain
// is already full its root is marked maxReached and ErrChainLimitReached is
// returned without inserting anything.
func (s *BidService) CounterOffer(ctx context.Context, actor domain.Actor, req CounterOfferRequest) (counter *domain.Bid, err error) {
	defer func() { metrics.RecordBid("counter", err) }()

	if req.BidID == "" {
		return nil, ErrInvalidBidID
	}
	if req.Party != domain.PartyRider && req.Party != domain.PartyDriver {
		return nil, ErrInvalidCounterParty
	}
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var (
		ride      *domain.Ride
		limitHit  bool
		chainRoot string
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		original, err := getBid(ctx, repos.Bids, req.BidID)
		if err != nil {
			return err
		}

		ride, err = getRide(ctx, repos.Rides, original.RideID)
		if err != nil {
			return err
		}
		if err := authorizeParty(actor, req.Party, ride, original); err != nil {
			return err
		}

		chainRoot, err = findRoot(ctx, repos.Bids, original)
		if err != nil {
			return err
		}

		// Serialises counters on the same chain so the length check below holds.
		root, err := repos.Bids.GetByIDForUpdate(ctx, chainRoot)
		if err != nil {
			return err
		}

		chain, err := repos.Bids.ListChain(ctx, root.ID)
		if err != nil {
			return err
		}
		if len(chain) >= domain.MaxChainLength {
			if root.Status != domain.BidStatusMaxReached {
				if _, err := repos.Bids.UpdateStatusIf(ctx, root.ID, domain.BidStatusMaxReached,
					domain.BidStatusPending, domain.BidStatusSelected, domain.BidStatusCountered); err != nil {
					return err
				}
			}
			limitHit = true
			return nil
		}

		current := original
		for _, b := range chain {
			if b.ID == original.ID {
				current = b
			}
		}
		if !current.IsActionable() {
			return fmt.Errorf("%w: bid is %s", ErrBidNotPending, current.Status)
		}
		if ride.Status != domain.RideStatusRequested && ride.Status != domain.RideStatusBidding {
			return fmt.Errorf("%w: ride is %s", ErrRideNotBiddable, ride.Status)
		}
		if current.AwaitingParty() != req.Party {
			return ErrNotAwaitingParty
		}

		ok, err := repos.Bids.UpdateStatusIf(ctx, current.ID, domain.BidStatusCountered,
			domain.BidStatusPending, domain.BidStatusSelected)
		if err != nil {
			return err
		}
		if !ok {
			return ErrBidNotPending
		}

		now := time.Now()
		counter = &domain.Bid{
			ID:           uuid.New().String(),
			RideID:       current.RideID,
			DriverID:     current.DriverID,
			Amount:       roundCents(req.Amount),
			Status:       domain.BidStatusSelected,
			ParentBidID:  current.ID,
			CounterParty: req.Party,
			BidCount:     len(chain) + 1,
			Message:      req.Message,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return repos.Bids.Create(ctx, counter)
	})
	if err != nil {
		return nil, err
	}
	if limitHit {
		s.log.WithField("root_bid_id", chainRoot).Info("negotiation reached chain limit")
		return nil, ErrChainLimitReached
	}

	s.log.WithFields(logrus.Fields{
		"ride_id":   counter.RideID,
		"bid_id":    counter.ID,
		"parent_id": counter.ParentBidID,
		"party":     counter.CounterParty,
		"amount":    counter.Amount,
	}).Info("counter-offer created")
	s.notifier.NotifyCounterOffer(ctx, ride, counter)

	return counter, nil
}

// AcceptResult is the outcome of an accepted bid.
type AcceptResult struct {
	Ride     *domain.Ride
	Bid      *domain.Bid
	Rejected []*domain.Bid
}

// AcceptBid accepts an offer. The bid, the ride and every competing offer
// are updated in one transaction, and the ride update is guarded on its
// status so that only one acceptance per ride can commit.
func (s *BidService) AcceptBid(ctx context.Context, actor domain.Actor, bidID string) (result *AcceptResult, err error) {
	defer func() { metrics.RecordBid("accept", err) }()

	if bidID == "" {
		return nil, ErrInvalidBidID
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		bid, err := repos.Bids.GetByIDForUpdate(ctx, bidID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrBidNotFound
			}
			return err
		}

		ride, err := getRide(ctx, repos.Rides, bid.RideID)
		if err != nil {
			return err
		}
		if err := authorizeParty(actor, bid.AwaitingParty(), ride, bid); err != nil {
			return err
		}
		if !bid.IsActionable() {
			return fmt.Errorf("%w: bid is %s", ErrBidNotPending, bid.Status)
		}
		if ride.Status != domain.RideStatusRequested && ride.Status != domain.RideStatusBidding {
			return fmt.Errorf("%w: ride is %s", ErrRideNotBiddable, ride.Status)
		}

		ok, err := repos.Bids.UpdateStatusIf(ctx, bid.ID, domain.BidStatusAccepted,
			domain.BidStatusPending, domain.BidStatusSelected)
		if err != nil {
			return err
		}
		if !ok {
			return ErrBidNotPending
		}
		bid.Status = domain.BidStatusAccepted

		ride.Status = domain.RideStatusScheduled
		ride.DriverID = bid.DriverID
		ride.FinalPrice = bid.Amount
		ride.UpdatedAt = time.Now()
		ok, err = repos.Rides.UpdateIfStatus(ctx, ride, domain.RideStatusRequested, domain.RideStatusBidding)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: ride was settled by another request", ErrRideNotBiddable)
		}

		others, err := repos.Bids.ListByRide(ctx, ride.ID)
		if err != nil {
			return err
		}
		if _, err := repos.Bids.UpdateStatusByRide(ctx, ride.ID, bid.ID, domain.BidStatusRejected, openBidStatuses...); err != nil {
			return err
		}

		result = &AcceptResult{Ride: ride, Bid: bid}
		for _, o := range others {
			if o.ID != bid.ID && isOpenBid(o.Status) {
				o.Status = domain.BidStatusRejected
				result.Rejected = append(result.Rejected, o)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"ride_id":     result.Ride.ID,
		"bid_id":      result.Bid.ID,
		"driver_id":   result.Bid.DriverID,
		"final_price": result.Ride.FinalPrice,
		"rejected":    len(result.Rejected),
	}).Info("bid accepted")

	s.notifier.NotifyBidAccepted(ctx, result.Ride, result.Bid)
	for _, r := range result.Rejected {
		s.notifier.NotifyBidRejected(ctx, r)
	}

	return result, nil
}

// WithdrawBid lets a driver take back a pending or countered offer. Any offer
// still open further down the same negotiation is withdrawn with it.
func (s *BidService) WithdrawBid(ctx context.Context, actor domain.Actor, bidID string) (bid *domain.Bid, err error) {
	defer func() { metrics.RecordBid("withdraw", err) }()

	if bidID == "" {
		return nil, ErrInvalidBidID
	}

	var closed int
	err = s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		found, err := getBid(ctx, repos.Bids, bidID)
		if err != nil {
			return err
		}
		bid = found
		if !actor.IsAdmin() && actor.ID != bid.DriverID {
			return ErrForbidden
		}

		rootID, err := findRoot(ctx, repos.Bids, bid)
		if err != nil {
			return err
		}
		// Same lock as CounterOffer, so no counter lands below a withdrawn offer.
		if _, err := repos.Bids.GetByIDForUpdate(ctx, rootID); err != nil {
			return err
		}

		ok, err := repos.Bids.UpdateStatusIf(ctx, bid.ID, domain.BidStatusWithdrawn,
			domain.BidStatusPending, domain.BidStatusCountered)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidWithdraw
		}
		bid.Status = domain.BidStatusWithdrawn

		chain, err := repos.Bids.ListChain(ctx, rootID)
		if err != nil {
			return err
		}
		for _, next := range chain {
			if next.BidCount <= bid.BidCount || !next.IsActionable() {
				continue
			}
			ok, err := repos.Bids.UpdateStatusIf(ctx, next.ID, domain.BidStatusWithdrawn,
				domain.BidStatusPending, domain.BidStatusSelected)
			if err != nil {
				return err
			}
			if ok {
				closed++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"bid_id":        bid.ID,
		"ride_id":       bid.RideID,
		"closed_offers": closed,
	}).Info("bid withdrawn")
	if ride, err := s.rideRepo.GetByID(ctx, bid.RideID); err == nil {
		s.notifier.NotifyBidWithdrawn(ctx, ride, bid)
	}

	return bid, nil
}

// RejectBid declines an offer. Only the party the offer waits on may decline it.
func (s *BidService) RejectBid(ctx context.Context, actor domain.Actor, bidID string) (bid *domain.Bid, err error) {
	defer func() { metrics.RecordBid("reject", err) }()

	if bidID == "" {
		return nil, ErrInvalidBidID
	}

	bid, err = getBid(ctx, s.bidRepo, bidID)
	if err != nil {
		return nil, err
	}
	ride, err := getRide(ctx, s.rideRepo, bid.RideID)
	if err != nil {
		return nil, err
	}
	if err := authorizeParty(actor, bid.AwaitingParty(), ride, bid); err != nil {
		return nil, err
	}

	ok, err := s.bidRepo.UpdateStatusIf(ctx, bid.ID, domain.BidStatusRejected,
		domain.BidStatusPending, domain.BidStatusSelected)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: bid is %s", ErrBidNotPending, bid.Status)
	}
	bid.Status = domain.BidStatusRejected

	s.notifier.NotifyBidRejected(ctx, bid)
	return bid, nil
}

// GetBidHistory returns the whole negotiation the bid belongs to, oldest offer first.
func (s *BidService) GetBidHistory(ctx context.Context, bidID string) ([]*domain.Bid, error) {
	if bidID == "" {
		return nil, ErrInvalidBidID
	}

	bid, err := getBid(ctx, s.bidRepo, bidID)
	if err != nil {
		return nil, err
	}
	rootID, err := findRoot(ctx, s.bidRepo, bid)
	if err != nil {
		return nil, err
	}
	return s.bidRepo.ListChain(ctx, rootID)
}

// ListBidsForRide returns every bid placed on a ride.
func (s *BidService) ListBidsForRide(ctx context.Context, rideID string) ([]*domain.Bid, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	if _, err := getRide(ctx, s.rideRepo, rideID); err != nil {
		return nil, err
	}
	return s.bidRepo.ListByRide(ctx, rideID)
}

// openBidStatuses are the statuses of offers still competing for a ride.
var openBidStatuses = []domain.BidStatus{
	domain.BidStatusPending,
	domain.BidStatusSelected,
	domain.BidStatusExpired,
}

func isOpenBid(status domain.BidStatus) bool {
	for _, s := range openBidStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// findRoot follows parent links to the first bid of the chain.
func findRoot(ctx context.Context, bids repository.BidRepository, bid *domain.Bid) (string, error) {
	current := bid
	for i := 0; current.ParentBidID != "" && i < domain.MaxChainLength; i++ {
		parent, err := bids.GetByID(ctx, current.ParentBidID)
		if err != nil {
			return "", fmt.Errorf("load parent bid %s: %w", current.ParentBidID, err)
		}
		current = parent
	}
	return current.ID, nil
}

// authorizeParty checks the actor may act for party on the bid.
func authorizeParty(actor domain.Actor, party domain.Party, ride *domain.Ride, bid *domain.Bid) error {
	if actor.IsAdmin() {
		return nil
	}
	switch party {
	case domain.PartyRider:
		if actor.ID == ride.RiderID {
			return nil
		}
	case domain.PartyDriver:
		if actor.ID == bid.DriverID {
			return nil
		}
	}
	return ErrForbidden
}

func getBid(ctx context.Context, repo repository.BidRepository, id string) (*domain.Bid, error) {
	bid, err := repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrBidNotFound
		}
		return nil, err
	}
	return bid, nil
}

func getRide(ctx context.Context, repo repository.RideRepository, id string) (*domain.Ride, error) {
	ride, err := repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRideNotFound
		}
		return nil, err
	}
	return ride, nil
}
