package domain

import "time"

// BidStatus represents the current status of a bid.
type BidStatus string

const (
	BidStatusPending    BidStatus = "pending"
	BidStatusSelected   BidStatus = "selected"
	BidStatusAccepted   BidStatus = "accepted"
	BidStatusRejected   BidStatus = "rejected"
	BidStatusExpired    BidStatus = "expired"
	BidStatusCountered  BidStatus = "countered"
	BidStatusMaxReached BidStatus = "maxReached"
	BidStatusWithdrawn  BidStatus = "withdrawn"
)

// Party identifies which side of a negotiation authored a bid.
type Party string

const (
	PartyRider  Party = "rider"
	PartyDriver Party = "driver"
)

// MaxChainLength is the maximum number of bids in one negotiation chain.
const MaxChainLength = 3

// Bid is a driver's offer, or a counter-offer by either party, on a ride.
type Bid struct {
	ID           string
	RideID       string
	DriverID     string
	Amount       float64
	Status       BidStatus
	ParentBidID  string
	CounterParty Party
	BidCount     int
	Message      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsActive reports whether the bid still counts toward the one-bid-per-driver rule.
func (b *Bid) IsActive() bool {
	return b.Status != BidStatusWithdrawn && b.Status != BidStatusRejected
}

// BlocksNewBid reports whether the bid keeps its driver from opening another
// negotiation on the same ride: a live opening bid, or any offer still open.
func (b *Bid) BlocksNewBid() bool {
	if b.ParentBidID == "" && b.IsActive() {
		return true
	}
	return b.IsActionable()
}

// IsActionable reports whether the bid can be accepted or countered.
func (b *Bid) IsActionable() bool {
	return b.Status == BidStatusPending || b.Status == BidStatusSelected
}

// AwaitingParty returns the side expected to respond to this bid.
// A driver's original bid or a driver counter waits on the rider; a rider
// counter waits on the driver.
func (b *Bid) AwaitingParty() Party {
	if b.CounterParty == PartyRider {
		return PartyDriver
	}
	return PartyRider
}
