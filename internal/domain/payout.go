package domain

import "time"

// PayoutStatus represents the settlement state of a driver payout.
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
)

// DriverPayout tracks the fee split and transfer for one ride.
// A ride has at most one payout.
type DriverPayout struct {
	ID                string
	RideID            string
	DriverID          string
	TotalAmount       float64
	DriverAmount      float64
	PlatformFee       float64
	ProcessingFee     float64
	GatewayTransferID string
	Status            PayoutStatus
	FailureReason     string
	Attempts          int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
