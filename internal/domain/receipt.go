package domain

import "time"

// Receipt summarises what was charged for a settled ride.
type Receipt struct {
	ID             string
	RideID         string
	RiderID        string
	DriverID       string
	RideStatus     RideStatus
	PickupAddress  string
	DropoffAddress string
	ScheduledTime  time.Time
	VehicleType    VehicleType
	Distance       float64 // miles
	AmountCharged  float64
	Currency       string
	PlatformFee    float64
	ProcessingFee  float64
	ChargeID       string
	PaidAt         time.Time
	// Payout fields are only filled for the driver and admins.
	DriverEarnings float64
	PayoutStatus   PayoutStatus
	IssuedAt       time.Time
}
