package domain

import "time"

// RideStatus represents the current status of a ride.
type RideStatus string

const (
	RideStatusRequested      RideStatus = "requested"
	RideStatusBidding        RideStatus = "bidding"
	RideStatusScheduled      RideStatus = "scheduled"
	RideStatusPaymentPending RideStatus = "payment_pending"
	RideStatusPaid           RideStatus = "paid"
	RideStatusEnRoute        RideStatus = "en_route"
	RideStatusArrived        RideStatus = "arrived"
	RideStatusInProgress     RideStatus = "in_progress"
	RideStatusCompleted      RideStatus = "completed"
	RideStatusCancelled      RideStatus = "cancelled"
	RideStatusEditPending    RideStatus = "edit_pending"
)

// VehicleType is the class of vehicle a ride needs.
type VehicleType string

const (
	VehicleStandard   VehicleType = "standard"
	VehicleWheelchair VehicleType = "wheelchair"
	VehicleBariatric  VehicleType = "bariatric"
	VehicleStretcher  VehicleType = "stretcher"
)

// Accessibility holds the rider's accessibility requirements.
type Accessibility struct {
	Wheelchair      bool   `json:"wheelchair"`
	Stretcher       bool   `json:"stretcher"`
	Oxygen          bool   `json:"oxygen"`
	Companion       bool   `json:"companion"`
	DoorThroughDoor bool   `json:"door_through_door"`
	StairsCode      string `json:"stairs_code,omitempty"`
}

// RideEdit is a change a rider proposed to an already scheduled ride.
type RideEdit struct {
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
	PickupAddress string     `json:"pickup_address,omitempty"`
	DropoffAddr   string     `json:"dropoff_address,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

// Ride represents a transportation request.
type Ride struct {
	ID                string
	RiderID           string
	DriverID          string
	Status            RideStatus
	PickupLat         float64
	PickupLng         float64
	PickupAddress     string
	DropoffLat        float64
	DropoffLng        float64
	DropoffAddress    string
	ScheduledTime     time.Time
	VehicleType       VehicleType
	Accessibility     Accessibility
	EstimatedDistance float64 // miles
	RiderBid          float64
	FinalPrice        float64
	IsUrgent          bool
	ExpiresAt         time.Time
	PromoCode         string
	CancelReason      string
	CancelledAt       time.Time
	LateCancellation  bool
	EditPrevStatus    RideStatus
	PendingEdit       *RideEdit
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ChargeAmount is the amount the rider is charged: the agreed price if one
// exists, otherwise the rider's own proposal.
func (r *Ride) ChargeAmount() float64 {
	if r.FinalPrice > 0 {
		return r.FinalPrice
	}
	return r.RiderBid
}

// rideTransitions lists the statuses each status may move to.
var rideTransitions = map[RideStatus][]RideStatus{
	RideStatusRequested:      {RideStatusBidding, RideStatusScheduled, RideStatusCancelled},
	RideStatusBidding:        {RideStatusScheduled, RideStatusCancelled},
	RideStatusScheduled:      {RideStatusPaymentPending, RideStatusEditPending, RideStatusCancelled},
	RideStatusPaymentPending: {RideStatusPaid, RideStatusScheduled, RideStatusCancelled},
	RideStatusPaid:           {RideStatusEnRoute, RideStatusEditPending, RideStatusCancelled},
	RideStatusEnRoute:        {RideStatusArrived, RideStatusCancelled},
	RideStatusArrived:        {RideStatusInProgress, RideStatusCancelled},
	RideStatusInProgress:     {RideStatusCompleted},
	RideStatusEditPending:    {RideStatusScheduled, RideStatusPaid, RideStatusCancelled},
}

// CanTransition reports whether a ride may move from one status to another.
func CanTransition(from, to RideStatus) bool {
	for _, next := range rideTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsCancellable reports whether a ride in the given status can still be
// cancelled. Once the rider is on board it can only be completed.
func IsCancellable(status RideStatus) bool {
	return CanTransition(status, RideStatusCancelled)
}

// HasAssignedDriver reports whether the status implies a driver is attached.
func HasAssignedDriver(status RideStatus) bool {
	switch status {
	case RideStatusScheduled, RideStatusPaymentPending, RideStatusPaid,
		RideStatusEnRoute, RideStatusArrived, RideStatusInProgress, RideStatusCompleted:
		return true
	}
	return false
}

// HasConsistentDriver reports whether DriverID agrees with the status. A ride
// waiting on an edit keeps the driver of the status it came from.
func (r *Ride) HasConsistentDriver() bool {
	if r.Status == RideStatusEditPending {
		return r.DriverID != ""
	}
	return HasAssignedDriver(r.Status) == (r.DriverID != "")
}
