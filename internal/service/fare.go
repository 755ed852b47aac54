package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"medride/internal/domain"
)

// Fare constants in dollars.
const (
	BaseFare     = 45.00
	PerMileRate  = 2.50
	TaxRate      = 0.08
	MinDistance  = 0.1
	MaxDistance  = 1000.0
	BidRangeLow  = 0.70
	BidRangeHigh = 1.30

	roundTripDiscount = 0.10
	recurringDiscount = 0.15
)

var vehiclePremiums = map[domain.VehicleType]float64{
	domain.VehicleStandard:   0,
	domain.VehicleWheelchair: 25,
	domain.VehicleBariatric:  50,
	domain.VehicleStretcher:  75,
}

// Stairs codes accepted on a ride.
const (
	StairsNone       = "none"
	StairsOneFlight  = "1_flight"
	StairsTwoFlights = "2_flights"
	StairsThreePlus  = "3_plus_flights"
)

var stairsFees = map[string]float64{
	"":               0,
	StairsNone:       0,
	StairsOneFlight:  15,
	StairsTwoFlights: 30,
	StairsThreePlus:  50,
}

// Add-on service fees.
const (
	OxygenFee          = 15.00
	CompanionFee       = 10.00
	DoorThroughDoorFee = 20.00
	ExtraWaitFee       = 25.00
)

// TimeOfDay buckets a pickup time.
type TimeOfDay string

const (
	TimeEarlyMorning TimeOfDay = "early_morning"
	TimeDaytime      TimeOfDay = "daytime"
	TimeEvening      TimeOfDay = "evening"
	TimeOvernight    TimeOfDay = "overnight"
)

var timeOfDayMultipliers = map[TimeOfDay]float64{
	TimeEarlyMorning: 1.15,
	TimeDaytime:      1.00,
	TimeEvening:      1.10,
	TimeOvernight:    1.25,
}

// DayType buckets a pickup date.
type DayType string

const (
	DayWeekday DayType = "weekday"
	DayWeekend DayType = "weekend"
	DayHoliday DayType = "holiday"
)

var dayMultipliers = map[DayType]float64{
	DayWeekday: 1.00,
	DayWeekend: 1.15,
	DayHoliday: 1.25,
}

// Urgency is how soon the rider needs the ride.
type Urgency string

const (
	UrgencyStandard  Urgency = "standard"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyEmergency Urgency = "emergency"
)

var urgencyMultipliers = map[Urgency]float64{
	UrgencyStandard:  1.00,
	UrgencyUrgent:    1.25,
	UrgencyEmergency: 1.50,
}

// FareParams are the inputs to a fare calculation. Empty enum fields take
// their neutral value (standard vehicle, daytime, weekday, standard urgency).
type FareParams struct {
	Distance        float64            `json:"estimated_distance"`
	VehicleType     domain.VehicleType `json:"vehicle_type"`
	Stairs          string             `json:"stairs"`
	Oxygen          bool               `json:"oxygen"`
	Companion       bool               `json:"companion"`
	DoorThroughDoor bool               `json:"door_through_door"`
	ExtraWait       bool               `json:"extra_wait"`
	TimeOfDay       TimeOfDay          `json:"time_of_day"`
	DayType         DayType            `json:"day_type"`
	Urgency         Urgency            `json:"urgency"`
	RoundTrip       bool               `json:"round_trip"`
	Recurring       bool               `json:"recurring"`
}

// FareBreakdown is the itemised result of a fare calculation.
type FareBreakdown struct {
	BaseFare           float64 `json:"base_fare"`
	DistanceFare       float64 `json:"distance_fare"`
	VehiclePremium     float64 `json:"vehicle_premium"`
	StairsFee          float64 `json:"stairs_fee"`
	AddOnFees          float64 `json:"add_on_fees"`
	Subtotal           float64 `json:"subtotal"`
	PremiumMultiplier  float64 `json:"premium_multiplier"`
	PremiumAmount      float64 `json:"premium_amount"`
	Discount           float64 `json:"discount"`
	AdjustedFare       float64 `json:"adjusted_fare"`
	PlatformFeePercent float64 `json:"platform_fee_percent"`
	PlatformFee        float64 `json:"platform_fee"`
	Tax                float64 `json:"tax"`
	Total              float64 `json:"total"`
	SuggestedBidMin    float64 `json:"suggested_bid_min"`
	SuggestedBidMax    float64 `json:"suggested_bid_max"`
}

// PlatformFeeSource supplies the current platform fee percentage.
type PlatformFeeSource interface {
	PlatformFeePercent(ctx context.Context) (float64, error)
}

// FareCalculator prices rides.
type FareCalculator struct {
	fees PlatformFeeSource
}

// NewFareCalculator creates a new FareCalculator.
func NewFareCalculator(fees PlatformFeeSource) *FareCalculator {
	return &FareCalculator{fees: fees}
}

// Calculate prices a ride. The result depends only on params and the
// platform fee setting.
func (c *FareCalculator) Calculate(ctx context.Context, params FareParams) (*FareBreakdown, error) {
	feePct, err := c.fees.PlatformFeePercent(ctx)
	if err != nil {
		return nil, err
	}
	return ComputeFare(params, feePct)
}

// ComputeFare applies the pricing rules with an explicit platform fee percentage.
func ComputeFare(params FareParams, platformFeePercent float64) (*FareBreakdown, error) {
	if params.Distance <= MinDistance || params.Distance > MaxDistance || math.IsNaN(params.Distance) {
		return nil, ErrInvalidDistance
	}

	vehicle := params.VehicleType
	if vehicle == "" {
		vehicle = domain.VehicleStandard
	}
	premium, ok := vehiclePremiums[vehicle]
	if !ok {
		return nil, ErrInvalidVehicleType
	}

	stairs, ok := stairsFees[params.Stairs]
	if !ok {
		return nil, ErrInvalidStairs
	}

	var addOns float64
	if params.Oxygen {
		addOns += OxygenFee
	}
	if params.Companion {
		addOns += CompanionFee
	}
	if params.DoorThroughDoor {
		addOns += DoorThroughDoorFee
	}
	if params.ExtraWait {
		addOns += ExtraWaitFee
	}

	b := &FareBreakdown{
		BaseFare:           BaseFare,
		DistanceFare:       roundCents(params.Distance * PerMileRate),
		VehiclePremium:     premium,
		StairsFee:          stairs,
		AddOnFees:          addOns,
		PlatformFeePercent: platformFeePercent,
	}
	b.Subtotal = roundCents(b.BaseFare + b.DistanceFare + b.VehiclePremium + b.StairsFee + b.AddOnFees)

	todMultiplier, ok := lookup(timeOfDayMultipliers, params.TimeOfDay, TimeDaytime)
	if !ok {
		return nil, fmt.Errorf("%w: time of day %q", ErrInvalidPremium, params.TimeOfDay)
	}
	dayMultiplier, ok := lookup(dayMultipliers, params.DayType, DayWeekday)
	if !ok {
		return nil, fmt.Errorf("%w: day type %q", ErrInvalidPremium, params.DayType)
	}
	urgencyMultiplier, ok := lookup(urgencyMultipliers, params.Urgency, UrgencyStandard)
	if !ok {
		return nil, fmt.Errorf("%w: urgency %q", ErrInvalidPremium, params.Urgency)
	}
	b.PremiumMultiplier = todMultiplier * dayMultiplier * urgencyMultiplier
	b.PremiumAmount = roundCents(b.Subtotal * (b.PremiumMultiplier - 1))

	var discountRate float64
	if params.RoundTrip {
		discountRate += roundTripDiscount
	}
	if params.Recurring {
		discountRate += recurringDiscount
	}
	b.Discount = roundCents(b.Subtotal * discountRate)

	b.AdjustedFare = roundCents(b.Subtotal + b.PremiumAmount - b.Discount)
	b.PlatformFee = roundCents(b.AdjustedFare * platformFeePercent / 100)
	b.Tax = roundCents((b.AdjustedFare + b.PlatformFee) * TaxRate)
	b.Total = roundCents(b.AdjustedFare + b.PlatformFee + b.Tax)
	b.SuggestedBidMin = roundCents(b.Total * BidRangeLow)
	b.SuggestedBidMax = roundCents(b.Total * BidRangeHigh)

	return b, nil
}

// lookup returns m[key], or m[fallback] when key is the zero value.
// It reports false for any other key missing from m.
func lookup[K comparable](m map[K]float64, key, fallback K) (float64, bool) {
	var zero K
	if key == zero {
		key = fallback
	}
	v, ok := m[key]
	return v, ok
}

// ClassifyPickup buckets a pickup time into time-of-day and day type.
// Holidays are not derivable from the clock and must be set by the caller.
func ClassifyPickup(t time.Time) (TimeOfDay, DayType) {
	var tod TimeOfDay
	switch h := t.Hour(); {
	case h >= 5 && h < 8:
		tod = TimeEarlyMorning
	case h >= 8 && h < 17:
		tod = TimeDaytime
	case h >= 17 && h < 21:
		tod = TimeEvening
	default:
		tod = TimeOvernight
	}

	day := DayWeekday
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		day = DayWeekend
	}
	return tod, day
}

// roundCents rounds a dollar amount to the nearest cent.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
