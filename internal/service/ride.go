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
	"medride/internal/redis"
	"medride/internal/repository"
)

const (
	defaultSearchRadiusKm = 15.0
	lateCancelWindow      = 24 * time.Hour
	expiredRideReason     = "no bids received"
	rejectedEditReason    = "edit rejected"
)

// DriverAvailability narrows a set of drivers to those currently accepting rides.
type DriverAvailability interface {
	FilterAvailableDrivers(ctx context.Context, driverIDs []string) ([]string, error)
}

// RideConfig holds the request windows used when creating rides.
type RideConfig struct {
	RideTTL        time.Duration
	UrgentTTL      time.Duration
	SearchRadiusKm float64
}

// RideService runs the ride lifecycle.
type RideService struct {
	tx            repository.TxManager
	rideRepo      repository.RideRepository
	fares         *FareCalculator
	locationStore redis.LocationStoreInterface
	availability  DriverAvailability
	notifier      *NotificationService
	cfg           RideConfig
	log           logrus.FieldLogger
	now           func() time.Time
}

// NewRideService creates a new RideService. locationStore and availability
// may be nil, in which case no drivers are told about new rides.
func NewRideService(
	tx repository.TxManager,
	rideRepo repository.RideRepository,
	fares *FareCalculator,
	locationStore redis.LocationStoreInterface,
	availability DriverAvailability,
	notifier *NotificationService,
	cfg RideConfig,
	log logrus.FieldLogger,
) *RideService {
	if cfg.SearchRadiusKm <= 0 {
		cfg.SearchRadiusKm = defaultSearchRadiusKm
	}
	return &RideService{
		tx:            tx,
		rideRepo:      rideRepo,
		fares:         fares,
		locationStore: locationStore,
		availability:  availability,
		notifier:      notifier,
		cfg:           cfg,
		log:           log,
		now:           time.Now,
	}
}

// CreateRideRequest contains the parameters for requesting a ride.
type CreateRideRequest struct {
	RiderID           string
	PickupLat         float64
	PickupLng         float64
	PickupAddress     string
	DropoffLat        float64
	DropoffLng        float64
	DropoffAddress    string
	ScheduledTime     time.Time
	VehicleType       domain.VehicleType
	Accessibility     domain.Accessibility
	EstimatedDistance float64
	RiderBid          float64
	IsUrgent          bool
	IsHoliday         bool
	RoundTrip         bool
	Recurring         bool
	PromoCode         string
}

// CreateRideResponse is a new ride together with its fare estimate.
type CreateRideResponse struct {
	Ride *domain.Ride
	Fare *FareBreakdown
}

// CreateRide opens a ride for bids. When the rider proposes no price the
// estimated total is used.
func (s *RideService) CreateRide(ctx context.Context, actor domain.Actor, req CreateRideRequest) (*CreateRideResponse, error) {
	if !actor.IsAdmin() {
		req.RiderID = actor.ID
	}
	if err := s.validateCreateRequest(req); err != nil {
		return nil, err
	}

	fare, err := s.fares.Calculate(ctx, fareParamsFor(req))
	if err != nil {
		return nil, err
	}

	now := s.now()
	ttl := s.cfg.RideTTL
	if req.IsUrgent {
		ttl = s.cfg.UrgentTTL
	}
	expiresAt := now.Add(ttl)
	if req.ScheduledTime.Before(expiresAt) {
		expiresAt = req.ScheduledTime
	}

	vehicle := req.VehicleType
	if vehicle == "" {
		vehicle = domain.VehicleStandard
	}
	riderBid := roundCents(req.RiderBid)
	if riderBid <= 0 {
		riderBid = fare.Total
	}

	ride := &domain.Ride{
		ID:                uuid.New().String(),
		RiderID:           req.RiderID,
		Status:            domain.RideStatusRequested,
		PickupLat:         req.PickupLat,
		PickupLng:         req.PickupLng,
		PickupAddress:     req.PickupAddress,
		DropoffLat:        req.DropoffLat,
		DropoffLng:        req.DropoffLng,
		DropoffAddress:    req.DropoffAddress,
		ScheduledTime:     req.ScheduledTime,
		VehicleType:       vehicle,
		Accessibility:     req.Accessibility,
		EstimatedDistance: req.EstimatedDistance,
		RiderBid:          riderBid,
		IsUrgent:          req.IsUrgent,
		ExpiresAt:         expiresAt,
		PromoCode:         req.PromoCode,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.rideRepo.Create(ctx, ride); err != nil {
		return nil, fmt.Errorf("create ride: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"ride_id":    ride.ID,
		"rider_id":   ride.RiderID,
		"vehicle":    ride.VehicleType,
		"expires_at": ride.ExpiresAt,
	}).Info("ride requested")

	s.notifyNearbyDrivers(ctx, ride)

	return &CreateRideResponse{Ride: ride, Fare: fare}, nil
}

func (s *RideService) validateCreateRequest(req CreateRideRequest) error {
	if req.RiderID == "" {
		return ErrInvalidRiderID
	}
	if !isValidLatitude(req.PickupLat) || !isValidLongitude(req.PickupLng) {
		return ErrInvalidPickupLocation
	}
	if !isValidLatitude(req.DropoffLat) || !isValidLongitude(req.DropoffLng) {
		return ErrInvalidDropoffLocation
	}
	if req.ScheduledTime.IsZero() || req.ScheduledTime.Before(s.now()) {
		return ErrInvalidScheduledTime
	}
	if req.RiderBid < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func fareParamsFor(req CreateRideRequest) FareParams {
	tod, day := ClassifyPickup(req.ScheduledTime)
	if req.IsHoliday {
		day = DayHoliday
	}
	urgency := UrgencyStandard
	if req.IsUrgent {
		urgency = UrgencyUrgent
	}
	return FareParams{
		Distance:        req.EstimatedDistance,
		VehicleType:     req.VehicleType,
		Stairs:          req.Accessibility.StairsCode,
		Oxygen:          req.Accessibility.Oxygen,
		Companion:       req.Accessibility.Companion,
		DoorThroughDoor: req.Accessibility.DoorThroughDoor,
		TimeOfDay:       tod,
		DayType:         day,
		Urgency:         urgency,
		RoundTrip:       req.RoundTrip,
		Recurring:       req.Recurring,
	}
}

// notifyNearbyDrivers tells available drivers near the pickup about a new ride.
func (s *RideService) notifyNearbyDrivers(ctx context.Context, ride *domain.Ride) {
	if s.locationStore == nil {
		return
	}

	nearby, err := s.locationStore.FindNearbyDrivers(ctx, ride.PickupLat, ride.PickupLng, s.cfg.SearchRadiusKm)
	if err != nil {
		s.log.WithError(err).WithField("ride_id", ride.ID).Warn("nearby driver lookup failed")
		return
	}
	if len(nearby) == 0 {
		return
	}

	ids := make([]string, 0, len(nearby))
	for _, d := range nearby {
		ids = append(ids, d.DriverID)
	}
	if s.availability != nil {
		ids, err = s.availability.FilterAvailableDrivers(ctx, ids)
		if err != nil {
			s.log.WithError(err).WithField("ride_id", ride.ID).Warn("driver availability lookup failed")
			return
		}
	}
	s.notifier.NotifyRideRequested(ctx, ride, ids)
}

func isValidLatitude(lat float64) bool {
	return lat >= -90 && lat <= 90
}

func isValidLongitude(lng float64) bool {
	return lng >= -180 && lng <= 180
}

// GetRide returns a ride visible to the actor.
func (s *RideService) GetRide(ctx context.Context, actor domain.Actor, rideID string) (*domain.Ride, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	ride, err := getRide(ctx, s.rideRepo, rideID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, ride) {
		return nil, ErrForbidden
	}
	return ride, nil
}

// ListRides returns every recent ride for an admin, and the actor's own
// rides for everyone else.
func (s *RideService) ListRides(ctx context.Context, actor domain.Actor) ([]*domain.Ride, error) {
	if actor.IsAdmin() {
		return s.rideRepo.GetAll(ctx)
	}
	return s.rideRepo.ListByParticipant(ctx, actor.ID)
}

// canView reports whether the actor takes part in the ride. Drivers may see
// rides still open for bids.
func canView(actor domain.Actor, ride *domain.Ride) bool {
	switch {
	case actor.IsAdmin(), actor.ID == ride.RiderID, actor.ID == ride.DriverID:
		return true
	case actor.Role == domain.RoleDriver:
		return ride.Status == domain.RideStatusRequested || ride.Status == domain.RideStatusBidding
	}
	return false
}

// CancelRideRequest contains the parameters for cancelling a ride.
type CancelRideRequest struct {
	RideID string
	Reason string
}

// CancelRide cancels a ride on behalf of its rider or an admin. A cancellation
// within a day of pickup of a ride that already has a driver is flagged late.
// Offers still open on the ride are expired.
func (s *RideService) CancelRide(ctx context.Context, actor domain.Actor, req CancelRideRequest) (*domain.Ride, error) {
	if req.RideID == "" {
		return nil, ErrInvalidRideID
	}

	var (
		ride           *domain.Ride
		releasedDriver string
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		r, err := getRide(ctx, repos.Rides, req.RideID)
		if err != nil {
			return err
		}
		ride = r
		if !actor.IsAdmin() && actor.ID != ride.RiderID {
			return ErrForbidden
		}
		if !domain.IsCancellable(ride.Status) {
			return fmt.Errorf("%w: cannot cancel a ride that is %s", ErrInvalidTransition, ride.Status)
		}

		now := s.now()
		from := ride.Status
		releasedDriver = ride.DriverID
		ride.LateCancellation = ride.DriverID != "" && ride.ScheduledTime.Sub(now) < lateCancelWindow
		ride.DriverID = ""
		ride.Status = domain.RideStatusCancelled
		ride.CancelReason = req.Reason
		ride.CancelledAt = now
		ride.UpdatedAt = now

		ok, err := repos.Rides.UpdateIfStatus(ctx, ride, from)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: ride is no longer %s", ErrInvalidTransition, from)
		}

		_, err = repos.Bids.UpdateStatusByRide(ctx, ride.ID, "", domain.BidStatusExpired,
			domain.BidStatusPending, domain.BidStatusSelected)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"ride_id":           ride.ID,
		"cancelled_by":      actor.ID,
		"driver_id":         releasedDriver,
		"late_cancellation": ride.LateCancellation,
	}).Info("ride cancelled")
	s.notifier.NotifyRideCancelled(ctx, ride, releasedDriver, actor.ID)

	return ride, nil
}

// UpdateStatus advances a ride through the trip itself: en_route, arrived,
// in_progress and completed. Only the assigned driver or an admin may do so.
func (s *RideService) UpdateStatus(ctx context.Context, actor domain.Actor, rideID string, to domain.RideStatus) (*domain.Ride, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	switch to {
	case domain.RideStatusEnRoute, domain.RideStatusArrived,
		domain.RideStatusInProgress, domain.RideStatusCompleted:
	default:
		return nil, fmt.Errorf("%w: status %q cannot be set directly", ErrInvalidTransition, to)
	}

	ride, err := getRide(ctx, s.rideRepo, rideID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && (ride.DriverID == "" || actor.ID != ride.DriverID) {
		return nil, ErrForbidden
	}
	if !domain.CanTransition(ride.Status, to) {
		return nil, fmt.Errorf("%w: ride is %s, cannot move to %s", ErrInvalidTransition, ride.Status, to)
	}

	from := ride.Status
	ride.Status = to
	ride.UpdatedAt = s.now()
	ok, err := s.rideRepo.UpdateIfStatus(ctx, ride, from)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: ride is no longer %s", ErrInvalidTransition, from)
	}

	s.log.WithFields(logrus.Fields{"ride_id": ride.ID, "from": from, "to": to}).Info("ride status updated")
	s.notifier.NotifyRideStatus(ctx, ride)

	return ride, nil
}

// ProposeEdit records a rider's change to a scheduled or paid ride and holds
// the ride in edit_pending until the driver decides.
func (s *RideService) ProposeEdit(ctx context.Context, actor domain.Actor, rideID string, edit domain.RideEdit) (*domain.Ride, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	if edit.ScheduledTime != nil && edit.ScheduledTime.Before(s.now()) {
		return nil, ErrInvalidScheduledTime
	}

	ride, err := getRide(ctx, s.rideRepo, rideID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.ID != ride.RiderID {
		return nil, ErrForbidden
	}
	if !domain.CanTransition(ride.Status, domain.RideStatusEditPending) {
		return nil, fmt.Errorf("%w: cannot edit a ride that is %s", ErrInvalidTransition, ride.Status)
	}

	from := ride.Status
	ride.EditPrevStatus = from
	ride.PendingEdit = &edit
	ride.Status = domain.RideStatusEditPending
	ride.UpdatedAt = s.now()
	ok, err := s.rideRepo.UpdateIfStatus(ctx, ride, from)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: ride is no longer %s", ErrInvalidTransition, from)
	}

	s.log.WithField("ride_id", ride.ID).Info("ride edit proposed")
	s.notifier.NotifyEditProposed(ctx, ride)

	return ride, nil
}

// AcceptEdit applies the pending change and returns the ride to the status
// it had before the edit was proposed.
func (s *RideService) AcceptEdit(ctx context.Context, actor domain.Actor, rideID string) (*domain.Ride, error) {
	ride, err := s.pendingEditRide(ctx, actor, rideID)
	if err != nil {
		return nil, err
	}

	edit := ride.PendingEdit
	if edit.ScheduledTime != nil {
		ride.ScheduledTime = *edit.ScheduledTime
	}
	if edit.PickupAddress != "" {
		ride.PickupAddress = edit.PickupAddress
	}
	if edit.DropoffAddr != "" {
		ride.DropoffAddress = edit.DropoffAddr
	}

	ride.Status = ride.EditPrevStatus
	ride.EditPrevStatus = ""
	ride.PendingEdit = nil
	if err := s.decideEdit(ctx, ride, true); err != nil {
		return nil, err
	}
	return ride, nil
}

// RejectEdit declines the pending change, which cancels the ride.
func (s *RideService) RejectEdit(ctx context.Context, actor domain.Actor, rideID string) (*domain.Ride, error) {
	ride, err := s.pendingEditRide(ctx, actor, rideID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ride.Status = domain.RideStatusCancelled
	ride.DriverID = ""
	ride.CancelReason = rejectedEditReason
	ride.CancelledAt = now
	ride.EditPrevStatus = ""
	ride.PendingEdit = nil
	if err := s.decideEdit(ctx, ride, false); err != nil {
		return nil, err
	}
	return ride, nil
}

func (s *RideService) pendingEditRide(ctx context.Context, actor domain.Actor, rideID string) (*domain.Ride, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	ride, err := getRide(ctx, s.rideRepo, rideID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && (ride.DriverID == "" || actor.ID != ride.DriverID) {
		return nil, ErrForbidden
	}
	if ride.Status != domain.RideStatusEditPending || ride.PendingEdit == nil {
		return nil, ErrNoPendingEdit
	}
	return ride, nil
}

func (s *RideService) decideEdit(ctx context.Context, ride *domain.Ride, accepted bool) error {
	ride.UpdatedAt = s.now()
	ok, err := s.rideRepo.UpdateIfStatus(ctx, ride, domain.RideStatusEditPending)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoPendingEdit
	}

	s.log.WithFields(logrus.Fields{"ride_id": ride.ID, "accepted": accepted}).Info("ride edit decided")
	s.notifier.NotifyEditDecided(ctx, ride, accepted)
	return nil
}

// ExpireRides cancels up to limit requested rides whose expiry has passed.
// A ride that moved on since it was listed is skipped. It returns the number
// of rides cancelled.
func (s *RideService) ExpireRides(ctx context.Context, limit int) (int, error) {
	now := s.now()
	rides, err := s.rideRepo.ListExpiredRequested(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list expired rides: %w", err)
	}

	expired := 0
	for _, ride := range rides {
		if err := ctx.Err(); err != nil {
			return expired, err
		}

		ok, err := s.expireRide(ctx, ride, now)
		if err != nil {
			s.log.WithError(err).WithField("ride_id", ride.ID).Error("failed to expire ride")
			continue
		}
		if !ok {
			continue
		}

		expired++
		metrics.RidesExpiredTotal.Inc()
		s.notifier.NotifyRideExpired(ctx, ride)
	}
	return expired, nil
}

func (s *RideService) expireRide(ctx context.Context, ride *domain.Ride, now time.Time) (bool, error) {
	ride.Status = domain.RideStatusCancelled
	ride.CancelReason = expiredRideReason
	ride.CancelledAt = now
	ride.UpdatedAt = now

	var ok bool
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		ok, err = repos.Rides.UpdateIfStatus(ctx, ride, domain.RideStatusRequested)
		if err != nil || !ok {
			return err
		}
		_, err = repos.Bids.UpdateStatusByRide(ctx, ride.ID, "", domain.BidStatusExpired,
			domain.BidStatusPending, domain.BidStatusSelected)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return ok, err
}
