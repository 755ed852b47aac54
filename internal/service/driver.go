package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"medride/internal/domain"
	"medride/internal/redis"
	"medride/internal/repository"
)

// DriverPresence tracks which drivers are accepting ride requests.
type DriverPresence interface {
	AddAvailableDriver(ctx context.Context, driverID string) error
	RemoveAvailableDriver(ctx context.Context, driverID string) error
}

// DriverService handles driver registration and availability.
type DriverService struct {
	locationStore redis.LocationStoreInterface
	presence      DriverPresence
	driverRepo    repository.DriverRepository
	log           logrus.FieldLogger
}

// NewDriverService creates a new DriverService. presence may be nil.
func NewDriverService(
	locationStore redis.LocationStoreInterface,
	presence DriverPresence,
	driverRepo repository.DriverRepository,
	log logrus.FieldLogger,
) *DriverService {
	return &DriverService{
		locationStore: locationStore,
		presence:      presence,
		driverRepo:    driverRepo,
		log:           log,
	}
}

// RegisterDriverRequest contains the parameters for registering a driver.
type RegisterDriverRequest struct {
	Name               string
	Phone              string
	VehicleType        domain.VehicleType
	ConnectedAccountID string
}

// RegisterDriver creates an offline driver.
func (s *DriverService) RegisterDriver(ctx context.Context, req RegisterDriverRequest) (*domain.Driver, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" || req.Phone == "" {
		return nil, ErrInvalidProfile
	}

	vehicle := req.VehicleType
	if vehicle == "" {
		vehicle = domain.VehicleStandard
	}
	if _, ok := vehiclePremiums[vehicle]; !ok {
		return nil, ErrInvalidVehicleType
	}

	if _, err := s.driverRepo.GetByPhone(ctx, req.Phone); err == nil {
		return nil, ErrPhoneTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	driver := &domain.Driver{
		ID:                 uuid.New().String(),
		Name:               req.Name,
		Phone:              req.Phone,
		Status:             domain.DriverStatusOffline,
		VehicleType:        vehicle,
		ConnectedAccountID: req.ConnectedAccountID,
	}
	if err := s.driverRepo.Create(ctx, driver); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrPhoneTaken
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"driver_id": driver.ID, "vehicle": driver.VehicleType}).Info("driver registered")
	return driver, nil
}

// GetDriver returns a driver.
func (s *DriverService) GetDriver(ctx context.Context, driverID string) (*domain.Driver, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDriverNotFound
		}
		return nil, err
	}
	return driver, nil
}

// UpdateLocationRequest contains the parameters for updating driver location.
type UpdateLocationRequest struct {
	DriverID string
	Lat      float64
	Lng      float64
}

// UpdateLocation records a driver's position and marks them online and
// available for new ride requests.
func (s *DriverService) UpdateLocation(ctx context.Context, actor domain.Actor, req UpdateLocationRequest) error {
	if req.DriverID == "" {
		return ErrInvalidDriverID
	}
	if !actor.IsAdmin() && actor.ID != req.DriverID {
		return ErrForbidden
	}
	if !isValidLatitude(req.Lat) || !isValidLongitude(req.Lng) {
		return ErrInvalidLocation
	}

	if err := s.driverRepo.UpdateStatus(ctx, req.DriverID, domain.DriverStatusOnline); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDriverNotFound
		}
		return err
	}

	if err := s.locationStore.UpdateLocation(ctx, req.DriverID, req.Lat, req.Lng); err != nil {
		return err
	}

	if s.presence != nil {
		if err := s.presence.AddAvailableDriver(ctx, req.DriverID); err != nil {
			s.log.WithError(err).WithField("driver_id", req.DriverID).Warn("failed to mark driver available")
		}
	}
	return nil
}

// SetDriverOffline takes a driver out of the nearby-driver index.
func (s *DriverService) SetDriverOffline(ctx context.Context, actor domain.Actor, driverID string) error {
	if driverID == "" {
		return ErrInvalidDriverID
	}
	if !actor.IsAdmin() && actor.ID != driverID {
		return ErrForbidden
	}

	if err := s.driverRepo.UpdateStatus(ctx, driverID, domain.DriverStatusOffline); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDriverNotFound
		}
		return err
	}

	if err := s.locationStore.RemoveLocation(ctx, driverID); err != nil {
		return err
	}

	if s.presence != nil {
		if err := s.presence.RemoveAvailableDriver(ctx, driverID); err != nil {
			s.log.WithError(err).WithField("driver_id", driverID).Warn("failed to mark driver unavailable")
		}
	}
	return nil
}

// SetConnectedAccount stores the gateway account a driver is paid out to.
func (s *DriverService) SetConnectedAccount(ctx context.Context, actor domain.Actor, driverID, accountID string) error {
	if driverID == "" {
		return ErrInvalidDriverID
	}
	if accountID == "" {
		return ErrInvalidPaymentMethod
	}
	if !actor.IsAdmin() && actor.ID != driverID {
		return ErrForbidden
	}
	if err := s.driverRepo.SetConnectedAccount(ctx, driverID, accountID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDriverNotFound
		}
		return err
	}
	return nil
}
