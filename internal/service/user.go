package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"medride/internal/domain"
	"medride/internal/redis"
	"medride/internal/repository"
)

// UserCache is a TTL cache in front of the user table.
type UserCache interface {
	GetUser(ctx context.Context, userID string) (*redis.CachedUser, error)
	SetUser(ctx context.Context, user *redis.CachedUser) error
}

// UserService manages riders, admins and their saved payment methods.
type UserService struct {
	userRepo   repository.UserRepository
	methodRepo repository.PaymentMethodRepository
	cache      UserCache
	log        logrus.FieldLogger
}

// NewUserService creates a new UserService. cache may be nil.
func NewUserService(userRepo repository.UserRepository, methodRepo repository.PaymentMethodRepository, cache UserCache, log logrus.FieldLogger) *UserService {
	return &UserService{
		userRepo:   userRepo,
		methodRepo: methodRepo,
		cache:      cache,
		log:        log,
	}
}

// RegisterUserRequest contains the parameters for registering a user.
type RegisterUserRequest struct {
	Name  string
	Phone string
	Email string
	Role  domain.UserRole
}

// RegisterUser creates a rider, or an admin when requested by an admin.
func (s *UserService) RegisterUser(ctx context.Context, actor domain.Actor, req RegisterUserRequest) (*domain.User, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" || req.Phone == "" {
		return nil, ErrInvalidProfile
	}

	role := req.Role
	switch role {
	case "", domain.RoleRider:
		role = domain.RoleRider
	case domain.RoleAdmin:
		if !actor.IsAdmin() {
			return nil, ErrForbidden
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, req.Role)
	}

	if _, err := s.userRepo.GetByPhone(ctx, req.Phone); err == nil {
		return nil, ErrPhoneTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	id := uuid.New().String()
	user := &domain.User{
		ID:                id,
		Name:              req.Name,
		Phone:             req.Phone,
		Email:             req.Email,
		Role:              role,
		GatewayCustomerID: "cus_" + strings.ReplaceAll(id, "-", "")[:16],
		CreatedAt:         time.Now(),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrPhoneTaken
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("user registered")
	return user, nil
}

// GetUser returns a user, reading through the cache.
func (s *UserService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	if userID == "" {
		return nil, ErrInvalidRiderID
	}

	if s.cache != nil {
		cached, err := s.cache.GetUser(ctx, userID)
		if err != nil {
			s.log.WithError(err).Warn("user cache read failed")
		} else if cached != nil {
			return &domain.User{
				ID:                cached.ID,
				Name:              cached.Name,
				Phone:             cached.Phone,
				Email:             cached.Email,
				Role:              domain.UserRole(cached.Role),
				GatewayCustomerID: cached.GatewayCustomerID,
			}, nil
		}
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetUser(ctx, &redis.CachedUser{
			ID:                user.ID,
			Name:              user.Name,
			Phone:             user.Phone,
			Email:             user.Email,
			Role:              string(user.Role),
			GatewayCustomerID: user.GatewayCustomerID,
		}); err != nil {
			s.log.WithError(err).Warn("user cache write failed")
		}
	}
	return user, nil
}

// AddPaymentMethodRequest contains the parameters for saving a payment method.
type AddPaymentMethodRequest struct {
	UserID           string
	GatewayMethodRef string
	Brand            string
	Last4            string
	MakeDefault      bool
}

// AddPaymentMethod saves a payment method for a user. A user's first method
// becomes their default.
func (s *UserService) AddPaymentMethod(ctx context.Context, actor domain.Actor, req AddPaymentMethodRequest) (*domain.PaymentMethod, error) {
	if req.UserID == "" {
		return nil, ErrInvalidRiderID
	}
	if req.GatewayMethodRef == "" {
		return nil, ErrInvalidPaymentMethod
	}
	if !actor.IsAdmin() && actor.ID != req.UserID {
		return nil, ErrForbidden
	}
	if _, err := s.GetUser(ctx, req.UserID); err != nil {
		return nil, err
	}

	existing, err := s.methodRepo.ListByUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	method := &domain.PaymentMethod{
		ID:               uuid.New().String(),
		UserID:           req.UserID,
		GatewayMethodRef: req.GatewayMethodRef,
		Brand:            req.Brand,
		Last4:            req.Last4,
		IsDefault:        len(existing) == 0,
		CreatedAt:        time.Now(),
	}
	if err := s.methodRepo.Create(ctx, method); err != nil {
		return nil, err
	}

	if req.MakeDefault && !method.IsDefault {
		if err := s.methodRepo.SetDefault(ctx, req.UserID, method.ID); err != nil {
			return nil, err
		}
		method.IsDefault = true
	}

	s.log.WithFields(logrus.Fields{"user_id": req.UserID, "method_id": method.ID, "default": method.IsDefault}).Info("payment method added")
	return method, nil
}

// ListPaymentMethods returns a user's saved payment methods.
func (s *UserService) ListPaymentMethods(ctx context.Context, actor domain.Actor, userID string) ([]*domain.PaymentMethod, error) {
	if userID == "" {
		return nil, ErrInvalidRiderID
	}
	if !actor.IsAdmin() && actor.ID != userID {
		return nil, ErrForbidden
	}
	return s.methodRepo.ListByUser(ctx, userID)
}

// SetDefaultPaymentMethod makes methodID the user's default payment method.
func (s *UserService) SetDefaultPaymentMethod(ctx context.Context, actor domain.Actor, userID, methodID string) error {
	if userID == "" {
		return ErrInvalidRiderID
	}
	if methodID == "" {
		return ErrInvalidPaymentMethod
	}
	if !actor.IsAdmin() && actor.ID != userID {
		return ErrForbidden
	}
	if err := s.methodRepo.SetDefault(ctx, userID, methodID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidPaymentMethod
		}
		return err
	}
	return nil
}
