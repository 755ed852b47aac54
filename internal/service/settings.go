package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"medride/internal/repository"
)

// SettingPlatformFeePercent is the settings key holding the platform fee percentage.
const SettingPlatformFeePercent = "platform_fee_percent"

// SettingsCache is a TTL cache for numeric settings.
type SettingsCache interface {
	GetFloatSetting(ctx context.Context, key string) (float64, bool, error)
	SetFloatSetting(ctx context.Context, key string, value float64) error
	InvalidateSetting(ctx context.Context, key string) error
}

// SettingsService reads and writes platform settings through a cache.
type SettingsService struct {
	repo       repository.SettingsRepository
	cache      SettingsCache
	defaultFee float64
	log        logrus.FieldLogger
}

// NewSettingsService creates a new SettingsService. defaultFee is used when
// no fee has been stored.
func NewSettingsService(repo repository.SettingsRepository, cache SettingsCache, defaultFee float64, log logrus.FieldLogger) *SettingsService {
	return &SettingsService{
		repo:       repo,
		cache:      cache,
		defaultFee: defaultFee,
		log:        log,
	}
}

// PlatformFeePercent returns the current platform fee, e.g. 5 for 5%.
func (s *SettingsService) PlatformFeePercent(ctx context.Context) (float64, error) {
	if s.cache != nil {
		v, ok, err := s.cache.GetFloatSetting(ctx, SettingPlatformFeePercent)
		if err != nil {
			s.log.WithError(err).Warn("settings cache read failed")
		} else if ok {
			return v, nil
		}
	}

	raw, err := s.repo.Get(ctx, SettingPlatformFeePercent)
	if errors.Is(err, repository.ErrNotFound) {
		return s.defaultFee, nil
	}
	if err != nil {
		return 0, err
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v >= 100 {
		s.log.WithField("value", raw).Warn("stored platform fee is invalid, using default")
		return s.defaultFee, nil
	}

	if s.cache != nil {
		if err := s.cache.SetFloatSetting(ctx, SettingPlatformFeePercent, v); err != nil {
			s.log.WithError(err).Warn("settings cache write failed")
		}
	}
	return v, nil
}

// SetPlatformFeePercent stores a new platform fee.
func (s *SettingsService) SetPlatformFeePercent(ctx context.Context, pct float64) error {
	if pct < 0 || pct >= 100 {
		return ErrInvalidPlatformFee
	}

	if err := s.repo.Set(ctx, SettingPlatformFeePercent, strconv.FormatFloat(pct, 'f', -1, 64)); err != nil {
		return fmt.Errorf("store platform fee: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.InvalidateSetting(ctx, SettingPlatformFeePercent); err != nil {
			s.log.WithError(err).Warn("settings cache invalidate failed")
		}
	}
	return nil
}
