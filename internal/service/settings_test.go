package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medride/internal/repository"
)

type memSettings struct {
	mu     sync.Mutex
	values map[string]string
	gets   int
	err    error
}

func (m *memSettings) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.values[key]
	if !ok {
		return "", repository.ErrNotFound
	}
	return v, nil
}

func (m *memSettings) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
	return nil
}

type memSettingsCache struct {
	values map[string]float64
	err    error
}

func (c *memSettingsCache) GetFloatSetting(_ context.Context, key string) (float64, bool, error) {
	if c.err != nil {
		return 0, false, c.err
	}
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memSettingsCache) SetFloatSetting(_ context.Context, key string, value float64) error {
	if c.err != nil {
		return c.err
	}
	if c.values == nil {
		c.values = make(map[string]float64)
	}
	c.values[key] = value
	return nil
}

func (c *memSettingsCache) InvalidateSetting(_ context.Context, key string) error {
	if c.err != nil {
		return c.err
	}
	delete(c.values, key)
	return nil
}

func quietLogger() *logrus.Logger {
	log, _ := test.NewNullLogger()
	return log
}

func TestSettingsService_DefaultsWhenUnset(t *testing.T) {
	svc := NewSettingsService(&memSettings{}, nil, 5, quietLogger())

	pct, err := svc.PlatformFeePercent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5.0, pct)
}

func TestSettingsService_InvalidStoredValue(t *testing.T) {
	for _, raw := range []string{"abc", "-1", "100", "250"} {
		t.Run(raw, func(t *testing.T) {
			log, hook := test.NewNullLogger()
			repo := &memSettings{values: map[string]string{SettingPlatformFeePercent: raw}}
			svc := NewSettingsService(repo, nil, 5, log)

			pct, err := svc.PlatformFeePercent(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 5.0, pct)
			require.NotNil(t, hook.LastEntry())
			assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
		})
	}
}

func TestSettingsService_ReadsThroughCache(t *testing.T) {
	repo := &memSettings{values: map[string]string{SettingPlatformFeePercent: "7.5"}}
	cache := &memSettingsCache{}
	svc := NewSettingsService(repo, cache, 5, quietLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		pct, err := svc.PlatformFeePercent(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7.5, pct)
	}
	assert.Equal(t, 1, repo.gets)
	assert.Equal(t, 7.5, cache.values[SettingPlatformFeePercent])
}

func TestSettingsService_SetInvalidatesCache(t *testing.T) {
	repo := &memSettings{values: map[string]string{SettingPlatformFeePercent: "5"}}
	cache := &memSettingsCache{}
	svc := NewSettingsService(repo, cache, 5, quietLogger())
	ctx := context.Background()

	_, err := svc.PlatformFeePercent(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.SetPlatformFeePercent(ctx, 12.5))
	assert.Equal(t, "12.5", repo.values[SettingPlatformFeePercent])
	_, cached := cache.values[SettingPlatformFeePercent]
	assert.False(t, cached)

	pct, err := svc.PlatformFeePercent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12.5, pct)
}

func TestSettingsService_SetRejectsOutOfRange(t *testing.T) {
	svc := NewSettingsService(&memSettings{}, nil, 5, quietLogger())

	assert.ErrorIs(t, svc.SetPlatformFeePercent(context.Background(), -0.5), ErrInvalidPlatformFee)
	assert.ErrorIs(t, svc.SetPlatformFeePercent(context.Background(), 100), ErrInvalidPlatformFee)
	assert.NoError(t, svc.SetPlatformFeePercent(context.Background(), 0))
}

func TestSettingsService_CacheDownFallsBackToStore(t *testing.T) {
	repo := &memSettings{values: map[string]string{SettingPlatformFeePercent: "6"}}
	svc := NewSettingsService(repo, &memSettingsCache{err: errors.New("redis down")}, 5, quietLogger())

	pct, err := svc.PlatformFeePercent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6.0, pct)

	require.NoError(t, svc.SetPlatformFeePercent(context.Background(), 8))
}

func TestSettingsService_StoreError(t *testing.T) {
	boom := errors.New("db down")
	svc := NewSettingsService(&memSettings{err: boom}, nil, 5, quietLogger())

	_, err := svc.PlatformFeePercent(context.Background())
	assert.ErrorIs(t, err, boom)
}
