package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheStore handles entity caching in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// Cache TTL constants
const (
	UserCacheTTL    = 5 * time.Minute  // profile and role rarely change
	SettingCacheTTL = 60 * time.Second // admins can change the platform fee at any time
)

// Key prefixes
const (
	userCachePrefix    = "cache:user:"
	settingCachePrefix = "cache:setting:"
	availableDrivers   = "drivers:available"
)

// CachedUser represents a cached user entity.
type CachedUser struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Phone             string `json:"phone"`
	Email             string `json:"email"`
	Role              string `json:"role"`
	GatewayCustomerID string `json:"gateway_customer_id"`
}

// GetUser retrieves a user from cache. Returns nil on a cache miss.
func (s *CacheStore) GetUser(ctx context.Context, userID string) (*CachedUser, error) {
	data, err := s.client.Get(ctx, userCachePrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var user CachedUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SetUser stores a user in cache.
func (s *CacheStore) SetUser(ctx context.Context, user *CachedUser) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, userCachePrefix+user.ID, data, UserCacheTTL).Err()
}

// InvalidateUser removes a user from cache.
func (s *CacheStore) InvalidateUser(ctx context.Context, userID string) error {
	return s.client.Del(ctx, userCachePrefix+userID).Err()
}

// GetFloatSetting retrieves a numeric platform setting. The boolean is false on a miss.
func (s *CacheStore) GetFloatSetting(ctx context.Context, key string) (float64, bool, error) {
	raw, err := s.client.Get(ctx, settingCachePrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// SetFloatSetting caches a numeric platform setting.
func (s *CacheStore) SetFloatSetting(ctx context.Context, key string, value float64) error {
	raw := strconv.FormatFloat(value, 'f', -1, 64)
	return s.client.Set(ctx, settingCachePrefix+key, raw, SettingCacheTTL).Err()
}

// InvalidateSetting removes a platform setting from cache.
func (s *CacheStore) InvalidateSetting(ctx context.Context, key string) error {
	return s.client.Del(ctx, settingCachePrefix+key).Err()
}

// AddAvailableDriver marks a driver as online and able to bid.
func (s *CacheStore) AddAvailableDriver(ctx context.Context, driverID string) error {
	return s.client.SAdd(ctx, availableDrivers, driverID).Err()
}

// RemoveAvailableDriver removes a driver from the available set.
func (s *CacheStore) RemoveAvailableDriver(ctx context.Context, driverID string) error {
	return s.client.SRem(ctx, availableDrivers, driverID).Err()
}

// FilterAvailableDrivers returns the subset of driverIDs that are online,
// preserving input order.
func (s *CacheStore) FilterAvailableDrivers(ctx context.Context, driverIDs []string) ([]string, error) {
	if len(driverIDs) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.BoolCmd, len(driverIDs))
	for i, id := range driverIDs {
		cmds[i] = pipe.SIsMember(ctx, availableDrivers, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	var available []string
	for i, cmd := range cmds {
		if cmd.Val() {
			available = append(available, driverIDs[i])
		}
	}
	return available, nil
}
