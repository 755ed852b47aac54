package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMiniredis starts an in-memory Redis and returns a client connected to it.
func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheStore_User(t *testing.T) {
	mr, client := setupMiniredis(t)
	store := NewCacheStore(client)
	ctx := context.Background()

	missing, err := store.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	user := &CachedUser{ID: "user-1", Name: "Ada", Phone: "+15550001", Role: "rider"}
	require.NoError(t, store.SetUser(ctx, user))
	assert.True(t, mr.Exists("cache:user:user-1"))

	ttl := mr.TTL("cache:user:user-1")
	assert.Equal(t, UserCacheTTL, ttl)

	cached, err := store.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, user, cached)

	require.NoError(t, store.InvalidateUser(ctx, "user-1"))
	cached, err = store.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestCacheStore_FloatSetting(t *testing.T) {
	mr, client := setupMiniredis(t)
	store := NewCacheStore(client)
	ctx := context.Background()

	_, ok, err := store.GetFloatSetting(ctx, "platform_fee_percent")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetFloatSetting(ctx, "platform_fee_percent", 7.5))
	v, ok, err := store.GetFloatSetting(ctx, "platform_fee_percent")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7.5, v)

	mr.FastForward(SettingCacheTTL + time.Second)
	_, ok, err = store.GetFloatSetting(ctx, "platform_fee_percent")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetFloatSetting(ctx, "platform_fee_percent", 5))
	require.NoError(t, store.InvalidateSetting(ctx, "platform_fee_percent"))
	_, ok, err = store.GetFloatSetting(ctx, "platform_fee_percent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheStore_CorruptSetting(t *testing.T) {
	mr, client := setupMiniredis(t)
	store := NewCacheStore(client)

	require.NoError(t, mr.Set("cache:setting:platform_fee_percent", "not-a-number"))
	_, ok, err := store.GetFloatSetting(context.Background(), "platform_fee_percent")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestCacheStore_AvailableDrivers(t *testing.T) {
	_, client := setupMiniredis(t)
	store := NewCacheStore(client)
	ctx := context.Background()

	require.NoError(t, store.AddAvailableDriver(ctx, "driver-a"))
	require.NoError(t, store.AddAvailableDriver(ctx, "driver-c"))
	require.NoError(t, store.AddAvailableDriver(ctx, "driver-b"))
	require.NoError(t, store.RemoveAvailableDriver(ctx, "driver-b"))

	available, err := store.FilterAvailableDrivers(ctx, []string{"driver-c", "driver-b", "driver-a", "driver-x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"driver-c", "driver-a"}, available)

	none, err := store.FilterAvailableDrivers(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCacheStore_RedisDown(t *testing.T) {
	mr, client := setupMiniredis(t)
	store := NewCacheStore(client)
	mr.Close()

	_, err := store.GetUser(context.Background(), "user-1")
	assert.Error(t, err)
	_, _, err = store.GetFloatSetting(context.Background(), "platform_fee_percent")
	assert.Error(t, err)
}

func TestLocationStore_NearbyDrivers(t *testing.T) {
	_, client := setupMiniredis(t)
	store := NewLocationStore(client)
	ctx := context.Background()

	// Midtown Manhattan, Brooklyn and Philadelphia.
	require.NoError(t, store.UpdateLocation(ctx, "driver-near", 40.7549, -73.9840))
	require.NoError(t, store.UpdateLocation(ctx, "driver-mid", 40.6782, -73.9442))
	require.NoError(t, store.UpdateLocation(ctx, "driver-far", 39.9526, -75.1652))

	nearby, err := store.FindNearbyDrivers(ctx, 40.7580, -73.9855, 20)
	require.NoError(t, err)
	require.Len(t, nearby, 2)
	assert.Equal(t, "driver-near", nearby[0].DriverID)
	assert.Equal(t, "driver-mid", nearby[1].DriverID)
	assert.Less(t, nearby[0].DistanceKm, nearby[1].DistanceKm)
	assert.InDelta(t, 40.7549, nearby[0].Lat, 0.001)

	require.NoError(t, store.RemoveLocation(ctx, "driver-near"))
	nearby, err = store.FindNearbyDrivers(ctx, 40.7580, -73.9855, 20)
	require.NoError(t, err)
	require.Len(t, nearby, 1)
	assert.Equal(t, "driver-mid", nearby[0].DriverID)
}

func TestLockStore_AcquireRelease(t *testing.T) {
	mr, client := setupMiniredis(t)
	store := NewLockStore(client)
	ctx := context.Background()

	token, ok, err := store.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = store.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lock is held")

	// A stale token does not release someone else's lock.
	require.NoError(t, store.Release(ctx, "sweep", "stale-token"))
	assert.True(t, mr.Exists("lock:sweep"))

	require.NoError(t, store.Release(ctx, "sweep", token))
	assert.False(t, mr.Exists("lock:sweep"))

	_, ok, err = store.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockStore_Expires(t *testing.T) {
	mr, client := setupMiniredis(t)
	store := NewLockStore(client)
	ctx := context.Background()

	_, ok, err := store.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	_, ok, err = store.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
