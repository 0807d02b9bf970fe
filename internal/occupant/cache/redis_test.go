package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/types"
)

func newTestCache(t *testing.T, ttl time.Duration) (*SnapshotCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewSnapshotCache(rdb, ttl), mr
}

func TestSnapshotCache_SetGetDelete(t *testing.T) {
	c, _ := newTestCache(t, 5*time.Second)
	ctx := context.Background()

	_, ok := c.Get(ctx)
	assert.False(t, ok)

	snap := types.OccupancyResponse{
		CurrentCount: 8, CapacityMax: 10, Percentage: 80, Band: "full", Alert: true,
		Day: types.DayStats{Day: "2026-03-10", VisitCount: 12, Peak: 9},
	}
	c.Set(ctx, snap)

	got, ok := c.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, snap, got)

	c.Delete(ctx)
	_, ok = c.Get(ctx)
	assert.False(t, ok)
}

func TestSnapshotCache_Expires(t *testing.T) {
	c, mr := newTestCache(t, 5*time.Second)
	ctx := context.Background()

	c.Set(ctx, types.OccupancyResponse{CurrentCount: 1})
	mr.FastForward(6 * time.Second)

	_, ok := c.Get(ctx)
	assert.False(t, ok)
}

func TestSnapshotCache_CorruptValueIsMiss(t *testing.T) {
	c, mr := newTestCache(t, 5*time.Second)
	require.NoError(t, mr.Set(defaultKey, "{not json"))

	_, ok := c.Get(context.Background())
	assert.False(t, ok)
}

func TestSnapshotCache_RedisDownIsMiss(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	c := NewSnapshotCache(rdb, 5*time.Second)
	mr.Close()

	ctx := context.Background()
	c.Set(ctx, types.OccupancyResponse{CurrentCount: 1})
	_, ok := c.Get(ctx)
	assert.False(t, ok)
	assert.Error(t, c.Ping(ctx))
}

func TestSnapshotCache_Disabled(t *testing.T) {
	c := NewSnapshotCache(nil, time.Second)
	c.Set(context.Background(), types.OccupancyResponse{CurrentCount: 1})
	_, ok := c.Get(context.Background())
	assert.False(t, ok)
	assert.NoError(t, c.Ping(context.Background()))
}

func TestSnapshotCache_WithKeyIsolates(t *testing.T) {
	c, _ := newTestCache(t, 5*time.Second)
	other := c.WithKey("occupant:occupancy:pool")
	ctx := context.Background()

	c.Set(ctx, types.OccupancyResponse{CurrentCount: 3})
	_, ok := other.Get(ctx)
	assert.False(t, ok)
}
