// Package cache keeps the last occupancy snapshot in Redis so a wall of
// dashboards polling every few seconds does not hit the ledger each time.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/types"
)

const defaultKey = "occupant:occupancy:snapshot"

// SnapshotCache is a short-TTL Redis cache.  Errors are swallowed and read
// as misses; the ledger stays the source of truth.
type SnapshotCache struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func NewSnapshotCache(rdb *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: rdb, key: defaultKey, ttl: ttl}
}

// WithKey returns a copy using key, for several facilities on one Redis.
func (c *SnapshotCache) WithKey(key string) *SnapshotCache {
	cp := *c
	cp.key = key
	return &cp
}

func (c *SnapshotCache) Get(ctx context.Context) (types.OccupancyResponse, bool) {
	var out types.OccupancyResponse
	if c.rdb == nil || c.ttl <= 0 {
		return out, false
	}
	val, err := c.rdb.Get(ctx, c.key).Bytes()
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(val, &out); err != nil {
		return out, false
	}
	return out, true
}

func (c *SnapshotCache) Set(ctx context.Context, snap types.OccupancyResponse) {
	if c.rdb == nil || c.ttl <= 0 {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = c.rdb.Set(ctx, c.key, data, c.ttl).Err()
}

func (c *SnapshotCache) Delete(ctx context.Context) {
	if c.rdb == nil {
		return
	}
	_ = c.rdb.Del(ctx, c.key).Err()
}

// Ping reports whether Redis is reachable.
func (c *SnapshotCache) Ping(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}
