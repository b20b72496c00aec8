package persistence

import (
	"context"
	"time"

	"helios_server/core/domain"
	"helios_server/core/port/out"
	"helios_server/pkg/cache"
)

const allowlistCacheKey = "allowlist:snapshot"

// AllowlistCacheAdapter keeps allowlist snapshots in Redis so ingestion does
// not rebuild them per message.
type AllowlistCacheAdapter struct {
	cache *cache.RedisCache
	ttl   time.Duration
}

// NewAllowlistCacheAdapter creates a new AllowlistCacheAdapter.
func NewAllowlistCacheAdapter(redisCache *cache.RedisCache, ttl time.Duration) *AllowlistCacheAdapter {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &AllowlistCacheAdapter{cache: redisCache, ttl: ttl}
}

// Get returns the cached snapshot, false on a miss. Cache errors count as
// misses so a Redis outage degrades to database reads.
func (a *AllowlistCacheAdapter) Get(ctx context.Context) (*domain.AllowlistSnapshot, bool) {
	var snap domain.AllowlistSnapshot
	found, err := a.cache.GetJSON(ctx, allowlistCacheKey, &snap)
	if err != nil || !found {
		return nil, false
	}
	return &snap, true
}

// Set stores a snapshot with the configured TTL.
func (a *AllowlistCacheAdapter) Set(ctx context.Context, snap *domain.AllowlistSnapshot) {
	if snap == nil {
		return
	}
	_ = a.cache.SetJSON(ctx, allowlistCacheKey, snap, a.ttl)
}

// Invalidate drops the cached snapshot.
func (a *AllowlistCacheAdapter) Invalidate(ctx context.Context) {
	_ = a.cache.Delete(ctx, allowlistCacheKey)
}

// Ensure AllowlistCacheAdapter implements out.AllowlistCache
var _ out.AllowlistCache = (*AllowlistCacheAdapter)(nil)
