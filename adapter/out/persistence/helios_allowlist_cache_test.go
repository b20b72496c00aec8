package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"helios_server/core/domain"
	"helios_server/pkg/cache"
)

func setupTestRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return cache.NewRedisCache(client)
}

func TestAllowlistCacheRoundTrip(t *testing.T) {
	adapter := NewAllowlistCacheAdapter(setupTestRedis(t), time.Hour)
	ctx := context.Background()

	if _, ok := adapter.Get(ctx); ok {
		t.Fatal("empty cache must miss")
	}

	snap := &domain.AllowlistSnapshot{
		Version: 7,
		Emails:  []string{"pm@acme.com"},
		Domains: []domain.ClientDomain{{Domain: "acme.com", Wildcard: true}},
	}
	adapter.Set(ctx, snap)

	got, ok := adapter.Get(ctx)
	if !ok {
		t.Fatal("expected cache hit after Set")
	}
	if got.Version != 7 || len(got.Emails) != 1 || len(got.Domains) != 1 {
		t.Errorf("cached snapshot = %+v", got)
	}
	if !got.Domains[0].Wildcard {
		t.Error("wildcard flag lost in cache round trip")
	}
}

func TestAllowlistCacheInvalidate(t *testing.T) {
	adapter := NewAllowlistCacheAdapter(setupTestRedis(t), time.Hour)
	ctx := context.Background()

	adapter.Set(ctx, &domain.AllowlistSnapshot{Version: 1})
	adapter.Invalidate(ctx)

	if _, ok := adapter.Get(ctx); ok {
		t.Error("expected miss after Invalidate")
	}
}
