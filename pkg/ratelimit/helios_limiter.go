// Package ratelimit bounds concurrent calls against the Google provider APIs
// and debounces repeated sweep triggers.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds provider guard configuration.
type Config struct {
	// Maximum in-flight provider calls across the process.
	MaxConcurrent int

	// Window during which an identical trigger key is treated as a duplicate.
	DebounceDuration time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrent:    4,
		DebounceDuration: 1 * time.Minute,
	}
}

// ProviderGuard gates outbound provider calls behind a semaphore and a
// debounce window. The semaphore is process-local; the debounce ledger lives
// in redis when available so repeated sweep triggers across restarts are
// still collapsed.
type ProviderGuard struct {
	config    *Config
	semaphore chan struct{}
	debouncer *Debouncer
}

// NewProviderGuard creates a new provider guard.
func NewProviderGuard(redisClient *redis.Client, config *Config) *ProviderGuard {
	if config == nil {
		config = DefaultConfig()
	}
	return &ProviderGuard{
		config:    config,
		semaphore: make(chan struct{}, config.MaxConcurrent),
		debouncer: NewDebouncer(redisClient, config.DebounceDuration),
	}
}

// Acquire blocks until a provider slot is free or ctx is done.
// The returned release function must be called when the call completes.
func (g *ProviderGuard) Acquire(ctx context.Context) (func(), error) {
	select {
	case g.semaphore <- struct{}{}:
		return func() { <-g.semaphore }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire acquires a slot without blocking.
func (g *ProviderGuard) TryAcquire() (func(), bool) {
	select {
	case g.semaphore <- struct{}{}:
		return func() { <-g.semaphore }, true
	default:
		return nil, false
	}
}

// Debounce reports whether key was already triggered inside the window and
// marks it if not.
func (g *ProviderGuard) Debounce(ctx context.Context, key string) bool {
	if g.debouncer.IsDuplicate(ctx, key) {
		return true
	}
	g.debouncer.Mark(ctx, key)
	return false
}

// Debouncer prevents duplicate requests within a time window.
type Debouncer struct {
	redis    *redis.Client
	duration time.Duration
	local    map[string]time.Time // fallback for no redis
	mu       sync.RWMutex
}

// NewDebouncer creates a new debouncer.
func NewDebouncer(redisClient *redis.Client, duration time.Duration) *Debouncer {
	return &Debouncer{
		redis:    redisClient,
		duration: duration,
		local:    make(map[string]time.Time),
	}
}

// IsDuplicate checks if this is a duplicate request.
func (d *Debouncer) IsDuplicate(ctx context.Context, key string) bool {
	redisKey := fmt.Sprintf("debounce:%s", key)

	if d.redis != nil {
		exists, err := d.redis.Exists(ctx, redisKey).Result()
		if err == nil {
			return exists > 0
		}
	}

	d.mu.RLock()
	lastTime, exists := d.local[key]
	d.mu.RUnlock()

	return exists && time.Since(lastTime) < d.duration
}

// Mark marks this request as processed.
func (d *Debouncer) Mark(ctx context.Context, key string) {
	redisKey := fmt.Sprintf("debounce:%s", key)

	if d.redis != nil {
		d.redis.Set(ctx, redisKey, "1", d.duration)
	}

	d.mu.Lock()
	now := time.Now()
	d.local[key] = now
	for k, v := range d.local {
		if now.Sub(v) > d.duration*2 {
			delete(d.local, k)
		}
	}
	d.mu.Unlock()
}
