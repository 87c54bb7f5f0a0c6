package application

import (
	"context"
	"sync"
	"time"

	devices "nexusgrid/internal/devices/domain"
)

const defaultTTL = 30 * time.Second

// Clock provides time for cache expiry.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type entry struct {
	config    devices.Config
	expiresAt time.Time
}

// CachedProvider fronts a config provider with a short TTL cache so the
// ingest hot path does not hit the database on every reading. Updates take
// effect within the TTL, or immediately via Invalidate.
type CachedProvider struct {
	inner devices.ConfigProvider
	ttl   time.Duration
	clock Clock

	mu      sync.RWMutex
	entries map[string]entry
}

// CacheOption configures the cached provider.
type CacheOption func(*CachedProvider)

// WithTTL overrides the cache entry lifetime.
func WithTTL(ttl time.Duration) CacheOption {
	return func(p *CachedProvider) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) CacheOption {
	return func(p *CachedProvider) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// NewCachedProvider wraps a config provider with caching.
func NewCachedProvider(inner devices.ConfigProvider, opts ...CacheOption) *CachedProvider {
	provider := &CachedProvider{
		inner:   inner,
		ttl:     defaultTTL,
		clock:   systemClock{},
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(provider)
	}
	return provider
}

// GetConfig returns the cached configuration or falls through to the inner
// provider. Lookup errors are never cached.
func (p *CachedProvider) GetConfig(ctx context.Context, deviceID string) (*devices.Config, error) {
	now := p.clock.Now()

	p.mu.RLock()
	cached, ok := p.entries[deviceID]
	p.mu.RUnlock()
	if ok && now.Before(cached.expiresAt) {
		copied := cached.config
		return &copied, nil
	}

	config, err := p.inner.GetConfig(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.entries[deviceID] = entry{config: *config, expiresAt: now.Add(p.ttl)}
	p.mu.Unlock()
	return config, nil
}

// Invalidate drops a device's cached entry so the next lookup refetches.
func (p *CachedProvider) Invalidate(deviceID string) {
	p.mu.Lock()
	delete(p.entries, deviceID)
	p.mu.Unlock()
}
