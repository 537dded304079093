package probe

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"meshroster/internal/domain"
)

const (
	// GlobalKey caches the result of probing without a device selector
	GlobalKey = "_global"
	// DefaultTTL keeps results long enough to cover one allocation pass
	DefaultTTL = 8 * time.Second
)

// Fetcher returns raw info output for a device; Client implements it
type Fetcher interface {
	Info(ctx context.Context, deviceID string) (string, error)
}

// Entry is one cached probe result
type Entry struct {
	FetchedAt time.Time
	Raw       string
	Parsed    domain.ProbeInfo
}

// InfoCache memoizes probe+parse results per device for a short TTL.
// Errors are never cached and the lock is not held while probing.
type InfoCache struct {
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger

	mu      sync.Mutex
	entries map[string]Entry
}

// CacheOption configures an InfoCache
type CacheOption func(*InfoCache)

// WithClock replaces the wall clock, for deterministic expiry in tests
func WithClock(now func() time.Time) CacheOption {
	return func(c *InfoCache) {
		c.now = now
	}
}

// WithCacheLogger sets the logger
func WithCacheLogger(logger *zap.Logger) CacheOption {
	return func(c *InfoCache) {
		c.logger = logger
	}
}

// NewInfoCache creates a cache in front of fetcher. A non-positive ttl uses DefaultTTL.
func NewInfoCache(fetcher Fetcher, ttl time.Duration, opts ...CacheOption) *InfoCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &InfoCache{
		fetcher: fetcher,
		ttl:     ttl,
		now:     time.Now,
		logger:  zap.NewNop(),
		entries: make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured time-to-live
func (c *InfoCache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached entry for deviceID when fresh, otherwise probes
func (c *InfoCache) Get(ctx context.Context, deviceID string) (Entry, error) {
	key := cacheKey(deviceID)

	c.mu.Lock()
	entry, ok := c.entries[key]
	fresh := ok && c.now().Sub(entry.FetchedAt) < c.ttl
	c.mu.Unlock()

	if fresh {
		c.logger.Debug("info cache hit", zap.String("key", key))
		return entry, nil
	}
	return c.Refresh(ctx, deviceID)
}

// Refresh probes deviceID unconditionally and stores the result
func (c *InfoCache) Refresh(ctx context.Context, deviceID string) (Entry, error) {
	key := cacheKey(deviceID)
	if key == GlobalKey {
		deviceID = ""
	}

	raw, err := c.fetcher.Info(ctx, deviceID)
	if err != nil {
		return Entry{Raw: raw}, err
	}

	entry := Entry{
		FetchedAt: c.now(),
		Raw:       raw,
		Parsed:    Parse(raw),
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return entry, nil
}

// Invalidate drops the entry for deviceID
func (c *InfoCache) Invalidate(deviceID string) {
	c.mu.Lock()
	delete(c.entries, cacheKey(deviceID))
	c.mu.Unlock()
}

// Len returns the number of cached entries, fresh or stale
func (c *InfoCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func cacheKey(deviceID string) string {
	if deviceID == "" {
		return GlobalKey
	}
	return deviceID
}
