package firefly

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fivetwenty-io/firefly-mcp/internal/constants"
)

// Static errors for err113 compliance.
var (
	ErrKeyNotFound  = errors.New("key not found")
	ErrEntryExpired = errors.New("entry expired")
)

// CacheEntry is a cached response payload.
type CacheEntry struct {
	Data      []byte    `json:"data"`
	Category  string    `json:"category"`
	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is past its TTL at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Cache is a key/value backend for cached responses.
type Cache interface {
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Set(ctx context.Context, key string, entry *CacheEntry) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Clear(ctx context.Context) error
	Has(ctx context.Context, key string) bool
}

// MemoryCache is an in-process Cache. Expiry is checked lazily on read.
type MemoryCache struct {
	mutex   sync.RWMutex
	entries map[string]*CacheEntry
	maxSize int
}

// NewMemoryCache creates a memory cache holding at most maxSize entries.
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = constants.DefaultCacheSize
	}

	return &MemoryCache{
		entries: make(map[string]*CacheEntry),
		maxSize: maxSize,
	}
}

// Get returns the entry for key. Expired entries are removed and reported
// as ErrEntryExpired.
func (c *MemoryCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	c.mutex.RLock()
	entry, ok := c.entries[key]
	c.mutex.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}

	if entry.Expired(time.Now()) {
		c.mutex.Lock()
		if current, ok := c.entries[key]; ok && current == entry {
			delete(c.entries, key)
		}
		c.mutex.Unlock()

		return nil, fmt.Errorf("%w: %s", ErrEntryExpired, key)
	}

	return entry, nil
}

// Set stores entry under key, evicting the entry closest to expiry when full.
func (c *MemoryCache) Set(ctx context.Context, key string, entry *CacheEntry) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOne()
	}

	c.entries[key] = entry

	return nil
}

// evictOne drops an expired entry if there is one, otherwise the entry that
// expires first. Callers hold the write lock.
func (c *MemoryCache) evictOne() {
	now := time.Now()

	var (
		victim   string
		earliest time.Time
	)

	for key, entry := range c.entries {
		if entry.Expired(now) {
			delete(c.entries, key)

			return
		}

		if victim == "" || entry.ExpiresAt.Before(earliest) {
			victim = key
			earliest = entry.ExpiresAt
		}
	}

	if victim != "" {
		delete(c.entries, victim)
	}
}

// Delete removes key.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.entries, key)

	return nil
}

// DeletePrefix removes every key starting with prefix.
func (c *MemoryCache) DeletePrefix(ctx context.Context, prefix string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}

	return nil
}

// Clear removes every entry.
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[string]*CacheEntry)

	return nil
}

// Has reports whether key holds an unexpired entry.
func (c *MemoryCache) Has(ctx context.Context, key string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, ok := c.entries[key]

	return ok && !entry.Expired(time.Now())
}

// Len returns the number of stored entries, including expired ones not yet
// collected.
func (c *MemoryCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.entries)
}

// Cleanup removes all expired entries.
func (c *MemoryCache) Cleanup() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if entry.Expired(now) {
			delete(c.entries, key)
		}
	}
}

// CacheStats holds cache statistics.
type CacheStats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Sets          int64 `json:"sets"`
	Invalidations int64 `json:"invalidations"`
}

// GetHitRate returns hits / (hits + misses), or 0 with no lookups.
func (s *CacheStats) GetHitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}

	return float64(s.Hits) / float64(total)
}

// CacheManager fronts a Cache with category-scoped invalidation.
//
// Each category has a generation counter that Invalidate bumps. A computed
// value is stored only if its category's generation is unchanged since the
// computation started, so a read that begins after Invalidate returns never
// sees data fetched before it.
type CacheManager struct {
	cache       Cache
	logger      Logger
	mutex       sync.Mutex
	generations map[string]uint64
	epoch       uint64
	stats       CacheStats
}

// NewCacheManager creates a cache manager. A nil cache disables caching.
func NewCacheManager(cache Cache, logger Logger) *CacheManager {
	if cache == nil {
		cache = NewNoOpCache()
	}

	return &CacheManager{
		cache:       cache,
		logger:      loggerOrNop(logger),
		generations: make(map[string]uint64),
	}
}

// GetCacheKey builds "<category>:<action>[:<sorted params>]".
func (m *CacheManager) GetCacheKey(category string, action ActionKind, params map[string]any) string {
	key := category + ":" + string(action)

	if canonical := CanonicalParams(params); canonical != "" {
		key += ":" + canonical
	}

	return key
}

// Get returns cached data for key.
func (m *CacheManager) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := m.lookup(ctx, key)
	if err != nil {
		return nil, err
	}

	return entry.Data, nil
}

func (m *CacheManager) lookup(ctx context.Context, key string) (*CacheEntry, error) {
	entry, err := m.cache.Get(ctx, key)
	if err == nil && entry.Expired(time.Now()) {
		_ = m.cache.Delete(ctx, key)
		err = fmt.Errorf("%w: %s", ErrEntryExpired, key)
	}

	m.mutex.Lock()
	if err != nil {
		m.stats.Misses++
	} else {
		m.stats.Hits++
	}
	m.mutex.Unlock()

	if err != nil {
		return nil, err
	}

	return entry, nil
}

// Set stores data for key unconditionally.
func (m *CacheManager) Set(ctx context.Context, category, key string, data []byte, ttl time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.store(ctx, category, key, data, ttl)
}

// store writes an entry. Callers hold the mutex so the write cannot
// interleave with a generation check.
func (m *CacheManager) store(ctx context.Context, category, key string, data []byte, ttl time.Duration) error {
	now := time.Now()

	err := m.cache.Set(ctx, key, &CacheEntry{
		Data:      data,
		Category:  category,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("storing cache entry: %w", err)
	}

	m.stats.Sets++

	return nil
}

// GetOrCompute returns the cached value for key or computes, stores and
// returns it. The boolean reports a cache hit. Concurrent misses on the same
// key each call compute. Failed or cancelled computations are never stored.
func (m *CacheManager) GetOrCompute(
	ctx context.Context,
	category, key string,
	ttl time.Duration,
	compute func(ctx context.Context) ([]byte, error),
) ([]byte, bool, error) {
	entry, err := m.lookup(ctx, key)
	if err == nil {
		return entry.Data, true, nil
	}

	generation := m.generation(category)

	data, err := compute(ctx)
	if err != nil {
		return nil, false, err
	}

	if ctx.Err() != nil {
		return data, false, nil
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.generationLocked(category) != generation {
		LoggerWithContext(ctx, m.logger).Debug("Discarding result computed before invalidation", map[string]interface{}{
			"category": category,
		})

		return data, false, nil
	}

	storeErr := m.store(ctx, category, key, data, ttl)
	if storeErr != nil {
		LoggerWithContext(ctx, m.logger).Warn("Cache store failed", map[string]interface{}{
			"category": category,
			"error":    storeErr.Error(),
		})
	}

	return data, false, nil
}

func (m *CacheManager) generation(category string) uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.generationLocked(category)
}

// generationLocked combines the global epoch with the category counter.
// Both only grow, so any invalidation changes the sum.
func (m *CacheManager) generationLocked(category string) uint64 {
	return m.epoch + m.generations[category]
}

// Invalidate removes every cached entry of category. The generation bump
// happens under the mutex; backend deletes run outside it so a slow backend
// does not stall reads of other categories.
func (m *CacheManager) Invalidate(ctx context.Context, category string) error {
	m.mutex.Lock()
	m.generations[category]++
	m.stats.Invalidations++
	m.mutex.Unlock()

	err := m.cache.DeletePrefix(ctx, category+":")
	if err != nil {
		return fmt.Errorf("invalidating %s: %w", category, err)
	}

	return nil
}

// InvalidateKey removes a single entry.
func (m *CacheManager) InvalidateKey(ctx context.Context, key string) error {
	category, _, _ := strings.Cut(key, ":")

	m.mutex.Lock()
	m.generations[category]++
	m.stats.Invalidations++
	m.mutex.Unlock()

	err := m.cache.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("invalidating key: %w", err)
	}

	return nil
}

// InvalidateAll clears the backend and every category.
func (m *CacheManager) InvalidateAll(ctx context.Context) error {
	m.mutex.Lock()
	m.epoch++
	m.stats.Invalidations++
	m.mutex.Unlock()

	err := m.cache.Clear(ctx)
	if err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}

	return nil
}

// GetStats returns a copy of the statistics.
func (m *CacheManager) GetStats() CacheStats {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.stats
}

// CachingPolicy decides which reads are cached and for how long.
type CachingPolicy struct {
	// Enabled turns caching on or off globally.
	Enabled bool
	// DefaultTTL applies to cacheable categories without their own TTL.
	DefaultTTL time.Duration
	// TTLOverrides sets per-category TTLs. A positive override also makes
	// a category cacheable.
	TTLOverrides map[string]time.Duration
}

// DefaultCachingPolicy returns the default caching policy.
func DefaultCachingPolicy() *CachingPolicy {
	return &CachingPolicy{
		Enabled:    true,
		DefaultTTL: constants.DefaultCacheTTL,
	}
}

// ShouldCache reports whether action on resource may use the cache.
func (p *CachingPolicy) ShouldCache(resource *Resource, action ActionKind) bool {
	if p == nil || !p.Enabled || !action.IsRead() {
		return false
	}

	if resource.Cacheable {
		return true
	}

	return p.TTLOverrides[resource.Name] > 0
}

// TTLFor returns the TTL for resource.
func (p *CachingPolicy) TTLFor(resource *Resource) time.Duration {
	if ttl := p.TTLOverrides[resource.Name]; ttl > 0 {
		return ttl
	}

	if resource.TTL > 0 {
		return resource.TTL
	}

	if p.DefaultTTL > 0 {
		return p.DefaultTTL
	}

	return constants.DefaultCacheTTL
}
