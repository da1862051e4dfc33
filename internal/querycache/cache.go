// Package querycache caches remote query results for one tab: an in-memory layer in front of an
// optional shared backend (Redis). Clear drops both layers; nothing survives a credential swap.
package querycache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/tabconsole/internal/adapter/metrics"
	"github.com/pscheid92/tabconsole/internal/domain"
)

// Backend is the second cache layer, scoped by tab.
type Backend interface {
	Get(ctx context.Context, tabID, key string) ([]byte, bool, error)
	Set(ctx context.Context, tabID, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, tabID, key string) error
	Clear(ctx context.Context, tabID string) error
}

type Cache struct {
	tabID   string
	ttl     time.Duration
	clock   clockwork.Clock
	backend Backend
	metrics *metrics.CacheMetrics

	mu      sync.RWMutex
	entries map[string]entry
	// bumped by Clear; a load started before a Clear never lands in the cache
	generation uint64
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

var _ domain.QueryCache = (*Cache)(nil)

// New creates a tab cache. backend and m may be nil.
func New(tabID string, ttl time.Duration, clock clockwork.Clock, backend Backend, m *metrics.CacheMetrics) *Cache {
	return &Cache{
		tabID:   tabID,
		ttl:     ttl,
		clock:   clock,
		backend: backend,
		metrics: m,
		entries: make(map[string]entry),
	}
}

// Get decodes the cached value for key into dst. Backend failures count as misses.
func (c *Cache) Get(ctx context.Context, key string, dst any) bool {
	if raw, ok := c.getMemory(key); ok {
		c.hit("memory")
		return c.decode(key, raw, dst)
	}
	c.miss("memory")

	if c.backend == nil {
		return false
	}

	gen := c.Generation()
	raw, ok, err := c.backend.Get(ctx, c.tabID, key)
	if err != nil {
		slog.WarnContext(ctx, "Query cache backend GET failed", "tab_id", c.tabID, "key", key, "error", err)
	}
	if err != nil || !ok {
		c.miss("backend")
		return false
	}
	c.hit("backend")

	c.setMemory(gen, key, raw)
	return c.decode(key, raw, dst)
}

func (c *Cache) Set(ctx context.Context, key string, value any) error {
	_, err := c.setIfCurrent(ctx, c.Generation(), key, value)
	return err
}

// Generation identifies the cache contents between two Clears.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// setIfCurrent stores value only while the cache is still at generation gen.
// It reports whether the value was kept.
func (c *Cache) setIfCurrent(ctx context.Context, gen uint64, key string, value any) (bool, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("encode cached %s: %w", key, err)
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return false, nil
	}
	c.entries[key] = entry{value: raw, expiresAt: c.clock.Now().Add(c.ttl)}
	c.mu.Unlock()

	if c.backend == nil {
		return true, nil
	}
	if err := c.backend.Set(ctx, c.tabID, key, raw, c.ttl); err != nil {
		slog.WarnContext(ctx, "Failed to populate query cache backend", "tab_id", c.tabID, "key", key, "error", err)
		return true, nil
	}

	// A Clear that ran while the backend write was in flight may have missed it.
	if c.Generation() != gen {
		if err := c.backend.Delete(ctx, c.tabID, key); err != nil {
			slog.WarnContext(ctx, "Failed to drop cached query after clear", "tab_id", c.tabID, "key", key, "error", err)
		}
		return false, nil
	}
	return true, nil
}

// Invalidate drops one key from both layers.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	if c.backend == nil {
		return nil
	}
	if err := c.backend.Delete(ctx, c.tabID, key); err != nil {
		return fmt.Errorf("invalidate cached %s: %w", key, err)
	}
	return nil
}

// Clear drops every cached result of this tab.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.generation++
	clear(c.entries)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.Clears.Inc()
	}

	if c.backend == nil {
		return nil
	}
	if err := c.backend.Clear(ctx, c.tabID); err != nil {
		return fmt.Errorf("clear query cache backend: %w", err)
	}
	return nil
}

// EvictExpired removes expired in-memory entries and returns how many were dropped.
func (c *Cache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	evicted := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) getMemory(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.clock.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) setMemory(gen uint64, key string, raw []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == gen {
		c.entries[key] = entry{value: raw, expiresAt: c.clock.Now().Add(c.ttl)}
	}
}

func (c *Cache) decode(key string, raw []byte, dst any) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		slog.Warn("Failed to unmarshal cached query result", "tab_id", c.tabID, "key", key, "error", err)
		return false
	}
	return true
}

func (c *Cache) hit(layer string) {
	if c.metrics != nil {
		c.metrics.Hits.WithLabelValues(layer).Inc()
	}
}

func (c *Cache) miss(layer string) {
	if c.metrics != nil {
		c.metrics.Misses.WithLabelValues(layer).Inc()
	}
}

// Fetch returns the cached value for key or loads, caches and returns it.
// A result whose load overlapped a Clear is returned to the caller but not cached.
func Fetch[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (T, error)) (T, error) {
	gen := c.Generation()

	var cached T
	if c.Get(ctx, key, &cached) {
		return cached, nil
	}

	value, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	kept, err := c.setIfCurrent(ctx, gen, key, value)
	if err != nil {
		slog.WarnContext(ctx, "Failed to cache query result", "key", key, "error", err)
	}
	if !kept && err == nil {
		slog.DebugContext(ctx, "Dropping query result loaded across a cache clear", "tab_id", c.tabID, "key", key)
	}
	return value, nil
}
