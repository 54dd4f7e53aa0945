// Package cache implements the content-addressed result cache: an
// in-memory index in front of a durable backend, with at most one
// computation in flight per content hash.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jengzang/geolens-backend-go/internal/metrics"
	"github.com/jengzang/geolens-backend-go/internal/models"
	"github.com/jengzang/geolens-backend-go/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Backend is the durable store. Get and IncrementHits return
// repository.ErrNotFound for unknown hashes.
type Backend interface {
	Get(ctx context.Context, hash string) (*models.CacheEntry, error)
	Upsert(ctx context.Context, entry *models.CacheEntry) (int64, error)
	IncrementHits(ctx context.Context, hash string, at time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context) (models.CacheStats, error)
	Clear(ctx context.Context) (int64, error)
}

// ComputeFunc produces a fresh result for a hash on a cache miss
type ComputeFunc func(ctx context.Context) (*models.ImageResult, error)

// Source tells where a ComputeOrFetch result came from
type Source string

const (
	SourceCache    Source = "cache"
	SourceComputed Source = "computed"
)

// Fetch is the outcome of ComputeOrFetch. Warning carries a non-fatal
// persistence failure, typically a *WriteError.
type Fetch struct {
	Result  *models.ImageResult
	Source  Source
	Shared  bool
	Warning error
}

type flight struct {
	result  *models.ImageResult
	warning error
	cached  bool // found in memory when the flight started
}

// ResultCache is safe for concurrent use
type ResultCache struct {
	backend Backend
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]*models.CacheEntry

	group singleflight.Group
}

// Option configures a ResultCache
type Option func(*ResultCache)

func WithLogger(l *zap.Logger) Option {
	return func(c *ResultCache) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *ResultCache) { c.metrics = m }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(c *ResultCache) { c.now = now }
}

// New creates a cache over backend
func New(backend Backend, opts ...Option) *ResultCache {
	c := &ResultCache{
		backend: backend,
		logger:  zap.NewNop(),
		now:     time.Now,
		entries: make(map[string]*models.CacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("cache")
	return c
}

func (c *ResultCache) memory(hash string) (*models.CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[hash]
	return e, ok
}

// Lookup returns the cached result for hash or ErrCacheMiss. Durable read
// failures are logged and reported as a miss.
func (c *ResultCache) Lookup(ctx context.Context, hash string) (*models.ImageResult, error) {
	entry, ok := c.memory(hash)
	if !ok {
		var err error
		entry, err = c.backend.Get(ctx, hash)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				c.logger.Warn("cache read failed, treating as miss",
					zap.String("content_hash", hash), zap.Error(err))
			}
			c.metrics.CacheRequest(metrics.ResultMiss)
			return nil, ErrCacheMiss
		}
		c.mu.Lock()
		if cur, exists := c.entries[hash]; exists {
			entry = cur
		} else {
			c.entries[hash] = entry
		}
		c.mu.Unlock()
	}

	c.metrics.CacheRequest(metrics.ResultHit)
	c.recordHit(ctx, hash)

	c.mu.RLock()
	result := entry.Result.Clone()
	c.mu.RUnlock()
	return result, nil
}

func (c *ResultCache) recordHit(ctx context.Context, hash string) {
	now := c.now().UTC()
	hits, err := c.backend.IncrementHits(ctx, hash, now)
	if err != nil {
		c.logger.Warn("failed to record cache hit",
			zap.String("content_hash", hash), zap.Error(err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[hash]; ok {
		if err == nil {
			e.HitCount = hits
		} else {
			e.HitCount++
		}
		e.LastAccessedAt = now
	}
}

// Store validates and persists result under hash. Storing equal content
// again only refreshes timestamps; different content overwrites and resets
// the hit count. A durable failure returns *WriteError and leaves the
// in-memory index untouched.
//
// ComputedAt is normalized to UTC (the instant is kept) so that results
// read back from memory and from the durable store compare equal.
func (c *ResultCache) Store(ctx context.Context, hash string, result *models.ImageResult) error {
	if result == nil {
		return fmt.Errorf("nil result for %s", hash)
	}
	r := result.Clone()
	r.ContentHash = hash
	if err := r.Validate(); err != nil {
		return err
	}

	now := c.now().UTC().Truncate(time.Millisecond)
	if r.ComputedAt.IsZero() {
		r.ComputedAt = now
	}
	r.ComputedAt = r.ComputedAt.UTC()

	entry := &models.CacheEntry{
		Key:            hash,
		Result:         *r,
		Fingerprint:    r.Fingerprint(),
		CachedAt:       now,
		LastAccessedAt: now,
	}

	hits, err := c.backend.Upsert(ctx, entry)
	if err != nil {
		c.metrics.CacheWriteError()
		c.logger.Warn("cache write failed",
			zap.String("content_hash", hash), zap.Error(err))
		return &WriteError{Hash: hash, Err: err}
	}
	entry.HitCount = hits

	c.mu.Lock()
	c.entries[hash] = entry
	c.mu.Unlock()
	return nil
}

// ComputeOrFetch returns the cached result for hash, or runs compute once
// no matter how many callers ask for the same hash concurrently. All of
// them receive that single result or its failure. Failures are not cached.
//
// The computation runs detached from ctx so that one caller giving up does
// not fail the others; a cancelled caller returns ctx.Err() immediately.
func (c *ResultCache) ComputeOrFetch(ctx context.Context, hash string, compute ComputeFunc) (*Fetch, error) {
	if result, err := c.Lookup(ctx, hash); err == nil {
		return &Fetch{Result: result, Source: SourceCache}, nil
	}

	ch := c.group.DoChan(hash, func() (val interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				c.metrics.CacheComputation(false)
				c.logger.Error("computation panicked",
					zap.String("content_hash", hash), zap.Any("panic", r))
				val, err = nil, &ComputationError{Hash: hash, Err: fmt.Errorf("panic: %v", r)}
			}
		}()

		// a flight for this hash may have finished after our Lookup
		if e, ok := c.memory(hash); ok {
			c.mu.RLock()
			r := e.Result.Clone()
			c.mu.RUnlock()
			return &flight{result: r, cached: true}, nil
		}

		detached := context.WithoutCancel(ctx)
		result, err := compute(detached)
		if err == nil && result == nil {
			err = errors.New("compute returned no result")
		}
		if err != nil {
			c.metrics.CacheComputation(false)
			c.logger.Warn("computation failed",
				zap.String("content_hash", hash), zap.Error(err))
			return nil, &ComputationError{Hash: hash, Err: err}
		}

		r := result.Clone()
		r.ContentHash = hash
		if err := r.Validate(); err != nil {
			c.metrics.CacheComputation(false)
			return nil, &ComputationError{Hash: hash, Err: err}
		}
		c.metrics.CacheComputation(true)

		f := &flight{result: r}
		if err := c.Store(detached, hash, r); err != nil {
			f.warning = err
		}
		return f, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.metrics.CacheRequest(metrics.ResultShared)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		f := res.Val.(*flight)
		if f.cached {
			c.recordHit(ctx, hash)
			return &Fetch{Result: f.result.Clone(), Source: SourceCache, Shared: res.Shared}, nil
		}
		return &Fetch{
			Result:  f.result.Clone(),
			Source:  SourceComputed,
			Shared:  res.Shared,
			Warning: f.warning,
		}, nil
	}
}

// Statistics reports totals from the durable store
func (c *ResultCache) Statistics(ctx context.Context) (models.CacheStats, error) {
	stats, err := c.backend.Stats(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to get cache statistics: %w", err)
	}
	c.metrics.SetCacheEntries(stats.TotalEntries)
	return stats, nil
}

// EvictOlderThan removes entries cached more than retentionDays ago and
// returns how many durable entries were removed.
func (c *ResultCache) EvictOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 0 {
		return 0, fmt.Errorf("retention days must be non-negative, got %d", retentionDays)
	}
	cutoff := c.now().UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	n, err := c.backend.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to evict cache entries: %w", err)
	}

	c.mu.Lock()
	for hash, e := range c.entries {
		if e.CachedAt.Before(cutoff) {
			delete(c.entries, hash)
		}
	}
	c.mu.Unlock()

	c.logger.Info("evicted cache entries",
		zap.Int64("removed", n), zap.Int("retention_days", retentionDays))
	return n, nil
}

// Clear removes every entry
func (c *ResultCache) Clear(ctx context.Context) (int64, error) {
	n, err := c.backend.Clear(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache: %w", err)
	}
	c.mu.Lock()
	c.entries = make(map[string]*models.CacheEntry)
	c.mu.Unlock()
	c.logger.Info("cache cleared", zap.Int64("removed", n))
	return n, nil
}

// RunEvictionLoop calls EvictOlderThan every interval until ctx is done.
// A non-positive interval returns immediately.
func (c *ResultCache) RunEvictionLoop(ctx context.Context, retentionDays int, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.EvictOlderThan(ctx, retentionDays); err != nil {
				c.logger.Warn("background eviction failed", zap.Error(err))
			}
		}
	}
}
