package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jengzang/geolens-backend-go/internal/database"
	"github.com/jengzang/geolens-backend-go/internal/models"
	"github.com/jengzang/geolens-backend-go/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// memBackend is an in-memory Backend with failure injection
type memBackend struct {
	mu       sync.Mutex
	entries  map[string]models.CacheEntry
	getErr   error
	writeErr error
	hitErr   error

	// afterMiss runs once, outside the lock, after Get reports not found
	afterMiss func()
}

func newMemBackend() *memBackend {
	return &memBackend{entries: make(map[string]models.CacheEntry)}
}

func (b *memBackend) Get(_ context.Context, hash string) (*models.CacheEntry, error) {
	b.mu.Lock()
	if b.getErr != nil {
		b.mu.Unlock()
		return nil, b.getErr
	}
	e, ok := b.entries[hash]
	hook := b.afterMiss
	if !ok {
		b.afterMiss = nil
	}
	b.mu.Unlock()

	if !ok {
		if hook != nil {
			hook()
		}
		return nil, repository.ErrNotFound
	}
	e.Result = *e.Result.Clone()
	return &e, nil
}

func (b *memBackend) Upsert(_ context.Context, entry *models.CacheEntry) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return 0, b.writeErr
	}
	e := *entry
	e.HitCount = 0
	if old, ok := b.entries[entry.Key]; ok && old.Fingerprint == entry.Fingerprint {
		e.HitCount = old.HitCount
	}
	b.entries[entry.Key] = e
	return e.HitCount, nil
}

func (b *memBackend) IncrementHits(_ context.Context, hash string, at time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hitErr != nil {
		return 0, b.hitErr
	}
	e, ok := b.entries[hash]
	if !ok {
		return 0, repository.ErrNotFound
	}
	e.HitCount++
	e.LastAccessedAt = at
	b.entries[hash] = e
	return e.HitCount, nil
}

func (b *memBackend) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for k, e := range b.entries {
		if e.CachedAt.Before(cutoff) {
			delete(b.entries, k)
			n++
		}
	}
	return n, nil
}

func (b *memBackend) Stats(_ context.Context) (models.CacheStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var s models.CacheStats
	for _, e := range b.entries {
		s.TotalEntries++
		s.TotalHits += e.HitCount
	}
	if s.TotalEntries > 0 {
		s.AverageHits = float64(s.TotalHits) / float64(s.TotalEntries)
	}
	return s, nil
}

func (b *memBackend) Clear(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := int64(len(b.entries))
	b.entries = make(map[string]models.CacheEntry)
	return n, nil
}

func tokyoResult(prob float64) *models.ImageResult {
	return &models.ImageResult{
		AIPredictions: []models.PredictionPoint{
			{Rank: 1, Latitude: 35.6762, Longitude: 139.6503, Probability: prob, AdjustedProbability: prob},
			{Rank: 2, Latitude: 35.6895, Longitude: 139.6917, Probability: prob / 2, AdjustedProbability: prob / 2},
		},
		Device:     "cpu",
		ComputedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStoreLookupRoundTripSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := database.OpenAndMigrate(ctx,
		database.Config{Path: filepath.Join(t.TempDir(), "cache.db")}, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	want := tokyoResult(0.8)
	want.GPS = &models.GPSPoint{Latitude: 35.0, Longitude: 139.0, Confidence: models.GPSConfidence}

	c := New(repository.NewCacheRepository(db))
	require.NoError(t, c.Store(ctx, "h1", want))

	// a fresh cache over the same database reads from durable storage
	fresh := New(repository.NewCacheRepository(db))
	got, err := fresh.Lookup(ctx, "h1")
	require.NoError(t, err)

	want.ContentHash = "h1"
	assert.Equal(t, want, got)

	stats, err := fresh.Statistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalEntries)
	assert.EqualValues(t, 1, stats.TotalHits)
}

func TestStoreNormalizesComputedAtToUTC(t *testing.T) {
	ctx := context.Background()
	db, err := database.OpenAndMigrate(ctx,
		database.Config{Path: filepath.Join(t.TempDir(), "cache.db")}, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	tokyo := time.FixedZone("JST", 9*60*60)
	in := tokyoResult(0.8)
	in.ComputedAt = time.Date(2024, 5, 1, 21, 0, 0, 0, tokyo)

	c := New(repository.NewCacheRepository(db))
	require.NoError(t, c.Store(ctx, "h1", in))
	assert.Equal(t, tokyo, in.ComputedAt.Location(), "caller's value is not modified")

	fromMemory, err := c.Lookup(ctx, "h1")
	require.NoError(t, err)
	fromDisk, err := New(repository.NewCacheRepository(db)).Lookup(ctx, "h1")
	require.NoError(t, err)

	assert.True(t, in.ComputedAt.Equal(fromMemory.ComputedAt))
	assert.Equal(t, time.UTC, fromMemory.ComputedAt.Location())
	assert.Equal(t, fromMemory, fromDisk)
}

func TestLookupMiss(t *testing.T) {
	c := New(newMemBackend())
	_, err := c.Lookup(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestLookupReadFailureIsMiss(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	b := newMemBackend()
	b.getErr = errors.New("disk on fire")
	c := New(b, WithLogger(zap.New(core)))

	_, err := c.Lookup(context.Background(), "h1")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, 1, logs.FilterMessage("cache read failed, treating as miss").Len())
}

func TestStoreRejectsInvalidPredictions(t *testing.T) {
	c := New(newMemBackend())
	bad := tokyoResult(0.8)
	bad.AIPredictions[1].Rank = 3

	err := c.Store(context.Background(), "h1", bad)
	assert.ErrorIs(t, err, models.ErrInvalidPredictionSet)
}

func TestStoreDifferentContentResetsHits(t *testing.T) {
	ctx := context.Background()
	b := newMemBackend()
	c := New(b)

	require.NoError(t, c.Store(ctx, "h1", tokyoResult(0.8)))
	_, err := c.Lookup(ctx, "h1")
	require.NoError(t, err)
	_, err = c.Lookup(ctx, "h1")
	require.NoError(t, err)

	// equal content keeps hits
	require.NoError(t, c.Store(ctx, "h1", tokyoResult(0.8)))
	stats, err := c.Statistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalHits)

	// different content overwrites and resets
	require.NoError(t, c.Store(ctx, "h1", tokyoResult(0.6)))
	stats, err = c.Statistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.TotalHits)

	got, err := c.Lookup(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 0.6, got.AIPredictions[0].Probability)
}

func TestHitBookkeepingFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	b := newMemBackend()
	c := New(b, WithLogger(zap.New(core)))
	require.NoError(t, c.Store(ctx, "h1", tokyoResult(0.8)))

	b.hitErr = errors.New("locked")
	_, err := c.Lookup(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("failed to record cache hit").Len())
}

func TestComputeOrFetchSingleflight(t *testing.T) {
	const callers = 32
	c := New(newMemBackend())

	var calls int32
	release := make(chan struct{})
	compute := func(ctx context.Context) (*models.ImageResult, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return tokyoResult(0.8), nil
	}

	var wg sync.WaitGroup
	results := make([]*Fetch, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.ComputeOrFetch(context.Background(), "h1", compute)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Result, results[i].Result)
	}

	// now cached
	f, err := c.ComputeOrFetch(context.Background(), "h1", compute)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, f.Source)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestComputeOrFetchFailureNotCached(t *testing.T) {
	ctx := context.Background()
	c := New(newMemBackend())

	var calls int32
	boom := errors.New("inference service down")
	failing := func(ctx context.Context) (*models.ImageResult, error) {
		atomic.AddInt32(&calls, 1)
		return nil, boom
	}

	_, err := c.ComputeOrFetch(ctx, "h1", failing)
	var compErr *ComputationError
	require.ErrorAs(t, err, &compErr)
	assert.Equal(t, "h1", compErr.Hash)
	assert.ErrorIs(t, err, boom)

	_, err = c.Lookup(ctx, "h1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	f, err := c.ComputeOrFetch(ctx, "h1", func(ctx context.Context) (*models.ImageResult, error) {
		atomic.AddInt32(&calls, 1)
		return tokyoResult(0.8), nil
	})
	require.NoError(t, err)
	assert.Equal(t, SourceComputed, f.Source)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestComputeOrFetchPanicIsComputationError(t *testing.T) {
	const callers = 8
	ctx := context.Background()
	c := New(newMemBackend())

	var calls int32
	release := make(chan struct{})
	panicking := func(ctx context.Context) (*models.ImageResult, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		panic("boom")
	}

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.ComputeOrFetch(ctx, "h1", panicking)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for _, err := range errs {
		var compErr *ComputationError
		require.ErrorAs(t, err, &compErr)
		assert.Equal(t, "h1", compErr.Hash)
		assert.Contains(t, err.Error(), "panic: boom")
	}

	_, err := c.Lookup(ctx, "h1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	f, err := c.ComputeOrFetch(ctx, "h1", func(ctx context.Context) (*models.ImageResult, error) {
		atomic.AddInt32(&calls, 1)
		return tokyoResult(0.8), nil
	})
	require.NoError(t, err)
	assert.Equal(t, SourceComputed, f.Source)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestComputeOrFetchLateHitCountsAsCache(t *testing.T) {
	ctx := context.Background()
	b := newMemBackend()
	c := New(b)

	// another flight stores the result right after our Lookup missed
	b.afterMiss = func() {
		require.NoError(t, c.Store(ctx, "h1", tokyoResult(0.8)))
	}

	var calls int32
	f, err := c.ComputeOrFetch(ctx, "h1", func(ctx context.Context) (*models.ImageResult, error) {
		atomic.AddInt32(&calls, 1)
		return tokyoResult(0.3), nil
	})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, f.Source)
	assert.Nil(t, f.Warning)
	assert.Equal(t, 0.8, f.Result.AIPredictions[0].Probability)
	assert.Zero(t, atomic.LoadInt32(&calls))

	stats, err := c.Statistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalHits)
}

func TestComputeOrFetchInvalidResult(t *testing.T) {
	c := New(newMemBackend())
	_, err := c.ComputeOrFetch(context.Background(), "h1", func(ctx context.Context) (*models.ImageResult, error) {
		r := tokyoResult(0.8)
		r.AIPredictions[0].Latitude = 120
		return r, nil
	})
	assert.ErrorIs(t, err, models.ErrInvalidCoordinate)

	_, err = c.Lookup(context.Background(), "h1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestComputeOrFetchWriteErrorStillReturnsResult(t *testing.T) {
	ctx := context.Background()
	b := newMemBackend()
	b.writeErr = errors.New("read-only filesystem")
	c := New(b)

	f, err := c.ComputeOrFetch(ctx, "h1", func(ctx context.Context) (*models.ImageResult, error) {
		return tokyoResult(0.8), nil
	})
	require.NoError(t, err)
	require.NotNil(t, f.Result)
	assert.Equal(t, "h1", f.Result.ContentHash)

	var writeErr *WriteError
	require.ErrorAs(t, f.Warning, &writeErr)
	assert.Equal(t, "h1", writeErr.Hash)

	_, err = c.Lookup(ctx, "h1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestComputeOrFetchCallerCancellation(t *testing.T) {
	c := New(newMemBackend())
	release := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.ComputeOrFetch(ctx, "h1", func(ctx context.Context) (*models.ImageResult, error) {
			<-release
			return tokyoResult(0.8), nil
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// the detached computation still completes and is cached
	close(release)
	assert.Eventually(t, func() bool {
		_, err := c.Lookup(context.Background(), "h1")
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestEvictOlderThan(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	c := New(newMemBackend(), WithClock(func() time.Time { return clock }))

	clock = now.Add(-45 * 24 * time.Hour)
	require.NoError(t, c.Store(ctx, "old", tokyoResult(0.8)))
	clock = now.Add(-time.Hour)
	require.NoError(t, c.Store(ctx, "new", tokyoResult(0.7)))
	clock = now

	n, err := c.EvictOlderThan(ctx, 30)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = c.Lookup(ctx, "old")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Lookup(ctx, "new")
	assert.NoError(t, err)

	_, err = c.EvictOlderThan(ctx, -1)
	assert.Error(t, err)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	c := New(newMemBackend())
	require.NoError(t, c.Store(ctx, "a", tokyoResult(0.8)))
	require.NoError(t, c.Store(ctx, "b", tokyoResult(0.8)))

	n, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = c.Lookup(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRunEvictionLoopStopsWithContext(t *testing.T) {
	c := New(newMemBackend())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunEvictionLoop(ctx, 30, 5*time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("eviction loop did not stop")
	}
}
