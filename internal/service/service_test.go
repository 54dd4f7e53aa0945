package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jengzang/geolens-backend-go/internal/analysis/cluster"
	"github.com/jengzang/geolens-backend-go/internal/analysis/heatmap"
	"github.com/jengzang/geolens-backend-go/internal/cache"
	"github.com/jengzang/geolens-backend-go/internal/database"
	"github.com/jengzang/geolens-backend-go/internal/hasher"
	"github.com/jengzang/geolens-backend-go/internal/models"
	"github.com/jengzang/geolens-backend-go/internal/predictor"
	"github.com/jengzang/geolens-backend-go/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func tokyoCluster() []models.PredictionPoint {
	return []models.PredictionPoint{
		{Rank: 1, Latitude: 35.6762, Longitude: 139.6503, Probability: 0.80, City: "Tokyo", Country: "Japan"},
		{Rank: 2, Latitude: 35.6895, Longitude: 139.6917, Probability: 0.70},
		{Rank: 3, Latitude: 35.6590, Longitude: 139.7004, Probability: 0.60},
	}
}

type fakePredictor struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func (f *fakePredictor) Predict(_ context.Context, path, _ string) (*predictor.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[path]++
	if err := f.fail[path]; err != nil {
		return nil, err
	}
	return &predictor.Prediction{Device: "cpu", Predictions: tokyoCluster()}, nil
}

func (f *fakePredictor) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type fixture struct {
	cache      *cache.ResultCache
	predictor  *fakePredictor
	prediction *PredictionService
	heatmap    *HeatmapService
	batch      *BatchService
	dir        string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	db, err := database.OpenAndMigrate(ctx, database.Config{Path: filepath.Join(dir, "test.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := cache.New(repository.NewCacheRepository(db))
	fp := &fakePredictor{fail: map[string]error{}}
	ps := NewPredictionService(c, cluster.New(), hasher.SHA256{}, fp, nil, zap.NewNop())

	engine, err := heatmap.New(heatmap.Options{})
	require.NoError(t, err)

	return &fixture{
		cache:      c,
		predictor:  fp,
		prediction: ps,
		heatmap:    NewHeatmapService(c, engine, nil),
		batch:      NewBatchService(ps, repository.NewBatchRepository(db), BatchConfig{Concurrency: 1, MaxImages: 3}, zap.NewNop()),
		dir:        dir,
	}
}

func (f *fixture) writeImage(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIngestBoostsAndCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	loc, err := f.prediction.Ingest(ctx, "h1", tokyoCluster(), nil, "cpu")
	require.NoError(t, err)
	assert.Equal(t, cache.SourceComputed, loc.Source)
	assert.True(t, loc.Cluster.IsClustered)
	assert.InDelta(t, 0.9438, loc.Result.AIPredictions[0].AdjustedProbability, 1e-3)
	assert.True(t, loc.Result.AIPredictions[2].IsPartOfCluster)
	assert.Equal(t, "Tokyo, Japan", loc.Result.AIPredictions[0].LocationLabel)

	got, err := f.prediction.Get(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, cache.SourceCache, got.Source)
	assert.Equal(t, loc.Cluster, got.Cluster)
}

func TestIngestDifferentContentReplacesCachedResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.prediction.Ingest(ctx, "h1", tokyoCluster(), nil, "cpu")
	require.NoError(t, err)
	_, err = f.prediction.Get(ctx, "h1")
	require.NoError(t, err)

	// equal content keeps the hit count
	_, err = f.prediction.Ingest(ctx, "h1", tokyoCluster(), nil, "cpu")
	require.NoError(t, err)
	stats, err := f.cache.Statistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalHits)

	other := tokyoCluster()
	other[0].Probability = 0.75
	again, err := f.prediction.Ingest(ctx, "h1", other, nil, "cpu")
	require.NoError(t, err)
	assert.Equal(t, cache.SourceComputed, again.Source)
	assert.Equal(t, 0.75, again.Result.AIPredictions[0].Probability)

	got, err := f.prediction.Get(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 0.75, got.Result.AIPredictions[0].Probability)

	stats, err = f.cache.Statistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalEntries)
	assert.EqualValues(t, 1, stats.TotalHits, "reset by the replacement, then one Get")
}

func TestIngestRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := tokyoCluster()
	bad[2].Rank = 4
	_, err := f.prediction.Ingest(ctx, "h1", bad, nil, "cpu")
	assert.ErrorIs(t, err, models.ErrInvalidPredictionSet)

	_, err = f.prediction.Ingest(ctx, "h2", tokyoCluster(), &models.GPSPoint{Latitude: 91}, "cpu")
	assert.ErrorIs(t, err, models.ErrInvalidCoordinate)

	_, err = f.prediction.Get(ctx, "h1")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestLocateCallsPredictorOncePerContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.writeImage(t, "a.jpg", "same bytes")
	b := f.writeImage(t, "b.JPEG", "same bytes")

	first, err := f.prediction.Locate(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, cache.SourceComputed, first.Source)

	second, err := f.prediction.Locate(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, cache.SourceCache, second.Source)
	assert.Equal(t, first.ContentHash, second.ContentHash)
	assert.Equal(t, 1, f.predictor.total())
}

func TestLocateRejectsUnsupportedExtension(t *testing.T) {
	f := newFixture(t)
	_, err := f.prediction.Locate(context.Background(), f.writeImage(t, "notes.txt", "x"))
	assert.ErrorIs(t, err, ErrUnsupportedExtension)
	assert.Zero(t, f.predictor.total())
}

func TestExportRows(t *testing.T) {
	result := &models.ImageResult{
		GPS:           &models.GPSPoint{Latitude: 1, Longitude: 2, Confidence: models.GPSConfidence},
		AIPredictions: tokyoCluster(),
	}
	result.AIPredictions[0].AdjustedProbability = 0.9

	rows := ExportRows("/img/a.jpg", result)
	require.Len(t, rows, 4)
	assert.Equal(t, models.ExportRow{
		ImagePath: "/img/a.jpg", Rank: 0, Source: models.SourceGPS,
		Latitude: 1, Longitude: 2, AdjustedProbability: 1.0, LocationLabel: "GPS",
	}, rows[0])
	assert.Equal(t, 1, rows[1].Rank)
	assert.Equal(t, models.SourceAIPrediction, rows[1].Source)
	assert.Equal(t, 0.9, rows[1].AdjustedProbability)
	assert.Equal(t, "Tokyo, Japan", rows[1].LocationLabel)
}

func TestExportFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.prediction.Ingest(ctx, "h1", tokyoCluster(), nil, "cpu")
	require.NoError(t, err)

	rows, err := f.prediction.Export(ctx, "h1", "a.jpg")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	_, err = f.prediction.Export(ctx, "nope", "a.jpg")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestHeatmapGenerate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.prediction.Ingest(ctx, "h1", tokyoCluster(), nil, "cpu")
	require.NoError(t, err)
	_, err = f.prediction.Ingest(ctx, "h2", tokyoCluster(), &models.GPSPoint{Latitude: 35.68, Longitude: 139.69}, "cpu")
	require.NoError(t, err)

	out, err := f.heatmap.Generate(ctx, []string{"h1", "h2", "h1", "missing"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Images)
	assert.Equal(t, []string{"missing"}, out.Missing)
	assert.Equal(t, 7, out.Stats.Count)
	assert.Equal(t, 1, out.Stats.ExifCount)
	assert.Equal(t, 2.0, out.Stats.MaxWeight)

	require.NotEmpty(t, out.Grid.Hotspots)
	assert.Equal(t, 1.0, out.Grid.Hotspots[0].Intensity)
	assert.InDelta(t, 35.68, out.Grid.Hotspots[0].CentroidLat, 1)

	threshold := 0.3
	loose, err := f.heatmap.Generate(ctx, []string{"h1", "h2"}, &threshold)
	require.NoError(t, err)
	assert.Greater(t, loose.Grid.Hotspots[0].CellCount, out.Grid.Hotspots[0].CellCount)

	bad := 2.0
	_, err = f.heatmap.Generate(ctx, []string{"h1"}, &bad)
	assert.Error(t, err)
}

func TestHeatmapGenerateNothingCached(t *testing.T) {
	f := newFixture(t)
	out, err := f.heatmap.Generate(context.Background(), []string{"a", "b"}, nil)
	require.NoError(t, err)
	assert.Zero(t, out.Images)
	assert.Empty(t, out.Grid.Hotspots)
	assert.Zero(t, out.Stats.Count)
}

func TestBatchRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paths := []string{
		f.writeImage(t, "a.jpg", "image one"),
		f.writeImage(t, "copy.png", "image one"),
		f.writeImage(t, "readme.md", "not an image"),
	}

	job, err := f.batch.Run(ctx, paths)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, job.Status)
	assert.Equal(t, 2, job.ProcessedImages)
	assert.Equal(t, 1, job.FailedImages)
	assert.Equal(t, 1, job.CacheHits)
	assert.Equal(t, 1, f.predictor.total())

	stored, err := f.batch.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, stored.Status)
	require.Len(t, stored.Items, 3)
	assert.False(t, stored.Items[0].FromCache)
	assert.True(t, stored.Items[1].FromCache)
	assert.Equal(t, stored.Items[0].ContentHash, stored.Items[1].ContentHash)
	assert.Equal(t, models.BatchStatusFailed, stored.Items[2].Status)
	assert.Contains(t, stored.Items[2].ErrorMessage, "unsupported")
}

func TestBatchIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	bad := f.writeImage(t, "bad.jpg", "broken")
	good := f.writeImage(t, "good.jpg", "fine")
	f.predictor.fail[bad] = errors.New("model crashed")

	job, err := f.batch.Run(context.Background(), []string{bad, good})
	require.NoError(t, err)
	assert.Equal(t, 1, job.FailedImages)
	assert.Equal(t, 1, job.ProcessedImages)
	assert.Equal(t, models.BatchStatusCompleted, job.Items[1].Status)
}

func TestBatchLimits(t *testing.T) {
	f := newFixture(t)
	_, err := f.batch.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	_, err = f.batch.Run(context.Background(), []string{"1.jpg", "2.jpg", "3.jpg", "4.jpg"})
	assert.ErrorIs(t, err, ErrTooManyImages)
}

func TestBatchCancelledBeforeStart(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, err := f.batch.Run(ctx, []string{f.writeImage(t, "a.jpg", "x")})
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCancelled, job.Status)
	assert.Equal(t, models.BatchStatusCancelled, job.Items[0].Status)
	assert.Zero(t, f.predictor.total())

	stored, err := f.batch.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCancelled, stored.Status)
	assert.Equal(t, models.BatchStatusCancelled, stored.Items[0].Status)
}
