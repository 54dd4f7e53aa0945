package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jengzang/geolens-backend-go/internal/analysis/cluster"
	"github.com/jengzang/geolens-backend-go/internal/cache"
	"github.com/jengzang/geolens-backend-go/internal/hasher"
	"github.com/jengzang/geolens-backend-go/internal/models"
	"github.com/jengzang/geolens-backend-go/internal/predictor"
	"go.uber.org/zap"
)

// ErrUnsupportedExtension is returned for files that are not images
var ErrUnsupportedExtension = errors.New("unsupported image extension")

var allowedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true,
	".gif": true, ".heic": true, ".webp": true,
}

// CheckImagePath rejects paths whose extension is not an accepted image type
func CheckImagePath(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !allowedExtensions[ext] {
		return fmt.Errorf("%w: %q", ErrUnsupportedExtension, ext)
	}
	return nil
}

// Located is the outcome of resolving one image
type Located struct {
	ContentHash string                `json:"content_hash"`
	Result      *models.ImageResult   `json:"result"`
	Cluster     models.ClusterOutcome `json:"cluster"`
	Source      cache.Source          `json:"source"`
	Shared      bool                  `json:"shared"`
	Warning     error                 `json:"-"`
}

// PredictionService turns raw predictions into cached, cluster-boosted results
type PredictionService struct {
	cache     *cache.ResultCache
	analyzer  *cluster.Analyzer
	hasher    hasher.ContentHasher
	predictor predictor.Predictor
	gps       predictor.GPSExtractor
	logger    *zap.Logger
	now       func() time.Time
}

// NewPredictionService creates a new prediction service. p may be nil when
// only posted predictions are ingested.
func NewPredictionService(c *cache.ResultCache, a *cluster.Analyzer, h hasher.ContentHasher,
	p predictor.Predictor, g predictor.GPSExtractor, logger *zap.Logger) *PredictionService {
	if g == nil {
		g = predictor.NoGPS{}
	}
	return &PredictionService{
		cache:     c,
		analyzer:  a,
		hasher:    h,
		predictor: p,
		gps:       g,
		logger:    logger.Named("prediction"),
		now:       time.Now,
	}
}

// Build validates raw predictions, applies the cluster boost and assembles
// an ImageResult.
func (s *PredictionService) Build(hash string, raw []models.PredictionPoint, gps *models.GPSPoint, device string) (*models.ImageResult, models.ClusterOutcome, error) {
	if gps != nil {
		checked, err := models.NewGPSPoint(gps.Latitude, gps.Longitude)
		if err != nil {
			return nil, models.ClusterOutcome{}, err
		}
		gps = checked
	}

	boosted, outcome, err := s.analyzer.Apply(raw)
	if err != nil {
		return nil, models.ClusterOutcome{}, err
	}

	return &models.ImageResult{
		ContentHash:   hash,
		GPS:           gps,
		AIPredictions: boosted,
		Device:        device,
		ComputedAt:    s.now().UTC(),
	}, outcome, nil
}

func (s *PredictionService) located(hash string, f *cache.Fetch) (*Located, error) {
	outcome, err := s.analyzer.Analyze(f.Result.AIPredictions)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze cached result: %w", err)
	}
	if f.Warning != nil {
		s.logger.Warn("result not persisted", zap.String("content_hash", hash), zap.Error(f.Warning))
	}
	return &Located{
		ContentHash: hash,
		Result:      f.Result,
		Cluster:     outcome,
		Source:      f.Source,
		Shared:      f.Shared,
		Warning:     f.Warning,
	}, nil
}

// Ingest stores predictions computed elsewhere. A submission with different
// content replaces the cached result and resets its hit count; equal content
// only refreshes the timestamps.
func (s *PredictionService) Ingest(ctx context.Context, hash string, raw []models.PredictionPoint, gps *models.GPSPoint, device string) (*Located, error) {
	result, _, err := s.Build(hash, raw, gps, device)
	if err != nil {
		return nil, err
	}

	f := &cache.Fetch{Result: result, Source: cache.SourceComputed}
	if err := s.cache.Store(ctx, hash, result); err != nil {
		var writeErr *cache.WriteError
		if !errors.As(err, &writeErr) {
			return nil, err
		}
		f.Warning = err
	}
	return s.located(hash, f)
}

// Locate hashes the image at path and resolves it through the cache,
// calling the predictor only on a miss.
func (s *PredictionService) Locate(ctx context.Context, path string) (*Located, error) {
	if err := CheckImagePath(path); err != nil {
		return nil, err
	}
	if s.predictor == nil {
		return nil, errors.New("no predictor configured")
	}

	hash, err := s.hasher.HashFile(path)
	if err != nil {
		return nil, err
	}

	f, err := s.cache.ComputeOrFetch(ctx, hash, func(ctx context.Context) (*models.ImageResult, error) {
		gps, err := s.gps.Extract(ctx, path)
		if err != nil {
			s.logger.Warn("gps extraction failed", zap.String("path", path), zap.Error(err))
			gps = nil
		}
		pred, err := s.predictor.Predict(ctx, path, hash)
		if err != nil {
			return nil, err
		}
		for _, w := range pred.Warnings {
			s.logger.Info("predictor warning", zap.String("content_hash", hash), zap.String("warning", w))
		}
		result, _, err := s.Build(hash, pred.Predictions, gps, pred.Device)
		return result, err
	})
	if err != nil {
		return nil, err
	}
	return s.located(hash, f)
}

// Get returns the cached result for hash, or cache.ErrCacheMiss
func (s *PredictionService) Get(ctx context.Context, hash string) (*Located, error) {
	result, err := s.cache.Lookup(ctx, hash)
	if err != nil {
		return nil, err
	}
	return s.located(hash, &cache.Fetch{Result: result, Source: cache.SourceCache})
}

// Export returns flattened rows for a cached result
func (s *PredictionService) Export(ctx context.Context, hash, imagePath string) ([]models.ExportRow, error) {
	result, err := s.cache.Lookup(ctx, hash)
	if err != nil {
		return nil, err
	}
	return ExportRows(imagePath, result), nil
}

// ExportRows flattens a result. The GPS row, if any, comes first with rank 0.
func ExportRows(imagePath string, result *models.ImageResult) []models.ExportRow {
	rows := make([]models.ExportRow, 0, len(result.AIPredictions)+1)
	if result.GPS != nil {
		rows = append(rows, models.ExportRow{
			ImagePath:           imagePath,
			Rank:                0,
			Source:              models.SourceGPS,
			Latitude:            result.GPS.Latitude,
			Longitude:           result.GPS.Longitude,
			AdjustedProbability: models.GPSConfidence,
			LocationLabel:       "GPS",
		})
	}
	for _, p := range result.AIPredictions {
		rows = append(rows, models.ExportRow{
			ImagePath:           imagePath,
			Rank:                p.Rank,
			Source:              models.SourceAIPrediction,
			Latitude:            p.Latitude,
			Longitude:           p.Longitude,
			AdjustedProbability: p.AdjustedProbability,
			LocationLabel:       p.Summary(),
		})
	}
	return rows
}
