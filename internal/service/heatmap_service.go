package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jengzang/geolens-backend-go/internal/analysis/aggregate"
	"github.com/jengzang/geolens-backend-go/internal/analysis/heatmap"
	"github.com/jengzang/geolens-backend-go/internal/cache"
	"github.com/jengzang/geolens-backend-go/internal/metrics"
	"github.com/jengzang/geolens-backend-go/internal/models"
)

// HeatmapResult is a generated grid with the statistics of its input
type HeatmapResult struct {
	Grid    *models.HeatmapGrid   `json:"grid"`
	Stats   models.AggregateStats `json:"stats"`
	Images  int                   `json:"images"`
	Missing []string              `json:"missing,omitempty"`
}

// HeatmapService aggregates cached results into a heatmap
type HeatmapService struct {
	cache   *cache.ResultCache
	engine  *heatmap.Engine
	metrics *metrics.Metrics
}

// NewHeatmapService creates a new heatmap service
func NewHeatmapService(c *cache.ResultCache, engine *heatmap.Engine, m *metrics.Metrics) *HeatmapService {
	return &HeatmapService{cache: c, engine: engine, metrics: m}
}

// Generate looks up every hash, skipping ones that are not cached, and
// builds the heatmap. A non-nil threshold overrides the engine default.
func (s *HeatmapService) Generate(ctx context.Context, hashes []string, threshold *float64) (*HeatmapResult, error) {
	engine := s.engine
	if threshold != nil && *threshold != engine.Threshold() {
		var err error
		engine, err = engine.WithThreshold(*threshold)
		if err != nil {
			return nil, err
		}
	}

	seen := make(map[string]bool, len(hashes))
	results := make([]models.ImageResult, 0, len(hashes))
	var missing []string
	for _, h := range hashes {
		if seen[h] {
			continue
		}
		seen[h] = true

		r, err := s.cache.Lookup(ctx, h)
		if errors.Is(err, cache.ErrCacheMiss) {
			missing = append(missing, h)
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}

	out, err := s.FromResults(engine, results)
	if err != nil {
		return nil, err
	}
	out.Missing = missing
	return out, nil
}

// FromResults aggregates already-loaded results with engine
func (s *HeatmapService) FromResults(engine *heatmap.Engine, results []models.ImageResult) (*HeatmapResult, error) {
	points, err := aggregate.Collect(results)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate results: %w", err)
	}

	start := time.Now()
	grid, err := engine.Generate(points)
	if err != nil {
		return nil, fmt.Errorf("failed to generate heatmap: %w", err)
	}
	s.metrics.ObserveHeatmap(start)

	return &HeatmapResult{
		Grid:   grid,
		Stats:  aggregate.Statistics(points),
		Images: len(results),
	}, nil
}
