// Package aggregate flattens per-image results into weighted points for the
// multi-image heatmap.
package aggregate

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/jengzang/geolens-backend-go/internal/models"
	"github.com/jengzang/geolens-backend-go/internal/spatial"
)

// GPSWeight makes camera GPS dominate the aggregate.
const GPSWeight = 2.0

// Collect emits one point per GPS fix (weight GPSWeight) and one per AI
// prediction (weight AdjustedProbability / Rank). Predictions whose weight is
// zero contribute nothing and are skipped. Output order is not significant.
func Collect(results []models.ImageResult) ([]models.WeightedPoint, error) {
	out := make([]models.WeightedPoint, 0, len(results)*6)
	for i := range results {
		r := &results[i]
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("failed to collect result %q: %w", r.ContentHash, err)
		}

		if r.GPS != nil {
			wp, err := models.NewWeightedPoint(r.GPS.Latitude, r.GPS.Longitude, GPSWeight, r.ContentHash, models.SourceGPS)
			if err != nil {
				return nil, fmt.Errorf("failed to collect gps of %q: %w", r.ContentHash, err)
			}
			out = append(out, wp)
		}

		for _, p := range r.AIPredictions {
			weight := p.AdjustedProbability / float64(p.Rank)
			if weight == 0 {
				continue
			}
			wp, err := models.NewWeightedPoint(p.Latitude, p.Longitude, weight, r.ContentHash, models.SourceAIPrediction)
			if err != nil {
				return nil, fmt.Errorf("failed to collect rank %d of %q: %w", p.Rank, r.ContentHash, err)
			}
			out = append(out, wp)
		}
	}
	return out, nil
}

// Statistics summarizes points. Coverage is the flat-Earth area of the
// bounding box at the mean latitude and is only meant for display.
func Statistics(points []models.WeightedPoint) models.AggregateStats {
	stats := models.AggregateStats{Count: len(points)}
	if len(points) == 0 {
		return stats
	}

	weights := make([]float64, len(points))
	coords := make([]spatial.Point, len(points))
	var latSum float64
	for i, p := range points {
		weights[i] = p.Weight
		coords[i] = spatial.Point{Lat: p.Latitude, Lon: p.Longitude}
		latSum += p.Latitude
		switch p.SourceKind {
		case models.SourceGPS:
			stats.ExifCount++
		case models.SourceAIPrediction:
			stats.AICount++
		}
	}

	stats.AverageWeight = floats.Sum(weights) / float64(len(weights))
	stats.MaxWeight = floats.Max(weights)
	if box, ok := spatial.Bounds(coords); ok {
		stats.ApproximateCoverageAreaKm2 = box.FlatAreaKm2(latSum / float64(len(points)))
	}
	return stats
}
