// Package cluster detects geographic agreement among an image's top
// predictions and turns it into a bounded confidence boost.
package cluster

import (
	"fmt"
	"math"

	"github.com/jengzang/geolens-backend-go/internal/models"
	"github.com/jengzang/geolens-backend-go/internal/spatial"
)

// Defaults
const (
	DefaultTopN          = 3
	DefaultThresholdKm   = 100.0
	DefaultMaxBoost      = 0.15
	minClusterCandidates = 2
)

// Analyzer holds the clustering parameters. The zero value is not usable; use New.
type Analyzer struct {
	topN        int
	thresholdKm float64
	maxBoost    float64
}

// Option customizes an Analyzer
type Option func(*Analyzer)

// WithThresholdKm sets the maximum pairwise distance for a cluster.
func WithThresholdKm(km float64) Option {
	return func(a *Analyzer) { a.thresholdKm = km }
}

// New creates an analyzer with the default top-3 / 100 km / 0.15 parameters.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		topN:        DefaultTopN,
		thresholdKm: DefaultThresholdKm,
		maxBoost:    DefaultMaxBoost,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.thresholdKm <= 0 {
		a.thresholdKm = DefaultThresholdKm
	}
	return a
}

// Analyze inspects the top predictions by rank. Fewer than two predictions
// yield a non-clustered outcome with zero boost.
func (a *Analyzer) Analyze(preds []models.PredictionPoint) (models.ClusterOutcome, error) {
	if err := models.ValidatePredictions(preds); err != nil {
		return models.ClusterOutcome{}, fmt.Errorf("failed to analyze predictions: %w", err)
	}
	return a.analyze(preds), nil
}

func (a *Analyzer) analyze(preds []models.PredictionPoint) models.ClusterOutcome {
	top := preds
	if len(top) > a.topN {
		top = top[:a.topN]
	}
	outcome := models.ClusterOutcome{PointsConsidered: len(top)}
	if len(top) < minClusterCandidates {
		return outcome
	}

	points := make([]spatial.Point, len(top))
	for i, p := range top {
		points[i] = spatial.Point{Lat: p.Latitude, Lon: p.Longitude}
	}

	var sum float64
	distances := spatial.PairwiseKm(points)
	for _, d := range distances {
		sum += d
		outcome.MaxPairDistanceKm = math.Max(outcome.MaxPairDistanceKm, d)
	}
	outcome.AvgPairDistanceKm = sum / float64(len(distances))

	// one distant outlier disqualifies the whole group
	if outcome.MaxPairDistanceKm > a.thresholdKm {
		return outcome
	}

	outcome.IsClustered = true
	outcome.ConfidenceBoost = clamp(a.maxBoost*(1-outcome.AvgPairDistanceKm/a.thresholdKm), 0, a.maxBoost)
	c := spatial.Centroid(points)
	outcome.Centroid = &models.LatLon{Latitude: c.Lat, Longitude: c.Lon}
	return outcome
}

// Apply analyzes preds and returns boosted copies. Every prediction gets
// AdjustedProbability = Probability; the top ones additionally receive the
// boost (capped at 1) and IsPartOfCluster when the outcome is clustered.
// The input slice is not modified.
func (a *Analyzer) Apply(preds []models.PredictionPoint) ([]models.PredictionPoint, models.ClusterOutcome, error) {
	if err := models.ValidatePredictions(preds); err != nil {
		return nil, models.ClusterOutcome{}, fmt.Errorf("failed to analyze predictions: %w", err)
	}
	outcome := a.analyze(preds)

	out := make([]models.PredictionPoint, len(preds))
	for i, p := range preds {
		p.AdjustedProbability = p.Probability
		p.IsPartOfCluster = false
		if i < a.topN && outcome.IsClustered {
			p.AdjustedProbability = math.Min(1, p.Probability+outcome.ConfidenceBoost)
			p.IsPartOfCluster = true
		}
		if p.LocationLabel == "" {
			p.LocationLabel = p.Summary()
		}
		out[i] = p
	}
	return out, outcome, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
