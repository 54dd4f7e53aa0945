package models

import (
	"fmt"
	"math"

	"github.com/jengzang/geolens-backend-go/internal/spatial"
)

// WeightedPoint is one contribution to the heatmap
type WeightedPoint struct {
	Latitude        float64    `json:"latitude"`
	Longitude       float64    `json:"longitude"`
	Weight          float64    `json:"weight"`
	SourceImageHash string     `json:"source_image_hash"`
	SourceKind      SourceKind `json:"source_kind"`
}

// NewWeightedPoint rejects out-of-range coordinates and non-positive weights.
func NewWeightedPoint(lat, lon, weight float64, hash string, kind SourceKind) (WeightedPoint, error) {
	p := WeightedPoint{
		Latitude:        lat,
		Longitude:       lon,
		Weight:          weight,
		SourceImageHash: hash,
		SourceKind:      kind,
	}
	if err := p.Validate(); err != nil {
		return WeightedPoint{}, err
	}
	return p, nil
}

// Validate checks the coordinate range and that the weight is positive and finite.
func (p WeightedPoint) Validate() error {
	if !spatial.ValidLatLon(p.Latitude, p.Longitude) {
		return &ValidationError{
			Field:  "weighted_point",
			Reason: fmt.Sprintf("coordinate (%v, %v) out of range", p.Latitude, p.Longitude),
			kind:   ErrInvalidCoordinate,
		}
	}
	if !(p.Weight > 0) || math.IsInf(p.Weight, 0) {
		return &ValidationError{
			Field:  "weighted_point",
			Reason: fmt.Sprintf("weight %v must be positive and finite", p.Weight),
			kind:   ErrInvalidPredictionSet,
		}
	}
	return nil
}

// HeatmapGrid is a normalized density surface. Cells is row-major,
// Height rows of Width columns, row 0 at -90° and column 0 at -180°.
type HeatmapGrid struct {
	Width             int             `json:"width"`
	Height            int             `json:"height"`
	ResolutionDegrees float64         `json:"resolution_degrees"`
	Cells             []float64       `json:"cells"`
	Hotspots          []HotspotRegion `json:"hotspots"`
}

// At returns the normalized intensity of (row, col).
func (g *HeatmapGrid) At(row, col int) float64 {
	return g.Cells[row*g.Width+col]
}

// HotspotRegion is a connected area of high intensity
type HotspotRegion struct {
	CentroidLat      float64 `json:"centroid_lat"`
	CentroidLon      float64 `json:"centroid_lon"`
	Intensity        float64 `json:"intensity"` // peak normalized intensity
	CellCount        int     `json:"cell_count"`
	RadiusKmEstimate float64 `json:"radius_km_estimate"`
	Geohash          string  `json:"geohash"`
}

// AggregateStats summarizes a WeightedPoint set for display
type AggregateStats struct {
	Count                      int     `json:"count"`
	ExifCount                  int     `json:"exif_count"`
	AICount                    int     `json:"ai_count"`
	AverageWeight              float64 `json:"average_weight"`
	MaxWeight                  float64 `json:"max_weight"`
	ApproximateCoverageAreaKm2 float64 `json:"approximate_coverage_area_km2"`
}
