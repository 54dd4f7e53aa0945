// Package heatmap rasterizes weighted points onto a global grid, smooths them
// with a Gaussian kernel, normalizes to [0,1] and extracts hotspots.
//
// Longitude wraps at the antimeridian; latitude clamps at the poles, so kernel
// mass that would fall beyond a pole piles up in the edge row. That distortion
// near ±90° is accepted.
package heatmap

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/jengzang/geolens-backend-go/internal/models"
	"github.com/jengzang/geolens-backend-go/internal/spatial"
)

// Defaults
const (
	DefaultResolution = 1.0 // degrees per cell, i.e. a 360x180 grid
	DefaultSigma      = 3.0 // cells
	DefaultThreshold  = 0.7
)

// Options configures an Engine. Zero fields take the defaults.
type Options struct {
	Resolution float64
	Sigma      float64
	Threshold  float64
}

type kernelTap struct {
	dy, dx int
	w      float64
}

// Engine is immutable after New and safe for concurrent use.
type Engine struct {
	grid      spatial.Grid
	sigma     float64
	threshold float64
	kernel    []kernelTap
}

// New validates opts and precomputes the Gaussian kernel.
func New(opts Options) (*Engine, error) {
	if opts.Resolution == 0 {
		opts.Resolution = DefaultResolution
	}
	if opts.Sigma == 0 {
		opts.Sigma = DefaultSigma
	}
	if opts.Threshold == 0 {
		opts.Threshold = DefaultThreshold
	}
	if !(opts.Sigma > 0) || math.IsInf(opts.Sigma, 0) {
		return nil, fmt.Errorf("invalid heatmap sigma %v", opts.Sigma)
	}
	if !(opts.Threshold > 0 && opts.Threshold <= 1) {
		return nil, fmt.Errorf("invalid hotspot threshold %v, want (0,1]", opts.Threshold)
	}
	grid, err := spatial.NewGrid(opts.Resolution)
	if err != nil {
		return nil, err
	}

	return &Engine{
		grid:      grid,
		sigma:     opts.Sigma,
		threshold: opts.Threshold,
		kernel:    gaussianKernel(opts.Sigma),
	}, nil
}

// WithThreshold returns a copy of e that extracts hotspots at threshold.
// The kernel is shared.
func (e *Engine) WithThreshold(threshold float64) (*Engine, error) {
	if !(threshold > 0 && threshold <= 1) {
		return nil, fmt.Errorf("invalid hotspot threshold %v, want (0,1]", threshold)
	}
	out := *e
	out.threshold = threshold
	return &out, nil
}

// gaussianKernel lists every offset within 3σ with weight exp(-d²/2σ²).
func gaussianKernel(sigma float64) []kernelTap {
	cutoff := 3 * sigma
	r := int(math.Ceil(cutoff))
	twoSigma2 := 2 * sigma * sigma

	taps := make([]kernelTap, 0, (2*r+1)*(2*r+1))
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			d2 := float64(dx*dx + dy*dy)
			if d2 > cutoff*cutoff {
				continue
			}
			taps = append(taps, kernelTap{dy: dy, dx: dx, w: math.Exp(-d2 / twoSigma2)})
		}
	}
	return taps
}

// Grid returns the raster geometry.
func (e *Engine) Grid() spatial.Grid { return e.grid }

// Threshold returns the hotspot threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

// Generate builds a fresh grid from points. Any point that fails
// WeightedPoint.Validate rejects the whole call with a *models.ValidationError.
// Empty input yields an all-zero grid and no hotspots.
func (e *Engine) Generate(points []models.WeightedPoint) (*models.HeatmapGrid, error) {
	for i, p := range points {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
	}

	g := e.grid
	cells := make([]float64, g.Cells())

	for _, p := range points {
		row, col := g.Cell(p.Latitude, p.Longitude)
		for _, k := range e.kernel {
			r := g.ClampRow(row + k.dy)
			c := g.WrapCol(col + k.dx)
			cells[g.Index(r, c)] += p.Weight * k.w
		}
	}

	out := &models.HeatmapGrid{
		Width:             g.Width,
		Height:            g.Height,
		ResolutionDegrees: g.Resolution,
		Cells:             cells,
		Hotspots:          []models.HotspotRegion{},
	}

	if len(points) == 0 {
		return out, nil
	}
	peak := floats.Max(cells)
	// divide rather than scale by 1/peak so the peak cell is exactly 1.0
	for i := range cells {
		cells[i] /= peak
	}

	out.Hotspots = e.hotspots(cells)
	return out, nil
}

type gridNode struct {
	row int
	x   int // unwrapped column, may leave [0, Width)
}

// hotspots merges 8-connected cells at or above the threshold, seeding from
// the most intense cell first. Each cell belongs to at most one region.
func (e *Engine) hotspots(cells []float64) []models.HotspotRegion {
	g := e.grid

	var seeds []int
	for i, v := range cells {
		if v >= e.threshold {
			seeds = append(seeds, i)
		}
	}
	sort.Slice(seeds, func(a, b int) bool {
		va, vb := cells[seeds[a]], cells[seeds[b]]
		if va != vb {
			return va > vb
		}
		return seeds[a] < seeds[b]
	})

	visited := make([]bool, len(cells))
	regions := make([]models.HotspotRegion, 0)

	for _, seed := range seeds {
		if visited[seed] {
			continue
		}
		visited[seed] = true

		var (
			points  []spatial.Point
			weights []float64
			peak    float64
		)
		minRow, maxRow := seed/g.Width, seed/g.Width
		minX, maxX := seed%g.Width, seed%g.Width

		queue := []gridNode{{row: seed / g.Width, x: seed % g.Width}}
		for len(queue) > 0 {
			n := queue[0]
			queue = queue[1:]

			v := cells[g.Index(n.row, g.WrapCol(n.x))]
			lat, lon := g.CellCenter(n.row, n.x)
			points = append(points, spatial.Point{Lat: lat, Lon: lon})
			weights = append(weights, v)
			peak = math.Max(peak, v)

			minRow, maxRow = min(minRow, n.row), max(maxRow, n.row)
			minX, maxX = min(minX, n.x), max(maxX, n.x)

			for dy := -1; dy <= 1; dy++ {
				nr := n.row + dy
				if nr < 0 || nr >= g.Height {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					ni := g.Index(nr, g.WrapCol(n.x+dx))
					if visited[ni] || cells[ni] < e.threshold {
						continue
					}
					visited[ni] = true
					queue = append(queue, gridNode{row: nr, x: n.x + dx})
				}
			}
		}

		c := spatial.WeightedCentroid(points, weights)
		c.Lon = spatial.NormalizeLon(c.Lon)
		box := spatial.BoundingBox{
			MinLat: -90 + float64(minRow)*g.Resolution,
			MaxLat: -90 + float64(maxRow+1)*g.Resolution,
			MinLon: -180 + float64(minX)*g.Resolution,
			MaxLon: -180 + float64(maxX+1)*g.Resolution,
		}

		regions = append(regions, models.HotspotRegion{
			CentroidLat:      c.Lat,
			CentroidLon:      c.Lon,
			Intensity:        peak,
			CellCount:        len(points),
			RadiusKmEstimate: box.DiagonalKm() / 2,
			Geohash:          spatial.EncodeGeohash(c.Lat, c.Lon, spatial.HotspotGeohashPrecision),
		})
	}
	return regions
}
