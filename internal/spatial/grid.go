package spatial

import (
	"fmt"
	"math"
)

// Grid is an equirectangular lat/lon raster. Row 0 is the southernmost band
// and column 0 starts at -180°. Columns wrap around the antimeridian; rows clamp
// at the poles.
type Grid struct {
	Width      int
	Height     int
	Resolution float64 // degrees per cell
}

// NewGrid builds a global grid with the given cell size in degrees.
// The resolution must divide 180 into a whole number of rows.
func NewGrid(resolution float64) (Grid, error) {
	if resolution <= 0 || math.IsNaN(resolution) || resolution > 180 {
		return Grid{}, fmt.Errorf("invalid grid resolution %v", resolution)
	}
	h := 180 / resolution
	if math.Abs(h-math.Round(h)) > 1e-9 {
		return Grid{}, fmt.Errorf("grid resolution %v does not divide 180 degrees", resolution)
	}
	return Grid{
		Width:      int(math.Round(360 / resolution)),
		Height:     int(math.Round(h)),
		Resolution: resolution,
	}, nil
}

// Cells is Width*Height.
func (g Grid) Cells() int { return g.Width * g.Height }

// Index converts (row, col) into a row-major offset.
func (g Grid) Index(row, col int) int { return row*g.Width + col }

// Cell returns the (row, col) containing lat/lon. Longitude 180 falls into
// column 0 (same meridian as -180); latitude 90 falls into the top row.
func (g Grid) Cell(lat, lon float64) (row, col int) {
	col = g.WrapCol(int(math.Floor((lon + 180) / g.Resolution)))
	row = g.ClampRow(int(math.Floor((lat + 90) / g.Resolution)))
	return row, col
}

// CellCenter returns the lat/lon at the middle of cell (row, col).
func (g Grid) CellCenter(row, col int) (lat, lon float64) {
	lat = -90 + (float64(row)+0.5)*g.Resolution
	lon = -180 + (float64(col)+0.5)*g.Resolution
	return lat, lon
}

// WrapCol applies periodic boundaries to a column index.
func (g Grid) WrapCol(col int) int {
	col %= g.Width
	if col < 0 {
		col += g.Width
	}
	return col
}

// ClampRow pins a row index to [0, Height-1].
func (g Grid) ClampRow(row int) int {
	if row < 0 {
		return 0
	}
	if row >= g.Height {
		return g.Height - 1
	}
	return row
}
