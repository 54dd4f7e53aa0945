package spatial

import (
	"math"
)

// Point represents a 2D point with latitude and longitude
type Point struct {
	Lat float64
	Lon float64
}

// Centroid calculates the arithmetic mean of latitudes and longitudes.
// No spherical averaging and no antimeridian handling: only meaningful for
// point sets that are small relative to the Earth and do not straddle ±180°.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}

	var sumLat, sumLon float64
	for _, p := range points {
		sumLat += p.Lat
		sumLon += p.Lon
	}

	return Point{
		Lat: sumLat / float64(len(points)),
		Lon: sumLon / float64(len(points)),
	}
}

// WeightedCentroid calculates the weighted centroid of a set of points
func WeightedCentroid(points []Point, weights []float64) Point {
	if len(points) == 0 {
		return Point{}
	}

	var sumLat, sumLon, sumWeights float64
	for i, p := range points {
		w := 1.0
		if i < len(weights) {
			w = weights[i]
		}
		sumLat += p.Lat * w
		sumLon += p.Lon * w
		sumWeights += w
	}

	if sumWeights == 0 {
		return Centroid(points)
	}

	return Point{
		Lat: sumLat / sumWeights,
		Lon: sumLon / sumWeights,
	}
}

// BoundingBox is an axis-aligned lat/lon box.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Bounds returns the bounding box of points. ok is false for an empty slice.
func Bounds(points []Point) (box BoundingBox, ok bool) {
	if len(points) == 0 {
		return BoundingBox{}, false
	}
	box = BoundingBox{
		MinLat: points[0].Lat, MaxLat: points[0].Lat,
		MinLon: points[0].Lon, MaxLon: points[0].Lon,
	}
	for _, p := range points[1:] {
		box.MinLat = math.Min(box.MinLat, p.Lat)
		box.MaxLat = math.Max(box.MaxLat, p.Lat)
		box.MinLon = math.Min(box.MinLon, p.Lon)
		box.MaxLon = math.Max(box.MaxLon, p.Lon)
	}
	return box, true
}

// FlatAreaKm2 approximates the box area with a flat-Earth projection at the
// box's mid latitude. Display only.
func (b BoundingBox) FlatAreaKm2(meanLat float64) float64 {
	heightKm := (b.MaxLat - b.MinLat) * KmPerDegreeLat
	widthKm := (b.MaxLon - b.MinLon) * KmPerDegreeLat * math.Cos(meanLat*math.Pi/180)
	return math.Abs(heightKm * widthKm)
}

// DiagonalKm is the great-circle distance between the box's SW and NE corners.
func (b BoundingBox) DiagonalKm() float64 {
	return HaversineKm(b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// NormalizeLon maps any longitude into [-180, 180).
func NormalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}
