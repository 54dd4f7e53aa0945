package spatial

import (
	"math"

	"github.com/golang/geo/s2"
)

// Constants
const (
	EarthRadiusKm = 6371.0 // Earth's mean radius in kilometers

	// KmPerDegreeLat is the length of one degree of latitude on the mean sphere
	KmPerDegreeLat = EarthRadiusKm * math.Pi / 180
)

// HaversineKm calculates the great-circle distance between two points in
// kilometers using the Haversine formula
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusKm
}

// PairwiseKm returns every pairwise great-circle distance among points, in km.
// The order is (0,1), (0,2), ..., (1,2), ...
func PairwiseKm(points []Point) []float64 {
	if len(points) < 2 {
		return nil
	}
	out := make([]float64, 0, len(points)*(len(points)-1)/2)
	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			out = append(out, HaversineKm(points[i].Lat, points[i].Lon, points[j].Lat, points[j].Lon))
		}
	}
	return out
}

// ValidLatLon reports whether lat/lon are finite and inside [-90,90] x [-180,180].
func ValidLatLon(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
