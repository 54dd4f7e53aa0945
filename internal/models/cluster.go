package models

// ClusterOutcome is the agreement analysis of an image's top predictions.
// ConfidenceBoost is only meaningful when IsClustered is true.
type ClusterOutcome struct {
	IsClustered       bool    `json:"is_clustered"`
	MaxPairDistanceKm float64 `json:"max_pair_distance_km"`
	AvgPairDistanceKm float64 `json:"avg_pair_distance_km"`
	ConfidenceBoost   float64 `json:"confidence_boost"`
	Centroid          *LatLon `json:"centroid,omitempty"`
	PointsConsidered  int     `json:"points_considered"`
}

// LatLon is a bare coordinate pair
type LatLon struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
