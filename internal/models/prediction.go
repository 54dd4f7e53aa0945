package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jengzang/geolens-backend-go/internal/spatial"
)

// SourceKind tells where a location came from.
type SourceKind string

const (
	SourceGPS          SourceKind = "GPS"
	SourceAIPrediction SourceKind = "AI"
)

// GPSConfidence is the fixed confidence tag attached to camera GPS.
const GPSConfidence = 1.0

// PredictionPoint is one ranked location guess for an image
type PredictionPoint struct {
	Rank                int     `json:"rank"`
	Latitude            float64 `json:"latitude"`
	Longitude           float64 `json:"longitude"`
	Probability         float64 `json:"probability"`
	AdjustedProbability float64 `json:"adjusted_probability"`
	IsPartOfCluster     bool    `json:"is_part_of_cluster"`

	// Reverse-geocoded labels
	City          string `json:"city,omitempty"`
	State         string `json:"state,omitempty"`
	County        string `json:"county,omitempty"`
	Country       string `json:"country,omitempty"`
	LocationLabel string `json:"location_label"`
}

// Summary returns LocationLabel, or the non-empty admin parts joined with ", ".
func (p PredictionPoint) Summary() string {
	if p.LocationLabel != "" {
		return p.LocationLabel
	}
	parts := make([]string, 0, 4)
	for _, s := range []string{p.City, p.County, p.State, p.Country} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// GPSPoint is camera-embedded GPS
type GPSPoint struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Confidence float64 `json:"confidence"`
}

// NewGPSPoint validates lat/lon and tags the point with GPSConfidence.
func NewGPSPoint(lat, lon float64) (*GPSPoint, error) {
	if !spatial.ValidLatLon(lat, lon) {
		return nil, &ValidationError{
			Field:  "gps",
			Reason: fmt.Sprintf("coordinate (%v, %v) out of range", lat, lon),
			kind:   ErrInvalidCoordinate,
		}
	}
	return &GPSPoint{Latitude: lat, Longitude: lon, Confidence: GPSConfidence}, nil
}

// ImageResult is the full geolocation outcome for one image
type ImageResult struct {
	ContentHash   string            `json:"content_hash"`
	GPS           *GPSPoint         `json:"gps,omitempty"`
	AIPredictions []PredictionPoint `json:"ai_predictions"`
	Device        string            `json:"device"`
	ComputedAt    time.Time         `json:"computed_at"`
}

// Clone returns a deep copy.
func (r *ImageResult) Clone() *ImageResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.GPS != nil {
		gps := *r.GPS
		out.GPS = &gps
	}
	out.AIPredictions = append([]PredictionPoint(nil), r.AIPredictions...)
	return &out
}

// Validate checks the GPS point and the prediction sequence.
func (r *ImageResult) Validate() error {
	if r.GPS != nil && !spatial.ValidLatLon(r.GPS.Latitude, r.GPS.Longitude) {
		return &ValidationError{
			Field:  "gps",
			Reason: fmt.Sprintf("coordinate (%v, %v) out of range", r.GPS.Latitude, r.GPS.Longitude),
			kind:   ErrInvalidCoordinate,
		}
	}
	return ValidatePredictions(r.AIPredictions)
}

// Fingerprint hashes everything that identifies the content of the result,
// i.e. GPS, predictions and device, but not timestamps or the cache key.
func (r *ImageResult) Fingerprint() string {
	payload, _ := json.Marshal(struct {
		GPS         *GPSPoint         `json:"gps"`
		Predictions []PredictionPoint `json:"predictions"`
		Device      string            `json:"device"`
	}{r.GPS, r.AIPredictions, r.Device})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ValidatePredictions enforces ranks 1..N without gaps, probabilities in
// [0,1] that never increase with rank, and in-range coordinates.
func ValidatePredictions(preds []PredictionPoint) error {
	for i, p := range preds {
		field := fmt.Sprintf("predictions[%d]", i)
		if p.Rank != i+1 {
			return &ValidationError{
				Field:  field,
				Reason: fmt.Sprintf("rank %d, want %d", p.Rank, i+1),
				kind:   ErrInvalidPredictionSet,
			}
		}
		if !spatial.ValidLatLon(p.Latitude, p.Longitude) {
			return &ValidationError{
				Field:  field,
				Reason: fmt.Sprintf("coordinate (%v, %v) out of range", p.Latitude, p.Longitude),
				kind:   ErrInvalidCoordinate,
			}
		}
		if !(p.Probability >= 0 && p.Probability <= 1) {
			return &ValidationError{
				Field:  field,
				Reason: fmt.Sprintf("probability %v outside [0,1]", p.Probability),
				kind:   ErrInvalidPredictionSet,
			}
		}
		if !(p.AdjustedProbability >= 0 && p.AdjustedProbability <= 1) {
			return &ValidationError{
				Field:  field,
				Reason: fmt.Sprintf("adjusted probability %v outside [0,1]", p.AdjustedProbability),
				kind:   ErrInvalidPredictionSet,
			}
		}
		if i > 0 && p.Probability > preds[i-1].Probability {
			return &ValidationError{
				Field:  field,
				Reason: fmt.Sprintf("probability %v exceeds rank %d probability %v", p.Probability, i, preds[i-1].Probability),
				kind:   ErrInvalidPredictionSet,
			}
		}
	}
	return nil
}
