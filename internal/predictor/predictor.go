// Package predictor talks to the external vision model service and defines
// the GPS extraction collaborator.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jengzang/geolens-backend-go/internal/models"
	"go.uber.org/zap"
)

const (
	MinTopK = 1
	MaxTopK = 20
)

// Predictor returns ranked location guesses for one image
type Predictor interface {
	Predict(ctx context.Context, imagePath, contentHash string) (*Prediction, error)
}

// GPSExtractor reads camera GPS from an image. A nil point with a nil error
// means the image carries no GPS.
type GPSExtractor interface {
	Extract(ctx context.Context, imagePath string) (*models.GPSPoint, error)
}

// NoGPS never finds GPS
type NoGPS struct{}

func (NoGPS) Extract(context.Context, string) (*models.GPSPoint, error) { return nil, nil }

// Prediction is the model output for one image
type Prediction struct {
	Device      string
	Predictions []models.PredictionPoint
	Warnings    []string
}

type inferItem struct {
	Path string `json:"path"`
	MD5  string `json:"md5,omitempty"`
}

type inferRequest struct {
	Items       []inferItem `json:"items"`
	TopK        int         `json:"top_k"`
	Device      string      `json:"device"`
	SkipMissing bool        `json:"skip_missing"`
}

type inferCandidate struct {
	Rank            int     `json:"rank"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	Probability     float64 `json:"probability"`
	City            string  `json:"city"`
	State           string  `json:"state"`
	County          string  `json:"county"`
	Country         string  `json:"country"`
	LocationSummary string  `json:"location_summary"`
}

type inferResult struct {
	Path        string           `json:"path"`
	MD5         string           `json:"md5"`
	Predictions []inferCandidate `json:"predictions"`
	Warnings    []string         `json:"warnings"`
	Error       *string          `json:"error"`
}

type inferResponse struct {
	Device  string        `json:"device"`
	Results []inferResult `json:"results"`
}

// ClientConfig configures Client
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	TopK    int
	Device  string
}

// Client calls the inference service's /infer endpoint
type Client struct {
	baseURL string
	topK    int
	device  string
	http    *http.Client
	logger  *zap.Logger
}

// ClampTopK bounds k to [MinTopK, MaxTopK]
func ClampTopK(k int) int {
	if k < MinTopK {
		return MinTopK
	}
	if k > MaxTopK {
		return MaxTopK
	}
	return k
}

// NewClient creates an inference client
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	device := cfg.Device
	if device == "" {
		device = "auto"
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		topK:    ClampTopK(cfg.TopK),
		device:  device,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("predictor"),
	}
}

// Health reports whether the inference service answers /health
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("inference service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service health returned %d", resp.StatusCode)
	}
	return nil
}

// Predict sends a single-item /infer request
func (c *Client) Predict(ctx context.Context, imagePath, contentHash string) (*Prediction, error) {
	body, err := json.Marshal(inferRequest{
		Items:  []inferItem{{Path: imagePath, MD5: contentHash}},
		TopK:   c.topK,
		Device: c.device,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal infer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/infer", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build infer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("infer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("infer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode infer response: %w", err)
	}
	if len(out.Results) == 0 {
		return nil, errors.New("infer returned no results")
	}

	res := out.Results[0]
	if res.Error != nil && *res.Error != "" {
		return nil, fmt.Errorf("inference failed for image: %s", *res.Error)
	}

	c.logger.Debug("inference complete",
		zap.String("content_hash", contentHash),
		zap.Int("predictions", len(res.Predictions)),
		zap.Duration("elapsed", time.Since(start)))

	return &Prediction{
		Device:      out.Device,
		Predictions: toPoints(res.Predictions),
		Warnings:    res.Warnings,
	}, nil
}

func toPoints(cands []inferCandidate) []models.PredictionPoint {
	points := make([]models.PredictionPoint, 0, len(cands))
	for _, c := range cands {
		points = append(points, models.PredictionPoint{
			Rank:                c.Rank,
			Latitude:            c.Latitude,
			Longitude:           c.Longitude,
			Probability:         c.Probability,
			AdjustedProbability: c.Probability,
			City:                c.City,
			State:               c.State,
			County:              c.County,
			Country:             c.Country,
			LocationLabel:       c.LocationSummary,
		})
	}
	return points
}
