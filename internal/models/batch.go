package models

import "time"

// Batch job status
const (
	BatchStatusPending    = "pending"
	BatchStatusProcessing = "processing"
	BatchStatusCompleted  = "completed"
	BatchStatusCancelled  = "cancelled"
	BatchStatusFailed     = "failed"
)

// BatchJob tracks one multi-image locate run
type BatchJob struct {
	ID              string      `json:"id"`
	Status          string      `json:"status"`
	TotalImages     int         `json:"total_images"`
	ProcessedImages int         `json:"processed_images"`
	FailedImages    int         `json:"failed_images"`
	CacheHits       int         `json:"cache_hits"`
	ErrorMessage    string      `json:"error_message,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	Items           []BatchItem `json:"items,omitempty"`
}

// BatchItem is the per-image outcome inside a batch
type BatchItem struct {
	Position     int    `json:"position"`
	ImagePath    string `json:"image_path"`
	ContentHash  string `json:"content_hash,omitempty"`
	Status       string `json:"status"`
	FromCache    bool   `json:"from_cache"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ExportRow is one flattened line for CSV/PDF/KML exporters
type ExportRow struct {
	ImagePath           string     `json:"image_path"`
	Rank                int        `json:"rank"`
	Source              SourceKind `json:"source"`
	Latitude            float64    `json:"latitude"`
	Longitude           float64    `json:"longitude"`
	AdjustedProbability float64    `json:"adjusted_probability"`
	LocationLabel       string     `json:"location_label"`
}
