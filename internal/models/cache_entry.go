package models

import "time"

// CacheEntry is a cached ImageResult plus bookkeeping
type CacheEntry struct {
	Key            string      `json:"key"`
	Result         ImageResult `json:"result"`
	Fingerprint    string      `json:"fingerprint"`
	HitCount       int64       `json:"hit_count"`
	CachedAt       time.Time   `json:"cached_at"`
	LastAccessedAt time.Time   `json:"last_accessed_at"`
}

// CacheStats summarizes the cache for the settings screen
type CacheStats struct {
	TotalEntries int64   `json:"total_entries"`
	TotalHits    int64   `json:"total_hits"`
	AverageHits  float64 `json:"average_hits"`
}
