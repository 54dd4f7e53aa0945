package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jengzang/geolens-backend-go/internal/models"
	"github.com/klauspost/compress/zstd"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

// Encoder and decoder are safe for concurrent EncodeAll/DecodeAll use.
var (
	payloadEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	payloadDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// CacheRepository handles the durable side of the result cache
type CacheRepository struct {
	db *sql.DB
}

// NewCacheRepository creates a new cache repository
func NewCacheRepository(db *sql.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

func encodePayload(result *models.ImageResult) ([]byte, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return payloadEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func decodePayload(blob []byte) (models.ImageResult, error) {
	var result models.ImageResult
	raw, err := payloadDecoder.DecodeAll(blob, nil)
	if err != nil {
		return result, fmt.Errorf("failed to decompress payload: %w", err)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return result, nil
}

// Get retrieves a cache entry by content hash
func (r *CacheRepository) Get(ctx context.Context, hash string) (*models.CacheEntry, error) {
	var (
		blob           []byte
		entry          models.CacheEntry
		cachedAt       int64
		lastAccessedAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT content_hash, payload, fingerprint, hit_count, cached_at, last_accessed_at
		FROM cache_entries WHERE content_hash = ?`, hash,
	).Scan(&entry.Key, &blob, &entry.Fingerprint, &entry.HitCount, &cachedAt, &lastAccessedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cache entry: %w", err)
	}

	result, err := decodePayload(blob)
	if err != nil {
		return nil, err
	}
	entry.Result = result
	entry.CachedAt = time.UnixMilli(cachedAt).UTC()
	entry.LastAccessedAt = time.UnixMilli(lastAccessedAt).UTC()
	return &entry, nil
}

// Upsert writes an entry. The stored hit count survives a rewrite with the
// same fingerprint and is reset to zero when the content changed. The hit
// count after the write is returned.
func (r *CacheRepository) Upsert(ctx context.Context, entry *models.CacheEntry) (int64, error) {
	blob, err := encodePayload(&entry.Result)
	if err != nil {
		return 0, err
	}

	var hits int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO cache_entries
			(content_hash, payload, fingerprint, device, hit_count, cached_at, last_accessed_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (content_hash) DO UPDATE SET
			payload          = excluded.payload,
			hit_count        = CASE WHEN cache_entries.fingerprint = excluded.fingerprint
			                        THEN cache_entries.hit_count ELSE 0 END,
			fingerprint      = excluded.fingerprint,
			device           = excluded.device,
			cached_at        = excluded.cached_at,
			last_accessed_at = excluded.last_accessed_at
		RETURNING hit_count`,
		entry.Key, blob, entry.Fingerprint, entry.Result.Device,
		entry.CachedAt.UnixMilli(), entry.LastAccessedAt.UnixMilli(),
	).Scan(&hits)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return hits, nil
}

// IncrementHits bumps the hit count and access time, returning the new count
func (r *CacheRepository) IncrementHits(ctx context.Context, hash string, at time.Time) (int64, error) {
	var hits int64
	err := r.db.QueryRowContext(ctx, `
		UPDATE cache_entries
		SET hit_count = hit_count + 1, last_accessed_at = ?
		WHERE content_hash = ?
		RETURNING hit_count`, at.UnixMilli(), hash,
	).Scan(&hits)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment hit count: %w", err)
	}
	return hits, nil
}

// DeleteOlderThan removes entries cached before cutoff
func (r *CacheRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE cached_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// Stats returns entry and hit totals
func (r *CacheRepository) Stats(ctx context.Context) (models.CacheStats, error) {
	var stats models.CacheStats
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(hit_count), 0) FROM cache_entries",
	).Scan(&stats.TotalEntries, &stats.TotalHits)
	if err != nil {
		return stats, fmt.Errorf("failed to query cache stats: %w", err)
	}
	if stats.TotalEntries > 0 {
		stats.AverageHits = float64(stats.TotalHits) / float64(stats.TotalEntries)
	}
	return stats, nil
}

// Clear deletes every entry
func (r *CacheRepository) Clear(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM cache_entries")
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
