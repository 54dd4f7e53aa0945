package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jengzang/geolens-backend-go/internal/database"
	"github.com/jengzang/geolens-backend-go/internal/models"
)

// BatchRepository handles database operations for batch jobs
type BatchRepository struct {
	db *sql.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *sql.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timeFromNullable(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

// Create inserts a job together with its pending items
func (r *BatchRepository) Create(ctx context.Context, job *models.BatchJob) error {
	return database.Transaction(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO batch_jobs
				(id, status, total_images, processed_images, failed_images, cache_hits,
				 error_message, created_at, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.Status, job.TotalImages, job.ProcessedImages, job.FailedImages, job.CacheHits,
			job.ErrorMessage, job.CreatedAt.UnixMilli(), nullableMillis(job.StartedAt), nullableMillis(job.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert batch job: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO batch_items (job_id, position, image_path, content_hash, status, from_cache, error_message)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare item insert: %w", err)
		}
		defer stmt.Close()

		for _, item := range job.Items {
			if _, err := stmt.ExecContext(ctx, job.ID, item.Position, item.ImagePath,
				item.ContentHash, item.Status, item.FromCache, item.ErrorMessage); err != nil {
				return fmt.Errorf("failed to insert batch item %d: %w", item.Position, err)
			}
		}
		return nil
	})
}

// UpdateJob writes status, counters and timestamps of a job
func (r *BatchRepository) UpdateJob(ctx context.Context, job *models.BatchJob) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE batch_jobs SET
			status = ?, processed_images = ?, failed_images = ?, cache_hits = ?,
			error_message = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		job.Status, job.ProcessedImages, job.FailedImages, job.CacheHits,
		job.ErrorMessage, nullableMillis(job.StartedAt), nullableMillis(job.CompletedAt), job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch job: %w", err)
	}
	return nil
}

// UpdateItem writes the outcome of one image
func (r *BatchRepository) UpdateItem(ctx context.Context, jobID string, item models.BatchItem) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE batch_items SET content_hash = ?, status = ?, from_cache = ?, error_message = ?
		WHERE job_id = ? AND position = ?`,
		item.ContentHash, item.Status, item.FromCache, item.ErrorMessage, jobID, item.Position,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch item: %w", err)
	}
	return nil
}

// Get retrieves a job and its items
func (r *BatchRepository) Get(ctx context.Context, id string) (*models.BatchJob, error) {
	var (
		job                    models.BatchJob
		createdAt              int64
		startedAt, completedAt sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, status, total_images, processed_images, failed_images, cache_hits,
			error_message, created_at, started_at, completed_at
		FROM batch_jobs WHERE id = ?`, id,
	).Scan(&job.ID, &job.Status, &job.TotalImages, &job.ProcessedImages, &job.FailedImages,
		&job.CacheHits, &job.ErrorMessage, &createdAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query batch job: %w", err)
	}
	job.CreatedAt = time.UnixMilli(createdAt).UTC()
	job.StartedAt = timeFromNullable(startedAt)
	job.CompletedAt = timeFromNullable(completedAt)

	rows, err := r.db.QueryContext(ctx, `
		SELECT position, image_path, content_hash, status, from_cache, error_message
		FROM batch_items WHERE job_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.BatchItem
		if err := rows.Scan(&item.Position, &item.ImagePath, &item.ContentHash,
			&item.Status, &item.FromCache, &item.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan batch item: %w", err)
		}
		job.Items = append(job.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batch items: %w", err)
	}
	return &job, nil
}

// FailInterrupted marks jobs left pending or processing by a previous run
// as failed. Returns the number of jobs touched.
func (r *BatchRepository) FailInterrupted(ctx context.Context, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE batch_jobs SET status = ?, error_message = 'interrupted', completed_at = ?
		WHERE status IN (?, ?)`,
		models.BatchStatusFailed, at.UnixMilli(), models.BatchStatusPending, models.BatchStatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
