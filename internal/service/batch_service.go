package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jengzang/geolens-backend-go/internal/cache"
	"github.com/jengzang/geolens-backend-go/internal/models"
	"github.com/jengzang/geolens-backend-go/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrEmptyBatch    = errors.New("batch has no images")
	ErrTooManyImages = errors.New("batch exceeds the image limit")
)

// Locator resolves one image path to a result
type Locator interface {
	Locate(ctx context.Context, path string) (*Located, error)
}

// BatchConfig bounds batch runs
type BatchConfig struct {
	Concurrency int
	MaxImages   int
}

// BatchService runs multi-image locate jobs
type BatchService struct {
	locator Locator
	repo    *repository.BatchRepository
	cfg     BatchConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewBatchService creates a new batch service
func NewBatchService(locator Locator, repo *repository.BatchRepository, cfg BatchConfig, logger *zap.Logger) *BatchService {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxImages < 1 {
		cfg.MaxImages = 100
	}
	return &BatchService{
		locator: locator,
		repo:    repo,
		cfg:     cfg,
		logger:  logger.Named("batch"),
		now:     time.Now,
	}
}

// Run processes paths with bounded concurrency. One image failing does
// not affect the others. Cancelling ctx stops new images from starting;
// images already running finish and are cached. The returned job is
// completed, or cancelled when ctx ended first.
func (s *BatchService) Run(ctx context.Context, paths []string) (*models.BatchJob, error) {
	if len(paths) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(paths) > s.cfg.MaxImages {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyImages, len(paths), s.cfg.MaxImages)
	}

	// bookkeeping must land even after ctx is cancelled
	persist := context.WithoutCancel(ctx)

	job := &models.BatchJob{
		ID:          uuid.NewString(),
		Status:      models.BatchStatusPending,
		TotalImages: len(paths),
		CreatedAt:   s.now().UTC(),
		Items:       make([]models.BatchItem, len(paths)),
	}
	for i, p := range paths {
		job.Items[i] = models.BatchItem{Position: i, ImagePath: p, Status: models.BatchStatusPending}
	}
	if err := s.repo.Create(persist, job); err != nil {
		return nil, err
	}

	started := s.now().UTC()
	job.StartedAt = &started
	job.Status = models.BatchStatusProcessing
	if err := s.repo.UpdateJob(persist, job); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)

	for i := range job.Items {
		if ctx.Err() != nil {
			mu.Lock()
			for j := i; j < len(job.Items); j++ {
				job.Items[j].Status = models.BatchStatusCancelled
			}
			mu.Unlock()
			break
		}

		i := i
		g.Go(func() error {
			mu.Lock()
			item := job.Items[i]
			mu.Unlock()

			item = s.process(ctx, item)

			mu.Lock()
			job.Items[i] = item
			switch item.Status {
			case models.BatchStatusFailed:
				job.FailedImages++
			case models.BatchStatusCompleted:
				job.ProcessedImages++
				if item.FromCache {
					job.CacheHits++
				}
			}
			snapshot := *job
			mu.Unlock()

			if err := s.repo.UpdateItem(persist, job.ID, item); err != nil {
				s.logger.Warn("failed to save batch item", zap.String("job_id", job.ID), zap.Error(err))
			}
			if err := s.repo.UpdateJob(persist, &snapshot); err != nil {
				s.logger.Warn("failed to save batch progress", zap.String("job_id", job.ID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	completed := s.now().UTC()
	job.CompletedAt = &completed
	job.Status = models.BatchStatusCompleted
	if ctx.Err() != nil {
		job.Status = models.BatchStatusCancelled
		job.ErrorMessage = ctx.Err().Error()
		for _, item := range job.Items {
			if item.Status == models.BatchStatusCancelled {
				if err := s.repo.UpdateItem(persist, job.ID, item); err != nil {
					s.logger.Warn("failed to save batch item", zap.String("job_id", job.ID), zap.Error(err))
				}
			}
		}
	}
	if err := s.repo.UpdateJob(persist, job); err != nil {
		return job, err
	}

	s.logger.Info("batch finished",
		zap.String("job_id", job.ID),
		zap.String("status", job.Status),
		zap.Int("processed", job.ProcessedImages),
		zap.Int("failed", job.FailedImages),
		zap.Int("cache_hits", job.CacheHits))
	return job, nil
}

func (s *BatchService) process(ctx context.Context, item models.BatchItem) models.BatchItem {
	located, err := s.locator.Locate(ctx, item.ImagePath)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		item.Status = models.BatchStatusCancelled
		return item
	}
	if err != nil {
		item.Status = models.BatchStatusFailed
		item.ErrorMessage = err.Error()
		s.logger.Warn("image failed",
			zap.String("path", item.ImagePath), zap.Error(err))
		return item
	}
	item.Status = models.BatchStatusCompleted
	item.ContentHash = located.ContentHash
	item.FromCache = located.Source == cache.SourceCache
	return item
}

// Get returns a job with its items
func (s *BatchService) Get(ctx context.Context, id string) (*models.BatchJob, error) {
	return s.repo.Get(ctx, id)
}

// FailInterrupted marks jobs from a previous process as failed
func (s *BatchService) FailInterrupted(ctx context.Context) error {
	n, err := s.repo.FailInterrupted(ctx, s.now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("marked interrupted batch jobs as failed", zap.Int64("jobs", n))
	}
	return nil
}
