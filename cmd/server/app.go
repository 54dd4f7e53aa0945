package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jengzang/geolens-backend-go/internal/analysis/cluster"
	"github.com/jengzang/geolens-backend-go/internal/analysis/heatmap"
	"github.com/jengzang/geolens-backend-go/internal/cache"
	"github.com/jengzang/geolens-backend-go/internal/config"
	"github.com/jengzang/geolens-backend-go/internal/database"
	"github.com/jengzang/geolens-backend-go/internal/hasher"
	"github.com/jengzang/geolens-backend-go/internal/logging"
	"github.com/jengzang/geolens-backend-go/internal/metrics"
	"github.com/jengzang/geolens-backend-go/internal/predictor"
	"github.com/jengzang/geolens-backend-go/internal/repository"
	"github.com/jengzang/geolens-backend-go/internal/service"
	"go.uber.org/zap"
)

// app owns every long-lived component. The cache lives exactly as long
// as the app.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *sql.DB
	metrics *metrics.Metrics

	cache      *cache.ResultCache
	predictor  *predictor.Client
	prediction *service.PredictionService
	heatmap    *service.HeatmapService
	batch      *service.BatchService
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}

	db, err := database.OpenAndMigrate(ctx, database.Config{
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	m := metrics.New()
	resultCache := cache.New(repository.NewCacheRepository(db),
		cache.WithLogger(logger), cache.WithMetrics(m))

	engine, err := heatmap.New(heatmap.Options{
		Resolution: cfg.Heatmap.Resolution,
		Sigma:      cfg.Heatmap.Sigma,
		Threshold:  cfg.Heatmap.Threshold,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	client := predictor.NewClient(predictor.ClientConfig{
		BaseURL: cfg.Predictor.URL,
		Timeout: cfg.Predictor.Timeout,
		TopK:    cfg.Predictor.TopK,
		Device:  cfg.Predictor.Device,
	}, logger)

	analyzer := cluster.New(cluster.WithThresholdKm(cfg.Cluster.ThresholdKm))
	prediction := service.NewPredictionService(resultCache, analyzer, hasher.SHA256{},
		client, predictor.NoGPS{}, logger)

	return &app{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		metrics:    m,
		cache:      resultCache,
		predictor:  client,
		prediction: prediction,
		heatmap:    service.NewHeatmapService(resultCache, engine, m),
		batch: service.NewBatchService(prediction, repository.NewBatchRepository(db), service.BatchConfig{
			Concurrency: cfg.Batch.Concurrency,
			MaxImages:   cfg.Batch.MaxImages,
		}, logger),
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}
