package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jengzang/geolens-backend-go/internal/api"
	"github.com/jengzang/geolens-backend-go/internal/config"
	"github.com/jengzang/geolens-backend-go/internal/handler"
	"github.com/jengzang/geolens-backend-go/internal/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "geolens",
		Short:         "Image geolocation aggregation, caching and heatmap service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (YAML); GEOLENS_* env vars override")

	cmd.AddCommand(
		newServeCommand(opts),
		newCacheCommand(opts),
		newLocateCommand(opts),
		newTokenCommand(opts),
	)
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.batch.FailInterrupted(ctx); err != nil {
				a.logger.Warn("failed to reset interrupted batches", zap.Error(err))
			}
			if err := a.predictor.Health(ctx); err != nil {
				a.logger.Warn("inference service not reachable, locate requests will fail until it is", zap.Error(err))
			}
			go a.cache.RunEvictionLoop(ctx, a.cfg.Cache.RetentionDays, a.cfg.Cache.SweepInterval)

			router := api.SetupRouter(ctx, a.cfg, a.logger, a.metrics, api.Handlers{
				Images:  handler.NewImageHandler(a.prediction, a.cfg.Server.Mode == "debug"),
				Heatmap: handler.NewHeatmapHandler(a.heatmap),
				Batches: handler.NewBatchHandler(a.batch),
				Cache:   handler.NewCacheHandler(a.cache, a.cfg.Cache.RetentionDays),
			})

			srv := &http.Server{
				Addr:              a.cfg.Server.Port,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("server starting", zap.String("addr", srv.Addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("failed to start server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func newCacheCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the result cache",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.cache.Statistics(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, s)
		},
	}

	var days int
	evict := &cobra.Command{
		Use:   "evict",
		Short: "Remove entries older than --days (default: cache.retention_days)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("days") {
				days = a.cfg.Cache.RetentionDays
			}
			n, err := a.cache.EvictOlderThan(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries older than %d days\n", n, days)
			return nil
		},
	}
	evict.Flags().IntVar(&days, "days", 30, "retention window in days")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cache entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.cache.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", n)
			return nil
		},
	}

	cmd.AddCommand(stats, evict, clearCmd)
	return cmd
}

func newLocateCommand(opts *rootOptions) *cobra.Command {
	var heatmapOut bool
	cmd := &cobra.Command{
		Use:   "locate IMAGE...",
		Short: "Locate images through the cache and the inference service",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := newApp(ctx, opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			job, err := a.batch.Run(ctx, args)
			if err != nil {
				return err
			}
			if !heatmapOut {
				return printJSON(cmd, job)
			}

			hashes := make([]string, 0, len(job.Items))
			for _, item := range job.Items {
				if item.ContentHash != "" {
					hashes = append(hashes, item.ContentHash)
				}
			}
			out, err := a.heatmap.Generate(ctx, hashes, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{
				"job":      job,
				"hotspots": out.Grid.Hotspots,
				"stats":    out.Stats,
			})
		},
	}
	cmd.Flags().BoolVar(&heatmapOut, "heatmap", false, "also print hotspots for the located images")
	return cmd
}

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin bearer token for the cache endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not set; admin endpoints are open")
			}
			token, err := middleware.IssueToken(cfg.Auth.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
