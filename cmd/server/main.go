// Package main provides the entry point for the audio preprocess and
// compression service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"audiopress/internal/config"
	"audiopress/internal/media"
	"audiopress/internal/metrics"
	"audiopress/internal/pipeline"
	"audiopress/internal/segment"
	"audiopress/internal/server"
	"audiopress/internal/storage"
	"audiopress/internal/workspace"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Optional .env file; system env and defaults apply when absent.
	_ = godotenv.Load()

	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting audiopress",
		slog.Int("port", cfg.Port),
		slog.String("upload_dir", cfg.UploadDir),
		slog.String("base_url", cfg.BaseURL),
		slog.Int("max_mb", cfg.MaxMB),
		slog.String("output_mode", cfg.OutputMode),
		slog.Int("retention_sec", cfg.RetentionSec),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
	)

	// Initialize storage
	var store storage.Storage
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.UploadDir, cfg.BaseURL, s3Cfg)
		if err != nil {
			return fmt.Errorf("create S3 storage: %w", err)
		}
		store = s3Store
		logger.Info("S3 artifact publication configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
	} else {
		localStore, err := storage.NewLocalStorage(cfg.UploadDir, cfg.BaseURL)
		if err != nil {
			return fmt.Errorf("create local storage: %w", err)
		}
		store = localStore
		logger.Info("local storage configured",
			slog.String("upload_dir", cfg.UploadDir),
		)
	}

	// Initialize pipeline components
	prober := media.NewFFprobeProber(cfg.FFprobePath)
	transcoder := media.NewFFmpegTranscoder(cfg.FFmpegPath)
	planner := segment.NewPlanner(cfg.SegmentWindowSec, logger)
	splitter := segment.NewFFmpegSplitter(cfg.FFmpegPath)
	merger := segment.NewFFmpegMerger(cfg.FFmpegPath)

	orchestrator := pipeline.New(prober, transcoder, planner, splitter, merger, logger,
		pipeline.WithOutputMode(cfg.OutputMode),
		pipeline.WithTranscodeTimeout(time.Duration(cfg.TranscodeTimeoutSec)*time.Second),
		pipeline.WithMaxConcurrentSegments(cfg.MaxConcurrentSegments),
	)

	// Initialize workspace reaper and metrics
	reaper := workspace.NewReaper(logger)
	defer reaper.Stop()

	m := metrics.New()

	// Initialize HTTP handlers and router
	handlers := server.NewHandlers(cfg, orchestrator, store, reaper, m, logger)
	router := server.NewRouter(handlers, m, logger, server.DefaultRouterConfig())

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 600 * time.Second, // Allow for long transcodes
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case err := <-errCh:
		return err
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
