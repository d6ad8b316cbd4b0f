package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"clipmerge/api"
	"clipmerge/config"
	"clipmerge/export"
	"clipmerge/ffmpeg"
	"clipmerge/logging"
	"clipmerge/media"
	"clipmerge/task"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	// 2. Initialize the ffmpeg/ffprobe wrappers
	runner, err := ffmpeg.NewRunner(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize ffmpeg runner", zap.Error(err))
	}
	prober := media.NewProber(cfg.FFProbeBin, cfg.ProbeTimeout, logger)

	// 3. Wire the export pipeline into the task manager
	exporter := export.NewExporter(runner, cfg.Profile(), cfg.TempDir(), cfg.OutputLocation(), logger)
	taskManager, err := task.NewManager(cfg, prober, exporter, runner, logger)
	if err != nil {
		logger.Fatal("failed to initialize task manager", zap.Error(err))
	}

	// 4. Set up router and server
	router := api.SetupRouter(taskManager, runner, cfg, logger)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// 5. Start background services and HTTP server
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	taskManager.Start(ctx)

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("cache_dir", cfg.CacheDir))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// 6. Wait for interrupt signal for graceful shutdown
	<-ctx.Done()

	stop()
	logger.Info("shutting down gracefully, press Ctrl+C again to force")

	// Canceling ctx already stopped any running export; give it, open
	// requests and event streams 5 seconds to drain.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := taskManager.Wait(shutdownCtx); err != nil {
		logger.Error("export did not finish cleanup before shutdown", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exiting")
}
