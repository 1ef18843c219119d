package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"transkript/internal/artifact"
	"transkript/internal/audio"
	"transkript/internal/config"
	"transkript/internal/httpapi"
	"transkript/internal/notify"
	"transkript/internal/observability"
	"transkript/internal/pipeline"
	"transkript/internal/procrun"
	"transkript/internal/session"
	"transkript/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)

	sessions, err := session.NewManager(cfg.InputRoot, cfg.OutputRoot)
	if err != nil {
		logger.Error("session storage unavailable", "error", err)
		os.Exit(1)
	}

	runner := procrun.Exec{WaitDelay: 5 * time.Second}
	normalizer := audio.New(cfg.FFmpegPath, runner, logger)
	invoker, err := worker.NewProcessInvoker(cfg.WorkerCommand, os.Environ(), cfg.WorkerTimeout,
		worker.WithRunner(runner), worker.WithLogger(logger))
	if err != nil {
		logger.Error("worker command invalid", "error", err)
		os.Exit(1)
	}
	resolver := artifact.NewResolver(logger)

	var pipelineService *pipeline.Service
	metrics := observability.NewMetrics(func() int { return pipelineService.ActiveRuns() })

	opts := []pipeline.Option{pipeline.WithLogger(logger), pipeline.WithRunHook(metrics.RunFinished)}
	if cfg.NatsURL != "" {
		notifier, err := notify.Connect(cfg.NatsURL, cfg.NatsSubject, logger)
		if err != nil {
			logger.Error("nats connect failed", "error", err)
			os.Exit(1)
		}
		defer notifier.Close()
		opts = append(opts, pipeline.WithRunHook(notifier.RunFinished))
	}

	pipelineService = pipeline.New(sessions, normalizer, invoker, resolver, pipeline.Settings{
		SkipTrimming:      cfg.SkipTrimming,
		TrimWindow:        cfg.TrimWindow,
		WorkerNormalize:   cfg.WorkerNormalize,
		MaxConcurrentRuns: cfg.MaxConcurrentRuns,
		QueueTimeout:      cfg.QueueTimeout,
		RunTimeout:        cfg.RunTimeout(),
	}, opts...)

	handler := httpapi.NewServer(cfg, logger, httpapi.Dependencies{
		Pipeline: pipelineService,
		Sessions: sessions,
		Readiness: map[string]httpapi.ReadinessChecker{
			"worker": invoker,
			"ffmpeg": httpapi.CheckerFunc(func(context.Context) error {
				_, err := exec.LookPath(cfg.FFmpegPath)
				return err
			}),
		},
		Metrics:        metrics,
		MetricsHandler: metrics.Handler(),
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Minute,
		// the pipeline gives up at RunTimeout, leaving time to write the error
		WriteTimeout: cfg.RunTimeout() + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", cfg.ListenAddr,
			"worker", invoker.Command(),
			"max_concurrent_runs", cfg.MaxConcurrentRuns,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}
