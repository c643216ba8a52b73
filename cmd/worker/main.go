// Package main provides the worker application entry point.
// The worker claims queued watermark-removal jobs and runs them through the
// download, probe, transform, and finalize pipeline.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	blobs3 "github.com/fairyhunter13/watermark-removal/internal/adapter/blob/s3"
	"github.com/fairyhunter13/watermark-removal/internal/adapter/cache"
	httpmailer "github.com/fairyhunter13/watermark-removal/internal/adapter/mailer/http"
	"github.com/fairyhunter13/watermark-removal/internal/adapter/observability"
	asynqadp "github.com/fairyhunter13/watermark-removal/internal/adapter/queue/asynq"
	"github.com/fairyhunter13/watermark-removal/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/watermark-removal/internal/config"
	"github.com/fairyhunter13/watermark-removal/internal/domain"
	"github.com/fairyhunter13/watermark-removal/internal/lifecycle"
	"github.com/fairyhunter13/watermark-removal/internal/worker"
	"github.com/fairyhunter13/watermark-removal/internal/worker/download"
	"github.com/fairyhunter13/watermark-removal/internal/worker/transform"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.SetAppEnv(cfg.AppEnv)

	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	jobRepo := postgres.NewJobRepo(pool)
	ledgerRepo := postgres.NewLedgerRepo(pool)

	var notifPrefs domain.NotificationPreferences = postgres.NewNotifPrefsRepo(pool)
	if redisOpt, err := redis.ParseURL(cfg.RedisURL); err == nil {
		notifPrefs = cache.NewNotifPrefsCache(notifPrefs, redis.NewClient(redisOpt))
	} else {
		slog.Warn("redis url invalid, notification preference cache disabled", slog.Any("error", err))
	}

	blobStore, err := blobs3.New(ctx, cfg)
	if err != nil {
		slog.Error("blob store connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	queueClient, err := asynqadp.New(cfg.RedisURL, cfg.QueueName)
	if err != nil {
		slog.Error("queue connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	var mailer domain.Mailer
	if cfg.MailAPIURL != "" {
		mailer = httpmailer.New(cfg.MailAPIURL, cfg.MailAPIKey)
	}

	var inpaint *transform.InpaintClient
	if cfg.InpaintConfigured() {
		inpaint = transform.NewInpaintClient(cfg.InpaintBackendURL, cfg.InpaintTimeout)
	}

	runner := &worker.Runner{
		Jobs:       jobRepo,
		Ledger:     ledgerRepo,
		Blob:       blobStore,
		Mailer:     mailer,
		NotifPrefs: notifPrefs,
		Downloader: download.New(cfg, logger),
		Prober:     &transform.Prober{FFprobePath: cfg.FFprobePath},
		Cropper:    &transform.Cropper{FFmpegPath: cfg.FFmpegPath},
		Inpaint:    inpaint,
		Config:     cfg,
		Logger:     logger,
	}

	workerSrv, err := asynqadp.NewWorker(cfg.RedisURL, cfg.QueueName, cfg.WorkerConcurrency, runner)
	if err != nil {
		slog.Error("asynq worker init failed", slog.Any("error", err))
		os.Exit(1)
	}

	sweeper := &worker.Sweeper{
		Jobs:     jobRepo,
		Queue:    queueClient,
		Logger:   logger,
		Interval: cfg.SweepInterval,
		StaleAge: cfg.StaleJobAge,
	}
	go sweeper.Run(ctx)

	descriptor := domain.CapabilitiesDescriptor{
		SchemaVersion: 1,
		Service:       "worker",
		Build:         domain.BuildInfo{Version: cfg.BuildVersion, Commit: cfg.BuildCommit},
		Features:      cfg.FeatureFlags(),
	}
	checks := []lifecycle.DependencyCheck{
		{
			Name:     "postgres",
			Required: true,
			Probe: func(ctx context.Context) error {
				return pool.Ping(ctx)
			},
		},
	}
	ctrl := lifecycle.New("worker", os.Getenv("RUN_ID"), os.Getenv("HOSTNAME"), descriptor, checks, cfg.RegistryURL, logger)
	ctrl.Start(ctx)
	defer ctrl.Stop()

	slog.Info("starting asynq worker", slog.Int("concurrency", cfg.WorkerConcurrency))
	go func() {
		if err := workerSrv.Start(); err != nil {
			slog.Error("worker error", slog.Any("error", err))
		}
	}()

	slog.Info("worker started successfully, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	workerSrv.Stop()
	slog.Info("worker stopped")
}
