// Command server starts the watermark-removal submission API.
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

	httpserver "github.com/fairyhunter13/watermark-removal/internal/adapter/httpserver"
	"github.com/fairyhunter13/watermark-removal/internal/adapter/observability"
	asynqadp "github.com/fairyhunter13/watermark-removal/internal/adapter/queue/asynq"
	"github.com/fairyhunter13/watermark-removal/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/watermark-removal/internal/app"
	"github.com/fairyhunter13/watermark-removal/internal/config"
	"github.com/fairyhunter13/watermark-removal/internal/domain"
	"github.com/fairyhunter13/watermark-removal/internal/lifecycle"
	blobs3 "github.com/fairyhunter13/watermark-removal/internal/adapter/blob/s3"
	"github.com/fairyhunter13/watermark-removal/internal/ratelimiter"
	"github.com/fairyhunter13/watermark-removal/internal/usecase"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.SetAppEnv(cfg.AppEnv)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	jobRepo := postgres.NewJobRepo(pool)
	ledgerRepo := postgres.NewLedgerRepo(pool)

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

	submitSvc := usecase.NewSubmitService(jobRepo, ledgerRepo, queueClient, cfg.MaxBatchSize)
	querySvc := usecase.NewJobQueryService(jobRepo)
	cancelSvc := usecase.NewCancelService(jobRepo, ledgerRepo)
	callbackSvc := usecase.NewCallbackService(jobRepo, ledgerRepo, cfg.RetentionDays)

	srv := httpserver.NewServer(cfg, submitSvc, querySvc, cancelSvc, callbackSvc, blobStore)

	var userLimiter *ratelimiter.RedisLuaLimiter
	if redisOpt, err := redis.ParseURL(cfg.RedisURL); err == nil {
		rdb := redis.NewClient(redisOpt)
		userLimiter = ratelimiter.NewRedisLuaLimiter(rdb, pool, nil)
		if err := userLimiter.WarmFromPostgres(ctx); err != nil {
			slog.Warn("rate limiter warm from postgres failed", slog.Any("error", err))
		}
	} else {
		slog.Warn("redis url invalid, per-user rate limiting disabled", slog.Any("error", err))
	}

	descriptor := domain.CapabilitiesDescriptor{
		SchemaVersion: 1,
		Service:       "submitter",
		Build:         domain.BuildInfo{Version: cfg.BuildVersion, Commit: cfg.BuildCommit},
		Endpoints:     []string{"/api/v1/jobs", "/api/v1/jobs/batch", "/api/v1/jobs/upload", "/api/v1/jobs/{id}", "/api/v1/jobs/{id}/download", "/api/v1/platforms"},
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
	ctrl := lifecycle.New("submitter", os.Getenv("RUN_ID"), os.Getenv("HOSTNAME"), descriptor, checks, cfg.RegistryURL, logger)
	ctrl.Start(ctx)
	defer ctrl.Stop()

	handler := app.BuildRouter(cfg, srv, ctrl, jobRepo, userLimiter)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
