package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/reqtrack/reqtrack/internal/app"
	jobmetrics "github.com/reqtrack/reqtrack/internal/jobs"
	"github.com/reqtrack/reqtrack/internal/observability"
	"github.com/reqtrack/reqtrack/internal/platform/cache"
	"github.com/reqtrack/reqtrack/internal/platform/db"
	"github.com/reqtrack/reqtrack/internal/rbac"
	"github.com/reqtrack/reqtrack/internal/shared"
	"github.com/reqtrack/reqtrack/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{
		MaxConns:        cfg.PGMaxConns,
		MaxConnLifetime: cfg.PGMaxConnLifetime,
		ApplicationName: "reqtrack-worker",
	})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	rbacMetrics := rbac.NewMetrics(metrics.Registerer())

	// The worker only publishes; API processes own the subscriptions.
	bus := rbac.NewRedisBus(redisClient, cfg.RBACEventChannel, logger)
	admin := rbac.NewAdminService(rbac.NewStore(pool), bus, rbac.AdminConfig{
		Logger:  logger,
		Metrics: rbacMetrics,
		Audit:   shared.NewAuditLogger(pool),
	})
	syncJob := jobs.NewRBACSyncJob(admin, logger, jobmetrics.NewMetrics(metrics.Registerer(), metrics))

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    syncJob.Handlers(),
		Cron: []jobs.CronRegistration{
			{Spec: cfg.CatalogSyncCron, Task: jobs.NewCatalogSyncTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
