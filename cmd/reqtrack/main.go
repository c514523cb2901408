package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/reqtrack/reqtrack/cmd/reqtrack/cli"
	"github.com/reqtrack/reqtrack/internal/app"
	"github.com/reqtrack/reqtrack/internal/audit"
	audithttp "github.com/reqtrack/reqtrack/internal/audit/http"
	"github.com/reqtrack/reqtrack/internal/auth"
	"github.com/reqtrack/reqtrack/internal/observability"
	"github.com/reqtrack/reqtrack/internal/platform/cache"
	"github.com/reqtrack/reqtrack/internal/platform/db"
	"github.com/reqtrack/reqtrack/internal/rbac"
	"github.com/reqtrack/reqtrack/internal/requirements"
	"github.com/reqtrack/reqtrack/internal/shared"
	"github.com/reqtrack/reqtrack/internal/users"
	"github.com/reqtrack/reqtrack/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		jobsCLI := cli.NewJobsCLI(redisOpts)
		code := jobsCLI.Run(ctx, os.Args[2:], os.Stdout, os.Stderr)
		if err := jobsCLI.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
		os.Exit(code)
	}

	if err := run(ctx, cfg, logger, redisOpts); err != nil {
		logger.Error("reqtrack", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger, redisOpts asynq.RedisClientOpt) error {
	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{
		MaxConns:        cfg.PGMaxConns,
		MaxConnLifetime: cfg.PGMaxConnLifetime,
		ApplicationName: "reqtrack",
	})
	if err != nil {
		return err
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	if err := db.Migrate(ctx, dbpool, logger, users.Migrations(), rbac.Migrations()); err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	rbacMetrics := rbac.NewMetrics(metrics.Registerer())

	bus := rbac.NewRedisBus(redisClient, cfg.RBACEventChannel, logger)
	busReady := make(chan struct{})
	go func() {
		if err := bus.Run(ctx, busReady); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("rbac event bus stopped", slog.Any("error", err))
		}
	}()
	select {
	case <-busReady:
	case <-ctx.Done():
		return ctx.Err()
	}

	store := rbac.NewStore(dbpool)
	resolver := rbac.NewResolver(store, rbac.ResolverConfig{
		Logger:      logger,
		Metrics:     rbacMetrics,
		Timeout:     cfg.RBACStoreTimeout,
		Concurrency: cfg.RBACResolveConcurrent,
	})
	registry := rbac.NewRegistry(resolver, bus, store, rbac.ContextOptions{
		Logger:  logger,
		Metrics: rbacMetrics,
		IdleTTL: cfg.SessionTTL,
	})
	defer registry.Close()
	go registry.RunSweeper(ctx, cfg.RBACSweepInterval)

	jobsClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	admin := rbac.NewAdminService(store, bus, rbac.AdminConfig{
		Logger:  logger,
		Metrics: rbacMetrics,
		Audit:   shared.NewAuditLogger(dbpool),
		Legacy:  jobsClient,
	})
	if cfg.RBACSeedOnStart {
		report, err := admin.SeedCatalog(ctx)
		if err != nil {
			return err
		}
		logger.Info("rbac catalog seeded",
			slog.Int("permissions", report.Permissions),
			slog.Any("roles_created", report.RolesCreated),
		)
	}

	rbacMiddleware := rbac.Middleware{Registry: registry, Logger: logger, ReadyTimeout: cfg.RBACReadyTimeout}

	sessionManager := shared.NewSessionManager(redisClient, "reqtrack_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	authService := auth.NewService(auth.NewRepository(dbpool))
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager, registry)

	usersService := users.NewService(users.NewRepository(dbpool), bus, logger)
	usersHandler := users.NewHandler(logger, usersService, rbacMiddleware)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		SessionManager:      sessionManager,
		CSRFManager:         csrfManager,
		Pool:                dbpool,
		AuthHandler:         authHandler,
		RBACHandler:         rbac.NewHandler(logger, admin, rbacMiddleware),
		UsersHandler:        usersHandler,
		RequirementsHandler: requirements.NewHandler(rbacMiddleware),
		JobHandler:          jobs.NewHandler(inspector, logger, rbacMiddleware),
		AuditHandler:        audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool)), rbacMiddleware),
		Metrics:             metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}
