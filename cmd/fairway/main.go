package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/hibiken/asynq"

	"github.com/fairway-pms/fairway/internal/app"
	"github.com/fairway-pms/fairway/internal/dailyclose"
	closehttp "github.com/fairway-pms/fairway/internal/dailyclose/http"
	"github.com/fairway-pms/fairway/internal/observability"
	"github.com/fairway-pms/fairway/internal/platform/cache"
	"github.com/fairway-pms/fairway/internal/platform/db"
	"github.com/fairway-pms/fairway/internal/rbac"
	"github.com/fairway-pms/fairway/internal/shared"
	"github.com/fairway-pms/fairway/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
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

	dbpool, err := db.New(ctx, cfg.Postgres("fairway"))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.DataTimeout)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics(cfg.ClubID)

	rbacService := rbac.NewService(dbpool)
	if err := rbacService.EnsurePermissions(ctx, shared.DailyCloseScopes()); err != nil {
		logger.Error("seed permissions", slog.Any("error", err))
		os.Exit(1)
	}
	rbacMiddleware := rbac.Middleware{
		Permissions: rbac.NewPermissionCache(rbacService, cfg.PermissionCacheTTL, time.Now),
		Logger:      logger,
	}

	repo := dailyclose.NewRepository(dbpool, cfg.Location())
	closeService, err := dailyclose.NewService(dailyclose.Config{
		ClubID:            cfg.ClubID,
		Location:          cfg.Location(),
		DataTimeout:       cfg.DataTimeout,
		ClaimTTL:          cfg.CloseClaimTTL,
		NoShowConcurrency: cfg.NoShowConcurrency,
	}, dailyclose.Deps{
		Sources: dailyclose.Sources{Folios: repo, Bookings: repo, Dining: repo},
		Store:   repo,
		Claims:  dailyclose.NewRedisClaimer(redisClient),
		Audit:   shared.NewAuditLogger(dbpool),
		Metrics: dailyclose.NewMetrics(metrics.Registerer()),
		Logger:  logger,
	})
	if err != nil {
		logger.Error("init daily close service", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	closeHandler := closehttp.NewHandler(logger, closeService, rbacMiddleware, jobClient, cfg.ClubID)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		CloseHandler: closeHandler,
		JobHandler:   jobHandler,
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("timezone", cfg.ClubTimezone))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
