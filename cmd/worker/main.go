package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/hibiken/asynq"

	"github.com/fairway-pms/fairway/internal/app"
	"github.com/fairway-pms/fairway/internal/dailyclose"
	jobmetrics "github.com/fairway-pms/fairway/internal/jobs"
	"github.com/fairway-pms/fairway/internal/platform/cache"
	"github.com/fairway-pms/fairway/internal/platform/db"
	"github.com/fairway-pms/fairway/internal/shared"
	"github.com/fairway-pms/fairway/jobs"
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

	pool, err := db.New(ctx, cfg.Postgres("fairway-worker"))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	repo := dailyclose.NewRepository(pool, cfg.Location())
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
		Audit:   shared.NewAuditLogger(pool),
		Metrics: dailyclose.NewMetrics(nil),
		Logger:  logger,
	})
	if err != nil {
		logger.Error("init daily close service", slog.Any("error", err))
		os.Exit(1)
	}

	noShowJob := dailyclose.NewNoShowJob(closeService, cfg.ClubID, logger, jobmetrics.NewMetrics(nil))

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskDailyCloseNoShow, Handler: noShowJob.Handle},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.Int("concurrency", cfg.WorkerConcurrency))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
