package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-retail/internal/app"
	"github.com/odyssey-erp/odyssey-retail/internal/observability"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()
	services := app.NewServices(app.ServicesParams{
		Config:  cfg,
		Logger:  logger,
		Pool:    pool,
		Metrics: metrics,
	})

	expireJob := jobs.NewExpireQRJob(services.Payments, logger, metrics)
	driftJob := jobs.NewDriftScanJob(services.Inventory, services.Areas, logger, metrics)

	now := time.Now()
	expireTask, err := jobs.NewExpireQRTask(now)
	if err != nil {
		logger.Error("build expire task", slog.Any("error", err))
		os.Exit(1)
	}
	driftTask, err := jobs.NewDriftScanTask(now)
	if err != nil {
		logger.Error("build drift task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskExpireQR, Handler: expireJob.Handle},
			{Type: jobs.TaskDriftScan, Handler: driftJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/5 * * * *", Task: expireTask, Options: []asynq.Option{asynq.Unique(4 * time.Minute)}},
			{Spec: "17 * * * *", Task: driftTask, Options: []asynq.Option{asynq.Unique(30 * time.Minute)}},
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
