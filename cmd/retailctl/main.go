package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-retail/cmd/retailctl/cli"
	"github.com/odyssey-erp/odyssey-retail/internal/app"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/jobs"
	"github.com/odyssey-erp/odyssey-retail/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping retailctl")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(openRuntime)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "retailctl: %v\n", err)
		if errors.Is(err, cli.ErrDriftFound) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func openRuntime(ctx context.Context) (*cli.Runtime, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		return nil, err
	}

	// Commands run without Redis; verification locking is a server concern.
	services := app.NewServices(app.ServicesParams{
		Config: cfg,
		Logger: logger,
		Pool:   pool,
	})
	client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &cli.Runtime{
		Migrate: func(ctx context.Context) ([]string, error) {
			return migrations.Apply(ctx, pool, logger)
		},
		Settler: services.Payments,
		Drift:   jobs.NewDriftScanJob(services.Inventory, services.Areas, logger, nil),
		Enqueue: cli.EnqueueWith(client),
		Close: func() {
			if err := client.Close(); err != nil {
				logger.Warn("jobs client close", slog.Any("error", err))
			}
			pool.Close()
		},
	}, nil
}
