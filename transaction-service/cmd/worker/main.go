package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Br41n7/Securebank/transaction-service/internal/app"
	"github.com/Br41n7/Securebank/transaction-service/internal/config"
	"github.com/Br41n7/Securebank/transaction-service/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Database.Driver == "memory" {
		logger.Error("the worker needs a shared store, set STORE_DRIVER=postgres")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close(context.Background())

	reconciler := worker.NewReconciler(a.Store, a.Engine, cfg.Worker.ReconcileStuckAfter, logger)
	scheduler := worker.NewScheduler(a.Store, a.Engine, logger)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("worker exited", "worker", name, "error", err)
			}
		}()
	}
	run("reconciler", func(ctx context.Context) error { return reconciler.Run(ctx, cfg.Worker.ReconcileInterval) })
	run("scheduler", func(ctx context.Context) error { return scheduler.Run(ctx, cfg.Worker.SchedulerInterval) })

	<-ctx.Done()
	logger.Info("shutting down workers")
	wg.Wait()
}
