// Package app wires the ledger engine and its infrastructure from config.
// Both the API server and the worker binary start from New.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Br41n7/Securebank/shared/events"
	redisClient "github.com/Br41n7/Securebank/shared/redis"
	"github.com/Br41n7/Securebank/transaction-service/internal/audit"
	"github.com/Br41n7/Securebank/transaction-service/internal/command"
	"github.com/Br41n7/Securebank/transaction-service/internal/config"
	"github.com/Br41n7/Securebank/transaction-service/internal/limits"
	"github.com/Br41n7/Securebank/transaction-service/internal/notify"
	"github.com/Br41n7/Securebank/transaction-service/internal/repository"
	"github.com/Br41n7/Securebank/transaction-service/internal/telemetry"
)

type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     repository.Store
	Redis     *redisClient.Client
	Publisher *events.Publisher
	Profiles  *repository.ProfileReadRepository
	Views     *repository.TransactionReadRepository
	Evaluator *limits.Evaluator
	Engine    *command.TransactionCommandService

	closers []func(context.Context) error
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		Environment:  cfg.Telemetry.Environment,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdownTracing)

	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("using in-memory store, state is lost on restart")
		a.Store = repository.NewMemoryStore()
	default:
		db, err := repository.OpenPostgres(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		if err := repository.Migrate(ctx, db, logger); err != nil {
			return nil, err
		}
		a.Store = repository.NewPostgresStore(db)
	}

	a.Redis, err = redisClient.NewClient(ctx, redisClient.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.Redis.Close() })

	a.Publisher = events.NewPublisher(a.Redis.Client)
	a.Profiles = repository.NewProfileReadRepository(a.Store, a.Redis.Client)
	a.Views = repository.NewTransactionReadRepository(a.Store, a.Redis.Client)
	a.Evaluator = limits.NewEvaluator(cfg.Engine.LimitLocation)

	var notifier notify.Notifier = notify.NewStreamNotifier(a.Publisher)
	if cfg.Broker.Kind == "rabbitmq" {
		rabbit, err := notify.DialRabbitMQ(cfg.Broker.RabbitMQURL, cfg.Broker.RabbitMQExchange)
		if err != nil {
			return nil, fmt.Errorf("notification broker: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return rabbit.Close() })
		notifier = rabbit
	}

	a.Engine = command.NewTransactionCommandService(a.Store, a.Profiles, notifier, audit.NewStreamSink(a.Publisher), a.Evaluator,
		command.WithLogger(logger),
		command.WithOTPTTL(cfg.Engine.OTPTTL),
		command.WithFeeAccount(cfg.Engine.FeeAccountID),
		command.WithViewCache(a.Views),
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
